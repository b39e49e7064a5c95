package sdbus

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ErrMalformedSignal marks a JobRemoved signal whose body doesn't have the
// documented (u, o, s, s) shape.
var ErrMalformedSignal = errors.New("malformed JobRemoved signal")

// JobRemoved is a validated manager job completion.
type JobRemoved struct {
	ID     uint32
	Job    dbus.ObjectPath
	Unit   string
	Result string
}

// IsJobRemoved reports whether sig is the manager's JobRemoved signal.
// Other signals (NameAcquired etc.) share the delivery channel.
func IsJobRemoved(sig *dbus.Signal) bool {
	return sig != nil && sig.Name == ManagerInterface+"."+SignalJobRemoved
}

// ParseJobRemoved validates sig's body. Only the job path and unit name are
// required; the id and result are taken when they have the expected type.
func ParseJobRemoved(sig *dbus.Signal) (JobRemoved, error) {
	if sig == nil {
		return JobRemoved{}, fmt.Errorf("%w: nil signal", ErrMalformedSignal)
	}
	if len(sig.Body) != 4 {
		return JobRemoved{}, fmt.Errorf("%w: %d fields", ErrMalformedSignal, len(sig.Body))
	}
	job, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok {
		return JobRemoved{}, fmt.Errorf("%w: field 1 is %T, want object path", ErrMalformedSignal, sig.Body[1])
	}
	name, ok := sig.Body[2].(string)
	if !ok {
		return JobRemoved{}, fmt.Errorf("%w: field 2 is %T, want string", ErrMalformedSignal, sig.Body[2])
	}
	if name == "" {
		return JobRemoved{}, fmt.Errorf("%w: empty unit name", ErrMalformedSignal)
	}

	ev := JobRemoved{Job: job, Unit: name}
	ev.ID, _ = sig.Body[0].(uint32)
	ev.Result, _ = sig.Body[3].(string)
	return ev, nil
}
