// Package filter decides whether a unit transition is worth a notification
// and renders the message shown for it.
package filter

import (
	"svcnotify/internal/sdbus"
)

// Suppressor is satisfied by *blocklist.Blocklist and *blocklist.Store.
type Suppressor interface {
	IsSuppressed(unit, activeState string) bool
}

// Decision is the outcome for one transition.
type Decision struct {
	Unit       string
	State      sdbus.State
	Message    string
	Suppressed bool
}

// Evaluate applies the blocklist to a resolved transition.
func Evaluate(unit string, st sdbus.State, bl Suppressor) Decision {
	d := Decision{
		Unit:    unit,
		State:   st,
		Message: Message(unit, st),
	}
	if bl != nil {
		d.Suppressed = bl.IsSuppressed(unit, st.Active)
	}
	return d
}

// Message renders "<unit> becomes <active>", adding " (<sub>)" only when the
// sub state says something the active state doesn't.
func Message(unit string, st sdbus.State) string {
	msg := unit + " becomes " + st.Active
	if st.Sub != st.Active {
		msg += " (" + st.Sub + ")"
	}
	return msg
}
