package relay

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Subscribe installs the match rule for Notify signals on conn and returns
// the delivery channel and a function that stops delivery.
func Subscribe(ctx context.Context, conn *dbus.Conn) (<-chan *dbus.Signal, func(), error) {
	err := conn.AddMatchSignalContext(ctx,
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember(SignalNotify),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("add match %s.%s: %w", Interface, SignalNotify, err)
	}
	ch := make(chan *dbus.Signal, 32)
	conn.Signal(ch)
	return ch, func() { conn.RemoveSignal(ch) }, nil
}

// SignalSender emits requests as Notify signals. It is how the watcher
// reaches the relay.
type SignalSender struct {
	Conn *dbus.Conn
}

// Send emits req. Signals carry no reply, so the returned id is always 0 and
// replacement relies on req.ReplaceKey.
func (s SignalSender) Send(_ context.Context, req Request) (uint32, error) {
	if s.Conn == nil {
		return 0, fmt.Errorf("relay: no connection")
	}
	if err := s.Conn.Emit(ObjectPath, Interface+"."+SignalNotify, req.Encode()); err != nil {
		return 0, fmt.Errorf("emit %s.%s: %w", Interface, SignalNotify, err)
	}
	return 0, nil
}
