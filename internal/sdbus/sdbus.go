// Package sdbus talks to the systemd manager over D-Bus: it subscribes to
// job completion signals, resolves unit state, and inspects the bus's match
// rules so an operator can confirm the subscription took effect.
package sdbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	ManagerName      = "org.freedesktop.systemd1"
	ManagerInterface = ManagerName + ".Manager"
	UnitInterface    = ManagerName + ".Unit"
	SignalJobRemoved = "JobRemoved"

	BusName             = "org.freedesktop.DBus"
	BusPath             = dbus.ObjectPath("/org/freedesktop/DBus")
	PropertiesGet       = BusName + ".Properties.Get"
	DebugStatsInterface = BusName + ".Debug.Stats"
)

// ErrClosed is returned when an operation needs a connection that was closed.
var ErrClosed = errors.New("dbus connection is closed")

// Caller issues one synchronous method call. *dbus.Conn is adapted by ConnCaller;
// tests substitute canned replies.
type Caller interface {
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call
}

// ConnCaller adapts a live connection to Caller.
type ConnCaller struct{ Conn *dbus.Conn }

func (c ConnCaller) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	if c.Conn == nil {
		return &dbus.Call{Destination: dest, Path: path, Method: method, Err: ErrClosed}
	}
	return c.Conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
}

// Connect opens a private connection to the system bus, or to the session
// bus when user is set. The caller owns and must Close it.
func Connect(ctx context.Context, user bool) (*dbus.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	} else {
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", busKind(user), err)
	}
	return conn, nil
}

func busKind(user bool) string {
	if user {
		return "session"
	}
	return "system"
}
