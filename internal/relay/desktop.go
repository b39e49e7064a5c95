package relay

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"svcnotify/internal/sdbus"
)

const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = notificationsName + ".Notify"
)

// Notification is what gets shown on the desktop.
type Notification struct {
	AppName   string
	ReplaceID uint32
	Icon      string
	Summary   string
	Body      string
	Timeout   int32
}

// Desktop shows a notification and returns its id.
type Desktop interface {
	Notify(ctx context.Context, n Notification) (uint32, error)
}

// BusDesktop calls org.freedesktop.Notifications on the session bus.
type BusDesktop struct {
	caller sdbus.Caller
}

func NewBusDesktop(caller sdbus.Caller) *BusDesktop { return &BusDesktop{caller: caller} }

// Notify issues Notify(susssasa{sv}i). Actions and hints are always empty.
func (d *BusDesktop) Notify(ctx context.Context, n Notification) (uint32, error) {
	var id uint32
	call := d.caller.Call(ctx, notificationsName, notificationsPath, notificationsNotify,
		n.AppName,
		n.ReplaceID,
		n.Icon,
		n.Summary,
		n.Body,
		[]string{},
		map[string]dbus.Variant{},
		n.Timeout,
	)
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("desktop notify: %w", err)
	}
	return id, nil
}
