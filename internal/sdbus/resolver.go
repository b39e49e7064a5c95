package sdbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"svcnotify/internal/unit"
)

// State is the unit's state at resolution time.
type State struct {
	Active string
	Sub    string
}

// Resolver reads ActiveState and SubState of a unit. Nothing is cached:
// the state can change between two events for the same unit.
type Resolver struct {
	caller Caller
}

func NewResolver(caller Caller) *Resolver { return &Resolver{caller: caller} }

func (r *Resolver) Resolve(ctx context.Context, name string) (State, error) {
	path := unit.ObjectPath(name)

	active, err := r.property(ctx, path, "ActiveState")
	if err != nil {
		return State{}, err
	}
	sub, err := r.property(ctx, path, "SubState")
	if err != nil {
		return State{}, err
	}
	return State{Active: active, Sub: sub}, nil
}

func (r *Resolver) property(ctx context.Context, path dbus.ObjectPath, prop string) (string, error) {
	var v dbus.Variant
	if err := r.caller.Call(ctx, ManagerName, path, PropertiesGet, UnitInterface, prop).Store(&v); err != nil {
		return "", fmt.Errorf("get %s of %s: %w", prop, path, err)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("get %s of %s: unexpected value type %s", prop, path, v.Signature())
	}
	return s, nil
}
