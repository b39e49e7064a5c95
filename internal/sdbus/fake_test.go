package sdbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

type recordedCall struct {
	Dest   string
	Path   dbus.ObjectPath
	Method string
	Args   []any
}

// fakeCaller answers calls from a table keyed by "path method arg0 arg1 ...".
type fakeCaller struct {
	mu      sync.Mutex
	replies map[string][]any
	errs    map[string]error
	calls   []recordedCall
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{replies: map[string][]any{}, errs: map[string]error{}}
}

func callKey(path dbus.ObjectPath, method string, args ...any) string {
	parts := []string{string(path), method}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, " ")
}

func (f *fakeCaller) reply(path dbus.ObjectPath, method string, args []any, body ...any) {
	f.replies[callKey(path, method, args...)] = body
}

func (f *fakeCaller) fail(path dbus.ObjectPath, method string, args []any, err error) {
	f.errs[callKey(path, method, args...)] = err
}

func (f *fakeCaller) Call(_ context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{Dest: dest, Path: path, Method: method, Args: args})

	k := callKey(path, method, args...)
	if err, ok := f.errs[k]; ok {
		return &dbus.Call{Err: err}
	}
	body, ok := f.replies[k]
	if !ok {
		return &dbus.Call{Err: dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject", Body: []any{k}}}
	}
	return &dbus.Call{Body: body}
}
