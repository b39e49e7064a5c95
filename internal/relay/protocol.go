// Package relay implements the notification relay: a session-side daemon
// that receives notification requests as system bus signals and forwards
// them to the desktop notification service, replacing earlier notifications
// that carry the same key.
package relay

import (
	"errors"
	"fmt"
	"math"

	"github.com/godbus/dbus/v5"
)

const (
	Interface    = "com.mirfatif.SysDeskNotifD"
	SignalNotify = "Notify"
	ObjectPath   = dbus.ObjectPath("/com/mirfatif/SysDeskNotifD")
)

// Request field names on the wire (a{sv}).
const (
	fieldAppName   = "app_name"
	fieldReplaceID = "replace_id"
	fieldReplaceKy = "replace_old"
	fieldIcon      = "app_icon"
	fieldSummary   = "summary"
	fieldBody      = "body"
	fieldTimeout   = "timeout"
)

// DefaultTimeout lets the notification server pick the expiry.
const DefaultTimeout int32 = -1

// ErrBadRequest marks a signal body that isn't a single a{sv} dictionary.
var ErrBadRequest = errors.New("bad relay request")

// Request is one notification request.
type Request struct {
	AppName string
	// ReplaceID is a notification id to replace; 0 means none.
	ReplaceID uint32
	// ReplaceKey is an opaque caller key; used to find the id to replace
	// when ReplaceID is 0.
	ReplaceKey string
	Icon       string
	Summary    string
	Body       string
	// Timeout in milliseconds: negative for the server default, 0 for never.
	Timeout int32
}

// Encode renders r as the signal's a{sv} body. Empty fields are omitted.
func (r Request) Encode() map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		fieldTimeout: dbus.MakeVariant(r.Timeout),
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = dbus.MakeVariant(v)
		}
	}
	put(fieldAppName, r.AppName)
	put(fieldReplaceKy, r.ReplaceKey)
	put(fieldIcon, r.Icon)
	put(fieldSummary, r.Summary)
	put(fieldBody, r.Body)
	if r.ReplaceID != 0 {
		m[fieldReplaceID] = dbus.MakeVariant(r.ReplaceID)
	}
	return m
}

// FieldError describes one request field that was defaulted.
type FieldError struct {
	Field string
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("bad %s: %v (%T)", e.Field, e.Value, e.Value)
}

// DecodeRequest parses a signal body. A body that isn't exactly one
// dictionary is rejected with ErrBadRequest; individual bad fields are
// defaulted and reported in warnings.
func DecodeRequest(body []any) (req Request, warnings []error, err error) {
	if len(body) != 1 {
		return Request{}, nil, fmt.Errorf("%w: %d arguments", ErrBadRequest, len(body))
	}
	m, ok := body[0].(map[string]dbus.Variant)
	if !ok {
		return Request{}, nil, fmt.Errorf("%w: argument is %T", ErrBadRequest, body[0])
	}

	str := func(key string) string {
		v, ok := m[key]
		if !ok {
			return ""
		}
		s, ok := v.Value().(string)
		if !ok {
			warnings = append(warnings, &FieldError{Field: key, Value: v.Value()})
			return ""
		}
		return s
	}

	req.AppName = str(fieldAppName)
	req.ReplaceKey = str(fieldReplaceKy)
	req.Icon = str(fieldIcon)
	req.Summary = str(fieldSummary)
	req.Body = str(fieldBody)

	req.ReplaceID = 0
	if v, ok := m[fieldReplaceID]; ok {
		n, isInt := toInt64(v.Value())
		if !isInt || n < 0 || n > math.MaxUint32 {
			warnings = append(warnings, &FieldError{Field: fieldReplaceID, Value: v.Value()})
		} else {
			req.ReplaceID = uint32(n)
		}
	}

	req.Timeout = DefaultTimeout
	if v, ok := m[fieldTimeout]; ok {
		n, isInt := toInt64(v.Value())
		switch {
		case !isInt || n > math.MaxInt32:
			warnings = append(warnings, &FieldError{Field: fieldTimeout, Value: v.Value()})
		case n >= 0:
			req.Timeout = int32(n)
		}
	}
	return req, warnings, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case byte:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
