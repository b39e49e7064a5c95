package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"svcnotify/internal/eventbus"
	logx "svcnotify/pkg/logx"
)

// fakeDesktop hands out increasing ids, honoring ReplaceID the way a
// notification server does.
type fakeDesktop struct {
	mu    sync.Mutex
	next  uint32
	got   []Notification
	err   error
	zeros bool
}

func (d *fakeDesktop) Notify(_ context.Context, n Notification) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, n)
	if d.err != nil {
		return 0, d.err
	}
	if d.zeros {
		return 0, nil
	}
	d.next++
	return d.next, nil
}

func notifySignal(body ...any) *dbus.Signal {
	return &dbus.Signal{Sender: ":1.5", Path: ObjectPath, Name: Interface + "." + SignalNotify, Body: body}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	in := Request{
		AppName:    "svcnotify",
		ReplaceKey: "123|foo.service",
		Icon:       "text-x-systemd-unit",
		Summary:    "Service state changed",
		Body:       "foo.service becomes failed",
		Timeout:    0,
	}
	out, warnings, err := DecodeRequest([]any{in.Encode()})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRequestDefaults(t *testing.T) {
	req, warnings, err := DecodeRequest([]any{map[string]dbus.Variant{}})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, Request{Timeout: DefaultTimeout}, req)
}

func TestDecodeRequestNegativeReplaceID(t *testing.T) {
	req, warnings, err := DecodeRequest([]any{map[string]dbus.Variant{
		"replace_id":  dbus.MakeVariant(int32(-5)),
		"replace_old": dbus.MakeVariant("k"),
		"summary":     dbus.MakeVariant("s"),
	}})
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	var fe *FieldError
	require.ErrorAs(t, warnings[0], &fe)
	assert.Equal(t, "replace_id", fe.Field)
	assert.Zero(t, req.ReplaceID)
	assert.Equal(t, "k", req.ReplaceKey)
	assert.Equal(t, "s", req.Summary)
}

func TestDecodeRequestWrongTypes(t *testing.T) {
	req, warnings, err := DecodeRequest([]any{map[string]dbus.Variant{
		"app_name":   dbus.MakeVariant(uint32(1)),
		"summary":    dbus.MakeVariant([]string{"x"}),
		"replace_id": dbus.MakeVariant("7"),
		"timeout":    dbus.MakeVariant("soon"),
		"body":       dbus.MakeVariant("still delivered"),
	}})
	require.NoError(t, err)
	assert.Len(t, warnings, 4)
	assert.Equal(t, Request{Body: "still delivered", Timeout: DefaultTimeout}, req)
}

func TestDecodeRequestTimeout(t *testing.T) {
	cases := map[string]struct {
		v    any
		want int32
	}{
		"never":    {int32(0), 0},
		"5s":       {uint32(5000), 5000},
		"negative": {int64(-10), DefaultTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req, warnings, err := DecodeRequest([]any{map[string]dbus.Variant{"timeout": dbus.MakeVariant(tc.v)}})
			require.NoError(t, err)
			assert.Empty(t, warnings)
			assert.Equal(t, tc.want, req.Timeout)
		})
	}
}

func TestDecodeRequestBadShape(t *testing.T) {
	for name, body := range map[string][]any{
		"empty":    nil,
		"two":      {map[string]dbus.Variant{}, "x"},
		"not dict": {"hello"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeRequest(body)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

func TestHandleReplacesByKey(t *testing.T) {
	d := &fakeDesktop{}
	r := New(d, logx.Nop(), Options{AppName: "relay"})
	ctx := context.Background()

	id1, err := r.Handle(ctx, Request{ReplaceKey: "k", Summary: "one"})
	require.NoError(t, err)
	id2, err := r.Handle(ctx, Request{ReplaceKey: "k", Summary: "two"})
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len(), "one live entry per key")
	got, ok := r.ID("k")
	require.True(t, ok)
	assert.Equal(t, id2, got)

	require.Len(t, d.got, 2)
	assert.Zero(t, d.got[0].ReplaceID)
	assert.Equal(t, id1, d.got[1].ReplaceID, "second notify must replace the first")
	assert.Equal(t, "relay", d.got[0].AppName)
}

func TestHandleExplicitReplaceIDWins(t *testing.T) {
	d := &fakeDesktop{}
	r := New(d, logx.Nop(), Options{})
	ctx := context.Background()

	_, err := r.Handle(ctx, Request{ReplaceKey: "k"})
	require.NoError(t, err)
	_, err = r.Handle(ctx, Request{ReplaceKey: "k", ReplaceID: 99})
	require.NoError(t, err)

	assert.EqualValues(t, 99, d.got[1].ReplaceID)
}

func TestHandleWithoutKeyRemembersNothing(t *testing.T) {
	d := &fakeDesktop{}
	r := New(d, logx.Nop(), Options{})
	_, err := r.Handle(context.Background(), Request{Summary: "x"})
	require.NoError(t, err)
	assert.Zero(t, r.Len())
}

func TestHandleZeroIDNotStored(t *testing.T) {
	r := New(&fakeDesktop{zeros: true}, logx.Nop(), Options{})
	_, err := r.Handle(context.Background(), Request{ReplaceKey: "k"})
	require.NoError(t, err)
	_, ok := r.ID("k")
	assert.False(t, ok)
}

func TestHandleDesktopFailure(t *testing.T) {
	boom := errors.New("no notification daemon")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	r := New(&fakeDesktop{err: boom}, logx.Nop(), Options{Bus: bus})
	_, err := r.Handle(context.Background(), Request{ReplaceKey: "k"})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len())

	ev := <-events
	assert.Equal(t, eventbus.RelayFailed, ev.Type)
}

func TestHandleRateLimited(t *testing.T) {
	d := &fakeDesktop{}
	r := New(d, logx.Nop(), Options{RatePerSec: 1})

	_, err := r.Handle(context.Background(), Request{})
	require.NoError(t, err)
	_, err = r.Handle(context.Background(), Request{})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, d.got, 1)
}

func TestHandleSignalMalformedIsNotFatal(t *testing.T) {
	d := &fakeDesktop{}
	r := New(d, logx.Nop(), Options{})
	ctx := context.Background()

	r.HandleSignal(ctx, notifySignal("not a dict"))
	r.HandleSignal(ctx, &dbus.Signal{Name: "org.freedesktop.DBus.NameAcquired", Body: []any{":1.5"}})
	assert.Empty(t, d.got)

	r.HandleSignal(ctx, notifySignal(map[string]dbus.Variant{
		"replace_id":  dbus.MakeVariant(int64(-1)),
		"replace_old": dbus.MakeVariant("k"),
	}))
	require.Len(t, d.got, 1, "defaulted fields still deliver")
	assert.Zero(t, d.got[0].ReplaceID)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := &fakeDesktop{}
	r := New(d, logx.Nop(), Options{})
	ch := make(chan *dbus.Signal, 1)
	ch <- notifySignal(Request{ReplaceKey: "k"}.Encode())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, ch) }()

	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunReturnsWhenChannelCloses(t *testing.T) {
	r := New(&fakeDesktop{}, logx.Nop(), Options{})
	ch := make(chan *dbus.Signal)
	close(ch)
	assert.ErrorIs(t, r.Run(context.Background(), ch), ErrSignalsClosed)
}
