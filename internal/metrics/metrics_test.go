package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcnotify/internal/eventbus"
	"svcnotify/internal/runtime/supervisor"
	logx "svcnotify/pkg/logx"
)

func TestObserve(t *testing.T) {
	c := New()
	c.Observe(eventbus.Event{Type: eventbus.TransitionNotified})
	c.Observe(eventbus.Event{Type: eventbus.TransitionNotified})
	c.Observe(eventbus.Event{Type: eventbus.TransitionSuppressed})
	c.Observe(eventbus.Event{Type: eventbus.RelayFailed})
	c.Observe(eventbus.Event{Type: eventbus.BlocklistReloaded, Data: uint64(4)})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Transitions.WithLabelValues("notified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transitions.WithLabelValues("suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RelayRequests.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BlocklistReloads))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.BlocklistGeneration))
}

func TestRunFromBus(t *testing.T) {
	c := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		eventbus.Publish(bus, eventbus.TransitionDropped, nil)
		return testutil.ToFloat64(c.Transitions.WithLabelValues("dropped")) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestHandlerExposesCounters(t *testing.T) {
	c := New()
	c.Observe(eventbus.Event{Type: eventbus.RelayDelivered})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `svcnotify_relay_requests_total{result="delivered"} 1`)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx, ln, DebugOptions{}, logx.Nop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "svcnotify_blocklist_reloads_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestDebugEndpointsRequireToken(t *testing.T) {
	mux := New().mux(DebugOptions{Pprof: true, Token: "s3cret"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// /metrics stays open for scrapers.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofNotMountedByDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	New().mux(DebugOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckBind(t *testing.T) {
	cases := []struct {
		addr string
		opts DebugOptions
		ok   bool
	}{
		{"127.0.0.1:9464", DebugOptions{Pprof: true}, true},
		{"localhost:9464", DebugOptions{Pprof: true}, true},
		{"[::1]:9464", DebugOptions{Pprof: true}, true},
		{":9464", DebugOptions{Pprof: true}, false},
		{"0.0.0.0:9464", DebugOptions{Pprof: true, Token: "x"}, true},
		{"0.0.0.0:9464", DebugOptions{}, true},
	}
	for _, tc := range cases {
		err := checkBind(tc.addr, tc.opts)
		if tc.ok {
			assert.NoError(t, err, tc.addr)
		} else {
			assert.ErrorIs(t, err, ErrInsecureBind, tc.addr)
		}
	}
}

func TestTrackGoroutines(t *testing.T) {
	c := New()
	sup := supervisor.NewSupervisor(context.Background())
	c.TrackGoroutines(sup)

	release := make(chan struct{})
	sup.Go0("blocked", func(context.Context) { <-release })
	sup.Go0("quick", func(context.Context) {})

	require.Eventually(t, func() bool {
		return sup.Counters().Active == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "svcnotify_supervised_goroutines 1")
	assert.Contains(t, rec.Body.String(), "svcnotify_supervised_goroutines_started_total 2")

	close(release)
	require.NoError(t, sup.Stop(context.Background()))
}
