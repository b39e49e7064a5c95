// Package metrics exposes Prometheus counters derived from event bus traffic.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"svcnotify/internal/eventbus"
	"svcnotify/internal/runtime/supervisor"
	logx "svcnotify/pkg/logx"
)

const eventBuffer = 256

// Collector owns a private registry so tests and the two daemons never
// share global state.
type Collector struct {
	reg *prometheus.Registry

	Transitions         *prometheus.CounterVec
	BlocklistReloads    prometheus.Counter
	BlocklistGeneration prometheus.Gauge
	RelayRequests       *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "svcnotify_transitions_total",
			Help: "Unit transitions seen by the watcher, by outcome (notified, suppressed, dropped).",
		}, []string{"outcome"}),
		BlocklistReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "svcnotify_blocklist_reloads_total",
			Help: "Successful blocklist reloads.",
		}),
		BlocklistGeneration: f.NewGauge(prometheus.GaugeOpts{
			Name: "svcnotify_blocklist_generation",
			Help: "Generation number of the active blocklist.",
		}),
		RelayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "svcnotify_relay_requests_total",
			Help: "Relay requests by result (delivered, failed, rejected).",
		}, []string{"result"}),
	}
}

// GoroutineCounter is satisfied by *supervisor.Supervisor.
type GoroutineCounter interface {
	Counters() supervisor.SupervisorCounters
}

// TrackGoroutines exports sup's goroutine counters. Call it once per
// supervisor.
func (c *Collector) TrackGoroutines(sup GoroutineCounter) {
	f := promauto.With(c.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "svcnotify_supervised_goroutines",
		Help: "Goroutines currently running under the daemon supervisor.",
	}, func() float64 { return float64(sup.Counters().Active) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "svcnotify_supervised_goroutines_started_total",
		Help: "Goroutines started under the daemon supervisor.",
	}, func() float64 { return float64(sup.Counters().Started) })
}

// Observe updates counters for one event.
func (c *Collector) Observe(ev eventbus.Event) {
	switch {
	case strings.HasPrefix(ev.Type, "transition."):
		c.Transitions.WithLabelValues(strings.TrimPrefix(ev.Type, "transition.")).Inc()
	case strings.HasPrefix(ev.Type, "relay."):
		c.RelayRequests.WithLabelValues(strings.TrimPrefix(ev.Type, "relay.")).Inc()
	case ev.Type == eventbus.BlocklistReloaded:
		c.BlocklistReloads.Inc()
		if gen, ok := ev.Data.(uint64); ok {
			c.BlocklistGeneration.Set(float64(gen))
		}
	}
}

// Run feeds bus events into the collector until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		return nil
	}
	events, unsubscribe := bus.Subscribe(eventBuffer)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Serve exposes /metrics, and the debug endpoints opts enables, on addr
// until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, opts DebugOptions, log logx.Logger) error {
	if err := checkBind(addr, opts); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.serve(ctx, ln, opts, log)
}

func (c *Collector) serve(ctx context.Context, ln net.Listener, opts DebugOptions, log logx.Logger) error {
	srv := &http.Server{
		Handler:           c.mux(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("metrics listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", opts.Pprof))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
