// Package watcher runs the dispatch loop that turns JobRemoved signals into
// desktop notifications.
package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"

	"svcnotify/internal/eventbus"
	"svcnotify/internal/filter"
	"svcnotify/internal/sdbus"
	logx "svcnotify/pkg/logx"
)

const (
	DefaultIcon    = "text-x-systemd-unit"
	DefaultSummary = "Service state changed"
)

// ErrSignalsClosed is returned by Run when the bus stops delivering.
var ErrSignalsClosed = errors.New("watcher: signal channel closed")

// StateResolver is satisfied by *sdbus.Resolver.
type StateResolver interface {
	Resolve(ctx context.Context, unit string) (sdbus.State, error)
}

// Notifier is satisfied by *notify.Deduplicator.
type Notifier interface {
	Notify(ctx context.Context, unit, summary, body, icon string, timeout int32) error
}

// Blocklist is satisfied by *blocklist.Store.
type Blocklist interface {
	filter.Suppressor
	Reload() error
	Generation() uint64
}

type Options struct {
	Icon    string
	Summary string
	// Timeout is the notification expiry in milliseconds; 0 never expires.
	Timeout int32
	// CallTimeout bounds each resolve and notify call; 0 means no bound.
	CallTimeout time.Duration
	Bus         eventbus.Bus
}

// Loop owns the per-event pipeline. All handling happens on the goroutine
// that calls Run; reload requests are queued to it.
type Loop struct {
	resolver StateResolver
	list     Blocklist
	notifier Notifier
	log      logx.Logger
	opts     Options

	// reload carries queued reload requests; a non-nil value is closed once
	// that reload has run.
	reload chan chan struct{}
}

func New(resolver StateResolver, list Blocklist, notifier Notifier, log logx.Logger, opts Options) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Icon == "" {
		opts.Icon = DefaultIcon
	}
	if opts.Summary == "" {
		opts.Summary = DefaultSummary
	}
	return &Loop{
		resolver: resolver,
		list:     list,
		notifier: notifier,
		log:      log,
		opts:     opts,
		reload:   make(chan chan struct{}, 1),
	}
}

// RequestReload asks the loop to re-read the blocklist. Requests made while
// one is pending are merged. Safe to call from a signal handler goroutine.
func (l *Loop) RequestReload() {
	select {
	case l.reload <- nil:
	default:
	}
}

// Reload queues a reload and waits until the loop has run it, or ctx is
// done. It must not be called from the goroutine running Run.
func (l *Loop) Reload(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case l.reload <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles signals until ctx is done. The in-flight handler always
// finishes before Run returns.
func (l *Loop) Run(ctx context.Context, signals <-chan *dbus.Signal) error {
	l.log.Info("watching unit transitions")
	for {
		select {
		case <-ctx.Done():
			return nil
		case done := <-l.reload:
			l.reloadBlocklist()
			if done != nil {
				close(done)
			}
		case sig, ok := <-signals:
			if !ok {
				return ErrSignalsClosed
			}
			l.HandleSignal(ctx, sig)
		}
	}
}

func (l *Loop) reloadBlocklist() {
	if l.list == nil {
		return
	}
	before := l.list.Generation()
	if err := l.list.Reload(); err != nil {
		return
	}
	eventbus.Publish(l.opts.Bus, eventbus.BlocklistReloaded, l.list.Generation())
	l.log.Debug("blocklist generation swapped",
		logx.Int("from", int(before)),
		logx.Int("to", int(l.list.Generation())),
	)
}

// HandleSignal runs one signal through resolve, filter and notify.
func (l *Loop) HandleSignal(ctx context.Context, sig *dbus.Signal) {
	if !sdbus.IsJobRemoved(sig) {
		if sig != nil {
			l.log.Debug("ignoring signal", logx.String("name", sig.Name), logx.String("sender", sig.Sender))
		}
		return
	}

	job, err := sdbus.ParseJobRemoved(sig)
	if err != nil {
		l.log.Warn("dropping signal", logx.Err(err), logx.Any("body", sig.Body))
		eventbus.Publish(l.opts.Bus, eventbus.TransitionDropped, eventbus.Transition{Error: err.Error()})
		return
	}

	st, err := l.resolve(ctx, job.Unit)
	if err != nil {
		l.log.Warn("failed to get unit state", logx.String("unit", job.Unit), logx.Err(err))
		eventbus.Publish(l.opts.Bus, eventbus.TransitionDropped, eventbus.Transition{Unit: job.Unit, Error: err.Error()})
		return
	}

	d := filter.Evaluate(job.Unit, st, l.list)
	ev := eventbus.Transition{Unit: d.Unit, Active: st.Active, Sub: st.Sub, Message: d.Message}
	if d.Suppressed {
		l.log.Debug("ignoring: " + d.Message)
		eventbus.Publish(l.opts.Bus, eventbus.TransitionSuppressed, ev)
		return
	}

	l.log.Info(d.Message, logx.String("job_result", job.Result))
	if err := l.notify(ctx, d); err != nil {
		l.log.Warn("failed to send notification", logx.String("unit", d.Unit), logx.Err(err))
		ev.Error = err.Error()
		eventbus.Publish(l.opts.Bus, eventbus.TransitionDropped, ev)
		return
	}
	eventbus.Publish(l.opts.Bus, eventbus.TransitionNotified, ev)
}

func (l *Loop) resolve(ctx context.Context, unit string) (sdbus.State, error) {
	ctx, cancel := l.callContext(ctx)
	defer cancel()
	return l.resolver.Resolve(ctx, unit)
}

func (l *Loop) notify(ctx context.Context, d filter.Decision) error {
	ctx, cancel := l.callContext(ctx)
	defer cancel()
	return l.notifier.Notify(ctx, d.Unit, l.opts.Summary, d.Message, l.opts.Icon, l.opts.Timeout)
}

func (l *Loop) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, l.opts.CallTimeout)
	}
	return ctx, func() {}
}
