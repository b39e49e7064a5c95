package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/time/rate"

	"svcnotify/internal/eventbus"
	logx "svcnotify/pkg/logx"
)

var (
	// ErrRateLimited is returned when a request exceeds the configured rate.
	ErrRateLimited = errors.New("relay rate limit exceeded")
	// ErrSignalsClosed is returned by Run when the bus stops delivering.
	ErrSignalsClosed = errors.New("relay: signal channel closed")
)

// Options tunes a Relay.
type Options struct {
	// AppName is used when a request doesn't name its application.
	AppName string
	// RatePerSec caps forwarded notifications; 0 disables the limit.
	RatePerSec int
	Bus        eventbus.Bus
}

// Relay forwards requests to the desktop and remembers, per replace key,
// the id of the last notification it produced.
//
// Handle is called from a single dispatch loop; the mutex only guards
// readers such as IDs.
type Relay struct {
	desktop Desktop
	log     logx.Logger
	opts    Options
	limiter *rate.Limiter

	mu  sync.Mutex
	ids map[string]uint32
}

func New(desktop Desktop, log logx.Logger, opts Options) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Relay{
		desktop: desktop,
		log:     log,
		opts:    opts,
		ids:     map[string]uint32{},
	}
	if opts.RatePerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}
	return r
}

// Handle delivers one request and returns the notification id.
func (r *Relay) Handle(ctx context.Context, req Request) (uint32, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		eventbus.Publish(r.opts.Bus, eventbus.RelayRejected, eventbus.Delivery{Key: req.ReplaceKey, Error: ErrRateLimited.Error()})
		return 0, ErrRateLimited
	}

	replaceID := req.ReplaceID
	if replaceID == 0 && req.ReplaceKey != "" {
		r.mu.Lock()
		replaceID = r.ids[req.ReplaceKey]
		r.mu.Unlock()
	}

	app := req.AppName
	if app == "" {
		app = r.opts.AppName
	}

	id, err := r.desktop.Notify(ctx, Notification{
		AppName:   app,
		ReplaceID: replaceID,
		Icon:      req.Icon,
		Summary:   req.Summary,
		Body:      req.Body,
		Timeout:   req.Timeout,
	})
	if err != nil {
		eventbus.Publish(r.opts.Bus, eventbus.RelayFailed, eventbus.Delivery{Key: req.ReplaceKey, Error: err.Error()})
		return 0, err
	}

	if req.ReplaceKey != "" && id != 0 {
		r.mu.Lock()
		r.ids[req.ReplaceKey] = id
		r.mu.Unlock()
	}
	eventbus.Publish(r.opts.Bus, eventbus.RelayDelivered, eventbus.Delivery{Key: req.ReplaceKey, ID: id})
	return id, nil
}

// Send lets a watcher deliver through an in-process relay.
func (r *Relay) Send(ctx context.Context, req Request) (uint32, error) { return r.Handle(ctx, req) }

// HandleSignal decodes and delivers a Notify signal. Failures are logged;
// nothing here is fatal to the relay.
func (r *Relay) HandleSignal(ctx context.Context, sig *dbus.Signal) {
	if sig == nil || sig.Name != Interface+"."+SignalNotify {
		return
	}
	req, warnings, err := DecodeRequest(sig.Body)
	if err != nil {
		r.log.Warn("dropping request", logx.Err(err), logx.String("sender", sig.Sender), logx.Any("body", sig.Body))
		eventbus.Publish(r.opts.Bus, eventbus.RelayRejected, eventbus.Delivery{Error: err.Error()})
		return
	}
	for _, w := range warnings {
		r.log.Warn("request field defaulted", logx.Err(w), logx.String("sender", sig.Sender))
	}

	id, err := r.Handle(ctx, req)
	if err != nil {
		r.log.Warn("notification not delivered", logx.Err(err), logx.String("key", req.ReplaceKey))
		return
	}
	r.log.Debug("notification delivered",
		logx.Uint32("id", id),
		logx.String("key", req.ReplaceKey),
		logx.String("summary", req.Summary),
	)
}

// Run dispatches signals until ctx is done or the channel closes.
func (r *Relay) Run(ctx context.Context, signals <-chan *dbus.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return ErrSignalsClosed
			}
			r.HandleSignal(ctx, sig)
		}
	}
}

// ID returns the notification id remembered for key.
func (r *Relay) ID(key string) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[key]
	return id, ok
}

// Len returns the number of remembered keys.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
