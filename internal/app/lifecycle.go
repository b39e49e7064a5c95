package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"svcnotify/internal/runtime/supervisor"
	logx "svcnotify/pkg/logx"
)

// ErrPanicked is returned after a recovered panic shut a daemon down.
var ErrPanicked = errors.New("daemon stopped after a panic")

const stopTimeout = 5 * time.Second

// StopReason records why a daemon shut down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopContext    StopReason = "context"
)

var shutdownSignals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}

// signalAction maps an OS signal to what the daemon does with it.
func signalAction(sig os.Signal) (shutdown, reload bool) {
	if sig == syscall.SIGUSR1 {
		return false, true
	}
	for _, s := range shutdownSignals {
		if s == sig {
			return true, false
		}
	}
	return false, false
}

// handleSignals cancels sup on a shutdown signal and calls reload on
// SIGUSR1, until sup's context is done. reload may be nil; it blocks until
// the reload has been applied so READY=1 follows it.
func handleSignals(sup *supervisor.Supervisor, log logx.Logger, reload func(ctx context.Context) error) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, append([]os.Signal{syscall.SIGUSR1}, shutdownSignals...)...)
	sup.Go0("os.signals", func(ctx context.Context) {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				shutdown, isReload := signalAction(sig)
				switch {
				case shutdown:
					log.Info(fmt.Sprintf("%s, exiting...", sig), logx.String("reason", string(StopSignal)))
					sup.Cancel()
					return
				case isReload && reload != nil:
					sdNotify(log, daemon.SdNotifyReloading)
					if err := reload(ctx); err != nil {
						log.Warn("reload interrupted", logx.Err(err))
					}
					sdNotify(log, daemon.SdNotifyReady)
				}
			}
		}
	})
}

// sdNotify reports state to the service manager when running under it.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Trace("sd_notify", logx.String("state", state))
	}
}

// wait blocks until sup is cancelled, then stops it and reports the
// outcome. A panic always yields ErrPanicked so the process exits non-zero.
func wait(ctx context.Context, sup *supervisor.Supervisor, log logx.Logger) error {
	<-sup.Context().Done()
	sdNotify(log, daemon.SdNotifyStopping)

	reason := StopContext
	if sup.Err() != nil {
		reason = StopFatalError
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	err := sup.Stop(sctx)
	log.Info("stopped", logx.String("reason", string(reason)), logx.Err(err))

	if sup.Panicked() {
		return fmt.Errorf("%w: %v", ErrPanicked, sup.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown timed out after %s", stopTimeout)
	}
	return err
}
