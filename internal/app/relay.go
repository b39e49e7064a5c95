package app

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"

	"svcnotify/internal/diag"
	"svcnotify/internal/relay"
	"svcnotify/internal/runtime/supervisor"
	"svcnotify/internal/sdbus"
	logx "svcnotify/pkg/logx"
)

// RunRelay listens for Notify signals on the system bus and shows them on
// the session's notification server until a shutdown signal arrives.
func RunRelay(ctx context.Context, opts Options) error {
	rt, err := newRuntime(opts, "relay")
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg
	log := rt.log

	systemConn, err := sdbus.Connect(ctx, false)
	if err != nil {
		return err
	}
	defer systemConn.Close()
	sessionConn, err := sdbus.Connect(ctx, true)
	if err != nil {
		return err
	}
	defer sessionConn.Close()

	signals, unsubscribe, err := relay.Subscribe(ctx, systemConn)
	if err != nil {
		return err
	}
	defer unsubscribe()

	if diag.ShouldRun(cfg.Diag.Enabled) {
		if runner, err := diag.NewRunner(cfg.Diag.PrivExec, opts.Args, log); err != nil {
			log.Warn("subscription check disabled", logx.Err(err))
		} else {
			_ = runner.Run(ctx, "Signal receivers")
		}
	}

	r := relay.New(relay.NewBusDesktop(sdbus.ConnCaller{Conn: sessionConn}), log, relay.Options{
		AppName:    cfg.Relay.AppName,
		RatePerSec: cfg.Relay.RatePerSec,
		Bus:        rt.bus,
	})

	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(log), supervisor.WithCancelOnError(true))
	sup.Go("relay.loop", func(ctx context.Context) error { return r.Run(ctx, signals) })
	rt.start(sup)
	handleSignals(sup, log, nil)

	sdNotify(log, daemon.SdNotifyReady)
	log.Info("Listening...")
	return wait(ctx, sup, log)
}
