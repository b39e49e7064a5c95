package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"

	"svcnotify/internal/blocklist"
	"svcnotify/internal/config"
	"svcnotify/internal/diag"
	"svcnotify/internal/notify"
	"svcnotify/internal/relay"
	"svcnotify/internal/runtime/supervisor"
	"svcnotify/internal/sdbus"
	"svcnotify/internal/watcher"
	logx "svcnotify/pkg/logx"
)

// WatchOptions configure the watcher daemon.
type WatchOptions struct {
	Options
	// User forces the per-user manager regardless of watcher.user_bus.
	User bool
}

// RunWatcher subscribes to JobRemoved and notifies transitions until a
// shutdown signal arrives.
func RunWatcher(ctx context.Context, opts WatchOptions) error {
	rt, err := newRuntime(opts.Options, "watcher")
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	user := opts.User || cfg.Watcher.UserBus
	log := rt.log.With(logx.Bool("user", user))

	wopts, err := watcherOptions(cfg, rt)
	if err != nil {
		return err
	}

	// Signals and unit state come from the manager's bus; relay requests
	// always go out on the system bus, where the relay listens.
	conn, err := sdbus.Connect(ctx, user)
	if err != nil {
		return err
	}
	defer conn.Close()
	notifyConn := conn
	if user && !cfg.Watcher.Direct {
		if notifyConn, err = sdbus.Connect(ctx, false); err != nil {
			return err
		}
		defer notifyConn.Close()
	}

	store := blocklist.NewStore(cfg.Watcher.BlocklistPath, rt.log.With(logx.String("comp", "blocklist")))
	_ = store.Reload()

	var runner *diag.Runner
	if diag.ShouldRun(cfg.Diag.Enabled) {
		if runner, err = diag.NewRunner(cfg.Diag.PrivExec, withUserFlag(opts.Args, user), rt.log); err != nil {
			log.Warn("subscription check disabled", logx.Err(err))
		} else {
			_ = runner.Run(ctx, "BEFORE")
			fmt.Fprintln(logx.Stdout(), "\nAdding signal receivers...")
		}
	}

	source := sdbus.NewSource(conn)
	if err := source.Subscribe(ctx); err != nil {
		return err
	}
	defer source.Close()

	if runner != nil {
		_ = runner.Run(ctx, "AFTER")
		fmt.Fprintln(logx.Stdout())
	}

	dedup := notify.New(newSender(cfg, conn, notifyConn, rt), notify.Options{AppName: cfg.Relay.AppName})
	loop := watcher.New(sdbus.NewResolver(source.Caller()), store, dedup, log, wopts)

	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(rt.log), supervisor.WithCancelOnError(true))
	sup.Go("watcher.loop", func(ctx context.Context) error { return loop.Run(ctx, source.Signals()) })
	if cfg.Watcher.WatchBlocklist {
		sup.GoRestart("blocklist.watch", func(ctx context.Context) error {
			return store.WatchFunc(ctx, loop.RequestReload)
		}, time.Second, time.Minute)
	}
	if spec := strings.TrimSpace(cfg.Watcher.AuditSchedule); spec != "" {
		auditor := diag.NewAuditor(source.Caller(), rt.log.With(logx.String("comp", "audit")), sdbus.JobRemovedRuleNeedles()...)
		sup.Go("subscription.audit", func(ctx context.Context) error {
			return auditor.Run(ctx, config.AuditParser, spec)
		})
	}
	rt.start(sup)
	handleSignals(sup, log, loop.Reload)

	sdNotify(log, daemon.SdNotifyReady)
	log.Info("Listening...", logx.String("blocklist", store.Path()))
	return wait(ctx, sup, log)
}

func watcherOptions(cfg *config.Config, rt *runtime) (watcher.Options, error) {
	callTimeout, err := cfg.CallTimeout()
	if err != nil {
		return watcher.Options{}, err
	}
	return watcher.Options{
		Icon:        cfg.Watcher.Icon,
		Summary:     cfg.Watcher.Summary,
		Timeout:     cfg.Watcher.TimeoutMS,
		CallTimeout: callTimeout,
		Bus:         rt.bus,
	}, nil
}

// newSender picks the transport to the relay. Direct mode runs a relay
// in-process against the session's notification server.
func newSender(cfg *config.Config, sessionConn, systemConn *dbus.Conn, rt *runtime) notify.Sender {
	if cfg.Watcher.Direct {
		rt.log.Info("delivering notifications directly to the session")
		desk := relay.NewBusDesktop(sdbus.ConnCaller{Conn: sessionConn})
		return relay.New(desk, rt.log.With(logx.String("comp", "relay")), relay.Options{
			AppName:    cfg.Relay.AppName,
			RatePerSec: cfg.Relay.RatePerSec,
			Bus:        rt.bus,
		})
	}
	return relay.SignalSender{Conn: systemConn}
}

// withUserFlag makes the re-executed check target the same bus even when
// user mode came from the config file.
func withUserFlag(args []string, user bool) []string {
	out := append([]string(nil), args...)
	if user && !containsArg(out, "--user") {
		out = append(out, "--user")
	}
	return out
}

func containsArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

// RunCheck is the child side of the subscription check: it prints the rules
// containing every needle and returns.
func RunCheck(ctx context.Context, user bool, needles ...string) error {
	conn, err := sdbus.Connect(ctx, user)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = diag.Check(ctx, sdbus.ConnCaller{Conn: conn}, os.Stdout, needles...)
	return err
}
