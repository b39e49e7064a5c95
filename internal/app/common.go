// Package app wires the watcher and relay daemons and the one-shot
// commands from their parts.
package app

import (
	"context"
	"strings"
	"time"

	"svcnotify/internal/config"
	"svcnotify/internal/eventbus"
	"svcnotify/internal/metrics"
	"svcnotify/internal/runtime/supervisor"
	"svcnotify/internal/storage"
	logx "svcnotify/pkg/logx"
)

// Options are the flags shared by every daemon.
type Options struct {
	ConfigPath string
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Args are the process arguments after the program name; the
	// subscription check re-executes with them.
	Args []string
}

// runtime is the ambient stack shared by both daemons: config, logging,
// event bus, optional history and metrics.
type runtime struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store   storage.Store
	metrics *metrics.Collector

	levelOverride string
}

func newRuntime(opts Options, comp string) (*runtime, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.NewService(logConfig(cfg, opts.LogLevel))
	log := root.With(logx.String("comp", comp))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	rt := &runtime{
		cfgm:          cfgm,
		cfg:           cfg,
		logs:          logs,
		log:           log,
		bus:           eventbus.New(),
		levelOverride: opts.LogLevel,
	}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		rt.store = st
		log.Info("history enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	if strings.TrimSpace(cfg.Metrics.Listen) != "" {
		rt.metrics = metrics.New()
	}
	return rt, nil
}

func logConfig(cfg *config.Config, levelOverride string) logx.Config {
	lc := cfg.Logging.LogConfig()
	if strings.TrimSpace(levelOverride) != "" {
		lc.Level = levelOverride
	}
	return lc
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if !cfg.StorageEnabled() {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
		Keep:        cfg.Storage.Keep,
	}, true, nil
}

// start launches the ambient goroutines on sup.
func (rt *runtime) start(sup *supervisor.Supervisor) {
	if rt.store != nil {
		sup.Go("history.record", func(ctx context.Context) error {
			return storage.Record(ctx, rt.bus, rt.store, rt.log)
		})
	}
	if rt.metrics != nil {
		rt.metrics.TrackGoroutines(sup)
		sup.Go("metrics.collect", func(ctx context.Context) error { return rt.metrics.Run(ctx, rt.bus) })
		// A busy port should not take the daemon down with it.
		sup.GoRestart("metrics.serve", func(ctx context.Context) error {
			return rt.metrics.Serve(ctx, rt.cfg.Metrics.Listen, metrics.DebugOptions{
				Pprof: rt.cfg.Metrics.Pprof,
				Token: rt.cfg.Metrics.Token,
			}, rt.log)
		}, time.Second, time.Minute)
	}

	sub := rt.cfgm.Subscribe(4)
	sup.Go0("config.watch", func(ctx context.Context) { _ = rt.cfgm.Watch(ctx) })
	sup.Go0("config.apply", func(ctx context.Context) {
		defer rt.cfgm.Unsubscribe(sub)
		last := rt.cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				rt.applyConfig(last, next)
				last = next
			}
		}
	})
}

// applyConfig hot-applies logging and warns about everything else.
func (rt *runtime) applyConfig(prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		rt.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	rt.log.Info("config changed", fields...)

	rt.logs.Apply(logConfig(next, rt.levelOverride))
	if len(restart) > 0 {
		rt.log.Warn("restart required for changes to take effect", logx.Strs("sections", restart))
	}
}

func (rt *runtime) close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("history close failed", logx.Err(err))
		}
	}
	_ = rt.logs.Close()
}
