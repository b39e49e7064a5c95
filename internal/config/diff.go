package config

import (
	"reflect"

	logx "svcnotify/pkg/logx"
)

// HotSections can be applied without restarting the daemon.
var HotSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections, structured
// attrs describing the new values, and the subset of changed sections that
// only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	note := func(section string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !HotSections[section] {
			restart = append(restart, section)
		}
	}

	note("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
	)
	note("watcher", oldCfg.Watcher != newCfg.Watcher,
		logx.Bool("watcher.user_bus", newCfg.Watcher.UserBus),
		logx.String("watcher.blocklist_path", newCfg.Watcher.BlocklistPath),
		logx.String("watcher.audit_schedule", newCfg.Watcher.AuditSchedule),
	)
	note("relay", oldCfg.Relay != newCfg.Relay,
		logx.String("relay.app_name", newCfg.Relay.AppName),
		logx.Int("relay.rate_per_sec", newCfg.Relay.RatePerSec),
	)
	note("diag", !reflect.DeepEqual(oldCfg.Diag, newCfg.Diag),
		logx.Strs("diag.priv_exec", newCfg.Diag.PrivExec),
	)
	note("metrics", oldCfg.Metrics != newCfg.Metrics,
		logx.String("metrics.listen", newCfg.Metrics.Listen),
		logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
	)
	note("storage", oldCfg.Storage != newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver),
		logx.String("storage.path", newCfg.Storage.Path),
	)
	return changed, attrs, restart
}

// LogConfig converts the logging section for logx.Service.Apply.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}
