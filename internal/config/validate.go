package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	logx "svcnotify/pkg/logx"
)

// AuditParser is the cron dialect accepted by watcher.audit_schedule:
// standard five fields plus descriptors such as "@hourly".
var AuditParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks fields that would otherwise fail late, after the buses
// are already connected.
func (c *Config) Validate() error {
	var errs []error

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && logx.ParseLevel(lvl, -100) == -100 {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if strings.TrimSpace(c.Watcher.BlocklistPath) == "" {
		errs = append(errs, errors.New("watcher.blocklist_path: must not be empty"))
	}
	if c.Watcher.TimeoutMS < -1 {
		errs = append(errs, fmt.Errorf("watcher.timeout_ms: %d is below -1", c.Watcher.TimeoutMS))
	}
	if _, err := c.CallTimeout(); err != nil {
		errs = append(errs, err)
	}
	if spec := strings.TrimSpace(c.Watcher.AuditSchedule); spec != "" {
		if _, err := AuditParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("watcher.audit_schedule: %w", err))
		}
	}
	if c.Watcher.Direct && !c.Watcher.UserBus {
		errs = append(errs, errors.New("watcher.direct: requires watcher.user_bus"))
	}
	if c.Relay.RatePerSec < 0 {
		errs = append(errs, errors.New("relay.rate_per_sec: must be >= 0"))
	}
	if c.Metrics.Pprof && strings.TrimSpace(c.Metrics.Listen) == "" {
		errs = append(errs, errors.New("metrics.pprof: requires metrics.listen"))
	}
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for sqlite"))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if c.Storage.Keep < 0 {
		errs = append(errs, errors.New("storage.keep: must be >= 0"))
	}

	return errors.Join(errs...)
}
