package config

import (
	"strings"
	"time"
)

// DefaultPath is where the daemons look for their config when --config is
// not given. A missing file means defaults.
const DefaultPath = "/etc/systemd-svc-watcher/svcnotify.yaml"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Watcher WatcherConfig `json:"watcher"`
	Relay   RelayConfig   `json:"relay"`
	Diag    DiagConfig    `json:"diag"`
	Metrics MetricsConfig `json:"metrics"`
	Storage StorageConfig `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WatcherConfig controls the JobRemoved watcher.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type WatcherConfig struct {
	// UserBus subscribes to the per-user manager on the session bus.
	UserBus bool `json:"user_bus"`

	BlocklistPath string `json:"blocklist_path"`
	// WatchBlocklist reloads the list on file changes, in addition to SIGUSR1.
	WatchBlocklist bool `json:"watch_blocklist"`

	Icon    string `json:"icon,omitempty"`
	Summary string `json:"summary,omitempty"`
	// TimeoutMS is the notification expiry; 0 never expires, -1 is the server default.
	TimeoutMS int32 `json:"timeout_ms"`

	// CallTimeout bounds each bus call. "0s" or empty means no bound.
	CallTimeout string `json:"call_timeout,omitempty"`

	// AuditSchedule is a cron spec for re-checking that our match rule is
	// still installed. Empty disables the audit.
	AuditSchedule string `json:"audit_schedule,omitempty"`

	// Direct skips the relay and notifies the session's desktop in-process.
	// Only meaningful together with user_bus.
	Direct bool `json:"direct,omitempty"`
}

type RelayConfig struct {
	AppName    string `json:"app_name"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DiagConfig controls the subscription check run at startup.
type DiagConfig struct {
	// Enabled forces the BEFORE/AFTER check; by default it runs only when
	// stdin is a terminal or the process runs as root.
	Enabled *bool `json:"enabled,omitempty"`
	// PrivExec is the command prefix used to re-exec with privileges,
	// e.g. ["sudo", "-n"]. Empty re-execs directly.
	PrivExec []string `json:"priv_exec,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9464"). Empty disables it.
type MetricsConfig struct {
	Listen string `json:"listen,omitempty"`
	// Pprof mounts /debug/pprof/ on the same listener.
	Pprof bool   `json:"pprof,omitempty"`
	Token string `json:"token,omitempty"`
}

// StorageConfig controls the optional transition history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "/var/lib/svcnotify/history.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
	// Keep caps the number of stored transitions; 0 keeps 1000.
	Keep int `json:"keep,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Watcher: WatcherConfig{
			BlocklistPath:  "/etc/systemd-svc-watcher/ignore.list",
			WatchBlocklist: true,
			Icon:           "text-x-systemd-unit",
			Summary:        "Service state changed",
		},
		Relay:   RelayConfig{AppName: "svcnotify"},
		Storage: StorageConfig{Driver: "none"},
	}
}

// CallTimeout returns the parsed watcher.call_timeout.
func (c *Config) CallTimeout() (time.Duration, error) {
	return ParseDurationField("watcher.call_timeout", c.Watcher.CallTimeout)
}

// StorageEnabled reports whether a history backend is configured.
func (c *Config) StorageEnabled() bool {
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	return d != "" && d != "none"
}
