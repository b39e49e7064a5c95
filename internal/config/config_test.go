package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "svcnotify/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestMissingFileGivesDefaults(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	assert.Same(t, cfg, m.Get())
}

func TestParseYAMLOverDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "svcnotify.yaml", `
logging:
  level: debug
watcher:
  user_bus: true
  blocklist_path: /tmp/ignore.list
  timeout_ms: 5000
  call_timeout: 2s
  audit_schedule: "@hourly"
relay:
  rate_per_sec: 5
diag:
  priv_exec: [sudo, -n]
storage:
  driver: sqlite
  path: /tmp/h.db
`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console, "unset fields keep their default")
	assert.True(t, cfg.Watcher.UserBus)
	assert.Equal(t, "/tmp/ignore.list", cfg.Watcher.BlocklistPath)
	assert.EqualValues(t, 5000, cfg.Watcher.TimeoutMS)
	assert.Equal(t, "Service state changed", cfg.Watcher.Summary)
	assert.Equal(t, "svcnotify", cfg.Relay.AppName)
	assert.Equal(t, []string{"sudo", "-n"}, cfg.Diag.PrivExec)
	assert.True(t, cfg.StorageEnabled())

	d, err := cfg.CallTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestParseJSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "svcnotify.json", `{"relay":{"app_name":"x","rate_per_sec":1}}`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Relay.AppName)
	assert.False(t, cfg.StorageEnabled())
}

func TestParseEmptyFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "svcnotify.yaml", "")
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "watcher:\n  nope: 1\n",
		"bad level":        "logging:\n  level: loud\n",
		"bad duration":     "watcher:\n  call_timeout: soon\n",
		"negative dur":     "watcher:\n  call_timeout: -1s\n",
		"bad cron":         "watcher:\n  audit_schedule: every hour\n",
		"timeout":          "watcher:\n  timeout_ms: -5\n",
		"direct w/o user":  "watcher:\n  direct: true\n",
		"driver":           "storage:\n  driver: redis\n",
		"sqlite no path":   "storage:\n  driver: sqlite\n",
		"empty blocklist":  "watcher:\n  blocklist_path: \"\"\n",
		"pprof w/o listen": "metrics:\n  pprof: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "c.yaml", body)
			_, err := NewConfigManager(p).Parse()
			assert.Error(t, err)
		})
	}
}

func TestParseTrailingJSON(t *testing.T) {
	_, err := ParseBytes("c.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload()
	require.NoError(t, err)
	assert.False(t, published)

	writeFile(t, dir, "c.yaml", "logging:\n  level: debug\n")
	published, err = m.Reload()
	require.NoError(t, err)
	require.True(t, published)
	assert.Equal(t, "debug", (<-ch).Logging.Level)

	writeFile(t, dir, "c.yaml", "logging: [")
	_, err = m.Reload()
	assert.Error(t, err)
	assert.Equal(t, "debug", m.Get().Logging.Level, "bad file keeps current config")
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewConfigManager("unused.yaml")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	b.Logging.Level = "warn"
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesFileChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "c.yaml", "logging:\n  level: error\n")

	select {
	case cfg := <-ch:
		assert.Equal(t, "error", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
}

func TestWatchMissingDirReturnsQuietly(t *testing.T) {
	var buf bytes.Buffer
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent", "svcnotify.yaml"))
	m.SetLogger(logx.New(&buf, "debug"))

	done := make(chan error, 1)
	go func() { done <- m.Watch(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch kept retrying on a missing directory")
	}
	assert.Contains(t, buf.String(), "config directory missing")
	assert.NotContains(t, buf.String(), `"level":"warn"`)
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Relay.RatePerSec = 2

	changed, attrs, restart := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "relay"}, changed)
	assert.Equal(t, []string{"relay"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(a, Default())
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestDurationHelpers(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationField("x", " 150ms ")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, d)
}
