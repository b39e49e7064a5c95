package diag

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcnotify/internal/sdbus"
	logx "svcnotify/pkg/logx"
)

type rulesCaller struct {
	rules map[string][]string
	err   error
	calls atomic.Int32
}

func (c *rulesCaller) Call(_ context.Context, dest string, path dbus.ObjectPath, method string, _ ...any) *dbus.Call {
	c.calls.Add(1)
	call := &dbus.Call{Destination: dest, Path: path, Method: method, Err: c.err}
	if c.err == nil {
		call.Body = []any{c.rules}
	}
	return call
}

var sampleRules = map[string][]string{
	":1.10": {"type='signal',sender='org.freedesktop.systemd1',path='/org/freedesktop/systemd1',interface='org.freedesktop.systemd1.Manager',member='JobRemoved'"},
	":1.11": {"type='signal',interface='com.mirfatif.SysDeskNotifD',member='Notify'"},
	":1.12": {"type='signal',interface='org.freedesktop.DBus'"},
}

func TestCheckPrintsMatchingRules(t *testing.T) {
	var out bytes.Buffer
	n, err := Check(context.Background(), &rulesCaller{rules: sampleRules}, &out, sdbus.JobRemovedRuleNeedles()...)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), "member='JobRemoved'")
	assert.NotContains(t, out.String(), "SysDeskNotifD")

	out.Reset()
	n, err = Check(context.Background(), &rulesCaller{rules: sampleRules}, &out, "com.mirfatif.SysDeskNotifD")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckError(t *testing.T) {
	_, err := Check(context.Background(), &rulesCaller{err: errors.New("access denied")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "access denied")
}

func TestShouldRunForced(t *testing.T) {
	yes, no := true, false
	assert.True(t, ShouldRun(&yes))
	assert.False(t, ShouldRun(&no))
}

func TestRunnerCommand(t *testing.T) {
	r := &Runner{PrivExec: []string{"sudo", "-n", "--"}, Exe: "/usr/bin/svcnotify", Args: []string{"watch", "--user"}}
	cmd := r.Command(context.Background())
	assert.Equal(t, []string{"sudo", "-n", "--", "/usr/bin/svcnotify", "watch", "--user", CheckFlag}, cmd.Args)

	r = &Runner{Exe: "/usr/bin/svcnotify", Args: []string{"relay", CheckFlag}}
	assert.Equal(t, []string{"/usr/bin/svcnotify", "relay", CheckFlag}, r.Command(context.Background()).Args)
}

func TestRunnerRunWaitsForChild(t *testing.T) {
	var out bytes.Buffer
	r := &Runner{Exe: "/bin/sh", Args: []string{"-c", "echo rule-line"}, Stdout: &out, Stderr: &out, Log: logx.Nop()}
	require.NoError(t, r.Run(context.Background(), "BEFORE"))
	assert.True(t, strings.HasPrefix(out.String(), "\nBEFORE:\n"))
	assert.Contains(t, out.String(), "rule-line")

	r.Args = []string{"-c", "exit 3"}
	assert.Error(t, r.Run(context.Background(), "AFTER"))
}

func TestAuditor(t *testing.T) {
	a := NewAuditor(&rulesCaller{rules: sampleRules}, logx.Nop(), sdbus.JobRemovedRuleNeedles()...)
	n, err := a.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a = NewAuditor(&rulesCaller{rules: map[string][]string{}}, logx.Nop(), sdbus.JobRemovedRuleNeedles()...)
	n, err = a.Audit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuditorRunSchedules(t *testing.T) {
	caller := &rulesCaller{rules: sampleRules}
	a := NewAuditor(caller, logx.Nop(), "JobRemoved")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, parser, "@every 1s") }()

	require.Eventually(t, func() bool { return caller.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, a.Run(context.Background(), parser, "not a schedule"))
}
