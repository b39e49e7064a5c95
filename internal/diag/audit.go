package diag

import (
	"context"
	"fmt"
	"io"

	"github.com/robfig/cron/v3"

	"svcnotify/internal/sdbus"
	logx "svcnotify/pkg/logx"
)

// Auditor periodically confirms that a subscription's match rule is still
// registered with the bus daemon.
type Auditor struct {
	caller  sdbus.Caller
	needles []string
	log     logx.Logger
}

func NewAuditor(caller sdbus.Caller, log logx.Logger, needles ...string) *Auditor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Auditor{caller: caller, needles: needles, log: log}
}

// Audit runs one check and returns the number of matching rules.
func (a *Auditor) Audit(ctx context.Context) (int, error) {
	n, err := Check(ctx, a.caller, io.Discard, a.needles...)
	if err != nil {
		a.log.Debug("subscription audit unavailable", logx.Err(err))
		return 0, err
	}
	if n == 0 {
		a.log.Warn("no match rule routes our signals; notifications will stop", logx.Strs("needles", a.needles))
		return 0, nil
	}
	a.log.Debug("subscription audit ok", logx.Int("rules", n))
	return n, nil
}

// Run schedules Audit with spec until ctx is done.
func (a *Auditor) Run(ctx context.Context, parser cron.Parser, spec string) error {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { _, _ = a.Audit(ctx) }); err != nil {
		return fmt.Errorf("audit schedule %q: %w", spec, err)
	}
	c.Start()
	a.log.Debug("subscription audit scheduled", logx.String("schedule", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
