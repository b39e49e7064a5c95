// Package diag prints the bus match rules that route signals to us, so an
// operator can see a subscription before and after it is installed.
//
// Reading match rules needs org.freedesktop.DBus.Debug.Stats, which the
// system bus usually restricts to root. The daemons therefore re-exec
// themselves, optionally through a privilege helper, with CheckFlag.
package diag

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"

	"github.com/mattn/go-isatty"

	"svcnotify/internal/sdbus"
	logx "svcnotify/pkg/logx"
)

// CheckFlag makes a daemon print its matching rules and exit.
const CheckFlag = "--check-signal-exported"

// ShouldRun reports whether the BEFORE/AFTER check runs. force, when set,
// wins; otherwise it runs on an interactive terminal or as root.
func ShouldRun(force *bool) bool {
	if force != nil {
		return *force
	}
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) || os.Geteuid() == 0
}

// Check prints every rule containing all needles, one per line, and
// returns how many it printed.
func Check(ctx context.Context, caller sdbus.Caller, w io.Writer, needles ...string) (int, error) {
	all, err := sdbus.ListMatchRules(ctx, caller)
	if err != nil {
		return 0, err
	}
	rules := sdbus.FilterRules(all, needles...)
	for _, r := range rules {
		fmt.Fprintln(w, r)
	}
	return len(rules), nil
}

// Runner re-executes the current binary with CheckFlag.
type Runner struct {
	// PrivExec prefixes the command, e.g. ["sudo", "-n", "--"].
	PrivExec []string
	Exe      string
	Args     []string
	Stdout   io.Writer
	Stderr   io.Writer
	Log      logx.Logger
}

// NewRunner builds a runner for this process, reusing args so the child
// sees the same bus selection and config.
func NewRunner(privExec, args []string, log logx.Logger) (*Runner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		PrivExec: privExec,
		Exe:      exe,
		Args:     args,
		Stdout:   logx.Stdout(),
		Stderr:   logx.Stderr(),
		Log:      log,
	}, nil
}

// Command returns the child command line without starting it.
func (r *Runner) Command(ctx context.Context) *exec.Cmd {
	argv := slices.Concat(r.PrivExec, []string{r.Exe}, r.Args)
	if !slices.Contains(r.Args, CheckFlag) {
		argv = append(argv, CheckFlag)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	return cmd
}

// Run prints label and the child's output. The child is waited for, which
// also reaps it. A failing child is logged, never fatal.
func (r *Runner) Run(ctx context.Context, label string) error {
	if r.Stdout != nil {
		fmt.Fprintf(r.Stdout, "\n%s:\n", label)
	}
	cmd := r.Command(ctx)
	if err := cmd.Run(); err != nil {
		r.Log.Warn("subscription check failed", logx.String("label", label), logx.Strs("argv", cmd.Args), logx.Err(err))
		return err
	}
	return nil
}
