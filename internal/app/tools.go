package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"svcnotify/internal/config"
	"svcnotify/internal/storage"
	"svcnotify/internal/svclist"
	logx "svcnotify/pkg/logx"
)

// RunList prints the manager's units.
func RunList(ctx context.Context, user bool, opts svclist.Options) error {
	conn, err := svclist.Connect(ctx, user)
	if err != nil {
		return err
	}
	defer conn.Close()

	groups, err := svclist.Collect(ctx, conn, opts)
	if err != nil {
		return err
	}
	p := svclist.Printer{
		Out:  logx.Stdout(),
		Meta: logx.Stderr(),
		Bold: isatty.IsTerminal(os.Stdout.Fd()),
	}
	return p.Print(groups, opts.DescFile)
}

// RunHistory prints the n most recent recorded transitions.
func RunHistory(ctx context.Context, configPath string, n int, w io.Writer) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !enabled {
		return errors.New("history is disabled: set storage.driver to sqlite")
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.Recent(ctx, n)
	if err != nil {
		return err
	}
	printHistory(w, rows)
	return nil
}

func printHistory(w io.Writer, rows []storage.Transition) {
	for _, t := range rows {
		line := fmt.Sprintf("%s  %-10s  ", t.At.Local().Format(time.DateTime), t.Kind)
		switch {
		case t.Message != "":
			line += t.Message
		default:
			line += t.Unit
		}
		if t.Error != "" {
			line += "  (" + t.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}
