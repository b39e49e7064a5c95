package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"

	"svcnotify/internal/app"
	"svcnotify/internal/config"
	"svcnotify/internal/relay"
	"svcnotify/internal/sdbus"
	"svcnotify/internal/svclist"
	logx "svcnotify/pkg/logx"
)

var CLI struct {
	Config   string `short:"c" help:"Configuration file path" default:"${config_path}" type:"path"`
	LogLevel string `help:"Override logging.level (trace, debug, info, warn, error)"`

	Watch struct {
		User  bool `help:"Watch the per-user service manager"`
		Check bool `name:"check-signal-exported" hidden:"" help:"Print the JobRemoved match rules and exit"`
	} `cmd:"" default:"withargs" help:"Notify service state changes (default)"`

	Relay struct {
		Check bool `name:"check-signal-exported" hidden:"" help:"Print the relay match rules and exit"`
	} `cmd:"" help:"Relay notification signals to the session bus"`

	List struct {
		User       bool     `help:"List the per-user service manager's units"`
		Type       []string `short:"t" sep:"," default:"service" help:"Unit types to list, or 'all'"`
		Loaded     []string `sep:"," help:"Allowed load states"`
		Active     []string `sep:"," help:"Allowed active states"`
		SubActive  []string `sep:"," help:"Allowed sub states"`
		FileState  []string `sep:"," help:"Allowed unit file states"`
		FilePreset []string `sep:"," help:"Allowed unit file presets"`
		SortBy     string   `short:"s" enum:"name,loaded,active,sub-active,file-state,file-preset" default:"name" help:"Sort column"`
		DescFile   bool     `short:"d" help:"Print the unit file path instead of the description"`
	} `cmd:"" help:"List units with their states"`

	History struct {
		N int `short:"n" default:"20" help:"Number of transitions to print"`
	} `cmd:"" help:"Print recently recorded transitions"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("svcnotify"),
		kong.Description("Desktop notifications for systemd service state changes."),
		kong.Vars{"config_path": config.DefaultPath},
	)

	ctx := context.Background()
	opts := app.Options{
		ConfigPath: CLI.Config,
		LogLevel:   CLI.LogLevel,
		Args:       os.Args[1:],
	}

	var err error
	switch kctx.Command() {
	case "watch":
		if CLI.Watch.Check {
			err = app.RunCheck(ctx, CLI.Watch.User, sdbus.JobRemovedRuleNeedles()...)
			break
		}
		err = app.RunWatcher(ctx, app.WatchOptions{Options: opts, User: CLI.Watch.User})
	case "relay":
		if CLI.Relay.Check {
			err = app.RunCheck(ctx, false, relay.Interface)
			break
		}
		err = app.RunRelay(ctx, opts)
	case "list":
		err = app.RunList(ctx, CLI.List.User, svclist.Options{
			Filter: svclist.Filter{
				Types:      CLI.List.Type,
				Loaded:     CLI.List.Loaded,
				Active:     CLI.List.Active,
				SubActive:  CLI.List.SubActive,
				FileState:  CLI.List.FileState,
				FilePreset: CLI.List.FilePreset,
			},
			SortBy:   CLI.List.SortBy,
			DescFile: CLI.List.DescFile,
		})
	case "history":
		err = app.RunHistory(ctx, CLI.Config, CLI.History.N, logx.Stdout())
	default:
		kctx.Fatalf("unknown command %q", kctx.Command())
	}

	if err != nil {
		logx.NewConsole("info").Error("fatal", logx.String("command", kctx.Command()), logx.Err(err))
		os.Exit(1)
	}
}
