// ABOUTME: Shared command plumbing: builds runtime config from file plus flags
// ABOUTME: and runs a command body against a wired appcli.App.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/harperreed/fleetbook/cmd/internal/appcli"
	"github.com/harperreed/fleetbook/ledger"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

type parsedConfig struct {
	runtime appcli.RuntimeConfig
	flagSet *flag.FlagSet
}

// loadRuntimeConfig merges the config file with command flags. extra binds
// command-specific flags before parsing.
func loadRuntimeConfig(name string, args []string, extra func(*flag.FlagSet)) (*parsedConfig, error) {
	fileCfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	rtCfg := appcli.RuntimeConfig{
		DBPath:          fileCfg.DB,
		DeviceID:        fileCfg.DeviceID,
		ServerURL:       fileCfg.Server,
		APIKey:          fileCfg.APIKey,
		AuthToken:       fileCfg.Token,
		Timeout:         fileCfg.Timeout,
		RateLimit:       fileCfg.RateLimit,
		RetryWait:       fileCfg.RetryWait,
		ViewerCode:      fileCfg.ViewerCode,
		ManagerCode:     fileCfg.ManagerCode,
		SessionSecret:   fileCfg.SessionSecret,
		FleetOwner:      fileCfg.FleetOwner,
		RefreshInterval: fileCfg.RefreshInterval,
		LogLevel:        fileCfg.LogLevel,
		LogFormat:       fileCfg.LogFormat,
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	rtCfg.BindFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &parsedConfig{runtime: rtCfg, flagSet: fs}, nil
}

func runApp(cfg appcli.RuntimeConfig, fn func(context.Context, *appcli.App) error) (err error) {
	ctx := context.Background()
	opts := cfg.Options()
	opts.Logger = appcli.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	app, err := appcli.NewApp(opts)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, app)
}

// requirePage fails unless the current session may open page.
func requirePage(ctx context.Context, app *appcli.App, page string) error {
	role := app.Access().CurrentRole(ctx)
	if role == ledger.RoleNone {
		return fmt.Errorf("%w: run 'fleetbook login <code>' first", ledger.ErrUnauthenticated)
	}
	if !app.Access().CanAccessPage(ctx, page) {
		return fmt.Errorf("%w: %s is not available to %s", ledger.ErrAccessDenied, page, role)
	}
	return nil
}

// refreshFirst refreshes and reports anything other than a clean sync on stderr.
func refreshFirst(ctx context.Context, app *appcli.App) {
	res, conflicts := app.Refresh(ctx)
	switch res.Status {
	case ledger.RefreshSkipped:
		fmt.Fprintln(os.Stderr, "reception is off: showing local data")
	case ledger.RefreshDegraded:
		fmt.Fprintf(os.Stderr, "refresh degraded: %v\n", describeRefreshErr(res))
	}
	for _, c := range conflicts {
		fmt.Fprintf(os.Stderr, "local %s %s %s by refresh\n", c.Collection, c.Key, c.Kind)
	}
}

func describeRefreshErr(res ledger.RefreshResult) error {
	if res.Err != nil {
		return res.Err
	}
	var errs []error
	for _, c := range ledger.Collections {
		if err, ok := res.Failed[c]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return errors.Join(errs...)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
}

// reportWrite prints the outcome of a write.
func reportWrite(verb string, res ledger.WriteResult) {
	where := "synced"
	if !res.Remote {
		where = "local only, replaced on next refresh"
	}
	fmt.Fprintf(stdout, "%s %s %s (%s)\n", verb, res.Entity.Collection(), res.Entity.Key(), where)
}
