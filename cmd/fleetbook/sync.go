// ABOUTME: sync.go implements refresh and watch: one-shot and background refresh
// ABOUTME: of the local mirror from the backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harperreed/fleetbook/cmd/internal/appcli"
	"github.com/harperreed/fleetbook/ledger"
)

func cmdRefresh(args []string) error {
	cfg, err := loadRuntimeConfig("refresh", args, nil)
	if err != nil {
		return err
	}
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		res, conflicts := app.Refresh(ctx)
		printRefresh(res)
		for _, c := range conflicts {
			fmt.Fprintf(stdout, "  local %s %s %s\n", c.Collection, c.Key, c.Kind)
		}
		if res.Status == ledger.RefreshDegraded {
			return fmt.Errorf("refresh failed: %w", describeRefreshErr(res))
		}
		return nil
	})
}

func printRefresh(res ledger.RefreshResult) {
	fmt.Fprintf(stdout, "Refresh %s in %s\n", res.Status, res.Duration.Round(time.Millisecond))
	for _, c := range ledger.Collections {
		if err, ok := res.Failed[c]; ok {
			fmt.Fprintf(stdout, "  %-14s failed: %v\n", c, err)
			continue
		}
		if n, ok := res.Counts[c]; ok {
			fmt.Fprintf(stdout, "  %-14s %d\n", c, n)
		}
	}
	if res.Err != nil && len(res.Failed) == 0 {
		fmt.Fprintf(stdout, "  %v\n", res.Err)
	}
}

// cmdWatch refreshes on an interval until interrupted, printing counts on change.
func cmdWatch(args []string) error {
	cfg, err := loadRuntimeConfig("watch", args, nil)
	if err != nil {
		return err
	}
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cancel := app.Syncer().Subscribe(func(s ledger.Snapshot) {
			c := s.Counts()
			fmt.Fprintf(stdout, "%s  source=%s records=%d vehicles=%d operators=%d notes=%d\n",
				time.Now().Format(time.TimeOnly), s.Source,
				c[ledger.CollectionRecords], c[ledger.CollectionVehicles],
				c[ledger.CollectionOperators], c[ledger.CollectionNotes])
		})
		defer cancel()

		fmt.Fprintln(stdout, "Watching for changes (Ctrl+C to stop)...")
		if err := app.Syncer().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}
