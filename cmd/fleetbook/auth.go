// ABOUTME: auth.go implements login, logout, and status commands for the fleetbook CLI.
// ABOUTME: Sessions are resolved from access codes and kept in the local mirror.
package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harperreed/fleetbook/cmd/internal/appcli"
	"github.com/harperreed/fleetbook/ledger"
)

var allPages = []string{
	ledger.PageDashboard, ledger.PageStatistics, ledger.PageRankings, ledger.PageReports,
	ledger.PageRecords, ledger.PageAddRecord, ledger.PageVehicles, ledger.PageOperators, ledger.PageSettings,
}

// cmdLogin resolves an access code to a role and stores the session.
func cmdLogin(args []string) error {
	cfg, err := loadRuntimeConfig("login", args, nil)
	if err != nil {
		return err
	}
	if cfg.flagSet.NArg() < 1 {
		return fmt.Errorf("usage: login <access-code>")
	}
	code := cfg.flagSet.Arg(0)

	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		role, err := app.Login(ctx, code)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		info, _ := app.Access().Session(ctx)
		fmt.Fprintf(stdout, "✓ Logged in as %s\n", role)
		if !info.ExpiresAt.IsZero() {
			fmt.Fprintf(stdout, "Session expires: %s\n", info.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	})
}

// cmdLogout clears the stored session.
func cmdLogout(args []string) error {
	cfg, err := loadRuntimeConfig("logout", args, nil)
	if err != nil {
		return err
	}
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		if app.Access().CurrentRole(ctx) == ledger.RoleNone {
			fmt.Fprintln(stdout, "Not logged in")
			return nil
		}
		if err := app.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "✓ Logged out successfully")
		return nil
	})
}

// cmdStatus shows configuration, session, and mirror status.
func cmdStatus(args []string) error {
	cfg, err := loadRuntimeConfig("status", args, nil)
	if err != nil {
		return err
	}
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		st, err := app.Status(ctx)
		if err != nil && !errors.Is(err, ledger.ErrLocalStoreUnavailable) {
			return err
		}

		fmt.Fprintf(stdout, "Config path: %s\n", ConfigPath())
		fmt.Fprintf(stdout, "Device ID:   %s\n", valueOrNone(cfg.runtime.DeviceID))
		fmt.Fprintf(stdout, "Server:      %s\n", valueOrNone(st.Remote))
		fmt.Fprintf(stdout, "Local DB:    %s\n", cfg.runtime.DBPath)
		fmt.Fprintf(stdout, "Reception:   %s\n", onOff(st.Reception))

		printSessionStatus(st.Session)
		if st.Role != ledger.RoleNone {
			var pages []string
			for _, p := range allPages {
				if ledger.PageAllowed(st.Role, p) {
					pages = append(pages, p)
				}
			}
			fmt.Fprintf(stdout, "Pages:       %v\n", pages)
		}

		fmt.Fprintln(stdout)
		if st.Store == nil {
			fmt.Fprintln(stdout, "Local mirror: unavailable (running in memory)")
			return nil
		}
		fmt.Fprintf(stdout, "Last sync:   %s\n", valueOrNone(st.Store.LastSync))
		names := make([]string, 0, len(st.Store.Counts))
		for c := range st.Store.Counts {
			names = append(names, string(c))
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(stdout, "  %-14s %d\n", n, st.Store.Counts[ledger.Collection(n)])
		}
		return nil
	})
}

func printSessionStatus(info ledger.SessionInfo) {
	fmt.Fprintln(stdout)
	if info.Role == ledger.RoleNone {
		fmt.Fprintln(stdout, "Status: Not logged in")
		return
	}
	fmt.Fprintf(stdout, "Role:        %s\n", info.Role)
	if info.ExpiresAt.IsZero() {
		return
	}
	remaining := time.Until(info.ExpiresAt)
	fmt.Fprintf(stdout, "Session:     valid (expires in %s)\n", remaining.Round(time.Second))
}

// valueOrNone returns the value or "(not set)" if empty.
func valueOrNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
