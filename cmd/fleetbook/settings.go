// ABOUTME: settings.go implements the reception toggle and generic local settings.
// ABOUTME: Settings live in the local mirror only; reception changes need a manager.
package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/harperreed/fleetbook/cmd/internal/appcli"
	"github.com/harperreed/fleetbook/ledger"
)

// cmdReception shows or flips the reception toggle.
func cmdReception(args []string) error {
	cfg, err := loadRuntimeConfig("reception", args, nil)
	if err != nil {
		return err
	}
	fs := cfg.flagSet
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		if fs.NArg() == 0 {
			fmt.Fprintf(stdout, "reception %s\n", onOff(app.Syncer().ReceptionEnabled(ctx)))
			return nil
		}
		var enabled bool
		switch fs.Arg(0) {
		case "on":
			enabled = true
		case "off":
		default:
			return fmt.Errorf("usage: reception [on|off]")
		}
		if err := requirePage(ctx, app, ledger.PageSettings); err != nil {
			return err
		}
		if err := app.Syncer().SetReception(ctx, enabled); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "reception %s\n", onOff(enabled))
		return nil
	})
}

// cmdSetting reads or writes one of the known local settings.
func cmdSetting(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("setting requires a subcommand: get | set | list")
	}
	sub := args[0]
	cfg, err := loadRuntimeConfig("setting "+sub, args[1:], nil)
	if err != nil {
		return err
	}
	fs := cfg.flagSet

	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		if err := requirePage(ctx, app, ledger.PageSettings); err != nil {
			return err
		}
		switch sub {
		case "list":
			for _, k := range ledger.KnownSettings {
				fmt.Fprintf(stdout, "%s = %s\n", k, app.Syncer().Setting(ctx, k, ""))
			}
			return nil
		case "get":
			if fs.NArg() < 1 {
				return fmt.Errorf("usage: setting get <key>")
			}
			key := fs.Arg(0)
			if !slices.Contains(ledger.KnownSettings, key) {
				return fmt.Errorf("unknown setting %q (known: %v)", key, ledger.KnownSettings)
			}
			fmt.Fprintln(stdout, app.Syncer().Setting(ctx, key, ""))
			return nil
		case "set":
			if fs.NArg() < 2 {
				return fmt.Errorf("usage: setting set <key> <value>")
			}
			key, value := fs.Arg(0), fs.Arg(1)
			if !slices.Contains(ledger.KnownSettings, key) {
				return fmt.Errorf("unknown setting %q (known: %v)", key, ledger.KnownSettings)
			}
			if err := app.Syncer().SetSetting(ctx, key, value); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s = %s\n", key, value)
			return nil
		default:
			return fmt.Errorf("unknown setting subcommand: %s", sub)
		}
	})
}
