// ABOUTME: entities.go implements list/add/update/delete for records, vehicles,
// ABOUTME: operators and monthly notes on top of the syncer's write intents.
package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harperreed/fleetbook/cmd/internal/appcli"
	"github.com/harperreed/fleetbook/ledger"
)

// commonFlags are shared by every entity subcommand.
type commonFlags struct {
	retries   int
	noRefresh bool
	month     string
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.IntVar(&c.retries, "retries", 3, "attempts for transient backend failures")
	fs.BoolVar(&c.noRefresh, "no-refresh", false, "list from the local mirror without refreshing")
	fs.StringVar(&c.month, "month", "", "limit to one month (YYYY-MM)")
}

func subcommand(name string, args []string) (string, []string, error) {
	if len(args) < 1 {
		return "", nil, fmt.Errorf("%s requires a subcommand: list | add | update | delete", name)
	}
	return args[0], args[1:], nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseAmount(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return d, nil
}

// setFlags reports which flags were given explicitly.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// runWrite applies the intent built by build, retrying transient failures.
func runWrite(cfg *parsedConfig, common *commonFlags, verb string, build func(context.Context, *appcli.App) (ledger.Intent, error)) error {
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		in, err := build(ctx, app)
		if err != nil {
			return err
		}
		res, err := app.Write(ctx, in, common.retries)
		if err != nil {
			return err
		}
		reportWrite(verb, res)
		if res.Refresh != nil && res.Refresh.Status != ledger.RefreshSynced {
			fmt.Fprintf(stdout, "follow-up refresh %s\n", res.Refresh.Status)
		}
		return nil
	})
}

// runList gates on page, optionally refreshes, and hands over the snapshot.
func runList(cfg *parsedConfig, common *commonFlags, page string, fn func(ledger.Snapshot) error) error {
	return runApp(cfg.runtime, func(ctx context.Context, app *appcli.App) error {
		if err := requirePage(ctx, app, page); err != nil {
			return err
		}
		if !common.noRefresh {
			refreshFirst(ctx, app)
		}
		return fn(app.Syncer().Snapshot())
	})
}

// --- records ---

type recordFlags struct {
	date, vehicle, expected, paid, operator, trip, notes string
}

func (f *recordFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.date, "date", "", "day of the record (YYYY-MM-DD, default today)")
	fs.StringVar(&f.vehicle, "vehicle", "", "vehicle id")
	fs.StringVar(&f.expected, "expected", "", "expected amount (quota)")
	fs.StringVar(&f.paid, "paid", "", "paid amount")
	fs.StringVar(&f.operator, "operator", "", "operator name")
	fs.StringVar(&f.trip, "trip", "", "trip type: city, intercity or airport")
	fs.StringVar(&f.notes, "notes", "", "free-text notes")
}

func (f *recordFlags) apply(set map[string]bool, r *ledger.RevenueRecord) error {
	if set["date"] {
		d, err := time.Parse(ledger.DateLayout, f.date)
		if err != nil {
			return fmt.Errorf("invalid date %q: want YYYY-MM-DD", f.date)
		}
		r.Date = d
	}
	if set["vehicle"] {
		r.VehicleID = strings.TrimSpace(f.vehicle)
	}
	if set["expected"] {
		d, err := parseAmount("expected amount", f.expected)
		if err != nil {
			return err
		}
		r.ExpectedAmount = d
	}
	if set["paid"] {
		d, err := parseAmount("paid amount", f.paid)
		if err != nil {
			return err
		}
		r.PaidAmount = d
	}
	if set["operator"] {
		r.OperatorName = strings.TrimSpace(f.operator)
	}
	if set["trip"] {
		r.TripType = ledger.TripType(strings.ToLower(strings.TrimSpace(f.trip)))
	}
	if set["notes"] {
		r.Notes = f.notes
	}
	return nil
}

func cmdRecords(args []string) error {
	sub, rest, err := subcommand("records", args)
	if err != nil {
		return err
	}
	var (
		common commonFlags
		fields recordFlags
	)
	cfg, err := loadRuntimeConfig("records "+sub, rest, func(fs *flag.FlagSet) {
		common.bind(fs)
		fields.bind(fs)
	})
	if err != nil {
		return err
	}
	fs := cfg.flagSet
	set := setFlags(fs)

	switch sub {
	case "list":
		return runList(cfg, &common, ledger.PageRecords, func(snap ledger.Snapshot) error {
			tw := newTable()
			fmt.Fprintln(tw, "ID\tDATE\tVEHICLE\tOPERATOR\tTRIP\tEXPECTED\tPAID\tVARIANCE\tCLASS")
			for _, r := range snap.Records {
				if common.month != "" && r.Month() != common.month {
					continue
				}
				if set["vehicle"] && r.VehicleID != fields.vehicle {
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Date.Format(ledger.DateLayout), r.VehicleID, r.OperatorName, r.TripType,
					r.ExpectedAmount.StringFixed(2), r.PaidAmount.StringFixed(2), r.Variance().StringFixed(2), r.Classification())
			}
			return tw.Flush()
		})
	case "add":
		return runWrite(cfg, &common, "created", func(context.Context, *appcli.App) (ledger.Intent, error) {
			r := ledger.RevenueRecord{Date: time.Now().UTC().Truncate(24 * time.Hour)}
			if err := fields.apply(set, &r); err != nil {
				return ledger.Intent{}, err
			}
			return ledger.Create(r), nil
		})
	case "update":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: records update [flags] <id>")
		}
		id, err := parseID(fs.Arg(0))
		if err != nil {
			return err
		}
		return runWrite(cfg, &common, "updated", func(_ context.Context, app *appcli.App) (ledger.Intent, error) {
			r, ok := app.Syncer().Snapshot().Record(id)
			if !ok {
				return ledger.Intent{}, fmt.Errorf("%w: record %d (run 'fleetbook refresh')", ledger.ErrResourceMissing, id)
			}
			if err := fields.apply(set, &r); err != nil {
				return ledger.Intent{}, err
			}
			return ledger.Update(r), nil
		})
	case "delete":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: records delete <id>")
		}
		id, err := parseID(fs.Arg(0))
		if err != nil {
			return err
		}
		return runWrite(cfg, &common, "deleted", func(context.Context, *appcli.App) (ledger.Intent, error) {
			return ledger.Delete(ledger.RevenueRecord{ID: id}), nil
		})
	default:
		return fmt.Errorf("unknown records subcommand: %s", sub)
	}
}

// --- vehicles ---

type vehicleFlags struct{ plate, model string }

func (f *vehicleFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.plate, "plate", "", "licence plate")
	fs.StringVar(&f.model, "model", "", "vehicle model")
}

func (f *vehicleFlags) apply(set map[string]bool, v *ledger.Vehicle) {
	if set["plate"] {
		v.Plate = f.plate
	}
	if set["model"] {
		v.Model = f.model
	}
}

func cmdVehicles(args []string) error {
	sub, rest, err := subcommand("vehicles", args)
	if err != nil {
		return err
	}
	var (
		common commonFlags
		fields vehicleFlags
	)
	cfg, err := loadRuntimeConfig("vehicles "+sub, rest, func(fs *flag.FlagSet) {
		common.bind(fs)
		fields.bind(fs)
	})
	if err != nil {
		return err
	}
	fs := cfg.flagSet
	set := setFlags(fs)

	switch sub {
	case "list":
		return runList(cfg, &common, ledger.PageVehicles, func(snap ledger.Snapshot) error {
			tw := newTable()
			fmt.Fprintln(tw, "ID\tPLATE\tMODEL\tOWNER")
			for _, v := range snap.Vehicles {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.ID, v.Plate, v.Model, v.Owner)
			}
			return tw.Flush()
		})
	case "add":
		return runWrite(cfg, &common, "created", func(context.Context, *appcli.App) (ledger.Intent, error) {
			var v ledger.Vehicle
			fields.apply(set, &v)
			return ledger.Create(v), nil
		})
	case "update":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: vehicles update [flags] <id>")
		}
		id, err := parseID(fs.Arg(0))
		if err != nil {
			return err
		}
		return runWrite(cfg, &common, "updated", func(_ context.Context, app *appcli.App) (ledger.Intent, error) {
			for _, v := range app.Syncer().Snapshot().Vehicles {
				if v.ID == id {
					fields.apply(set, &v)
					return ledger.Update(v), nil
				}
			}
			return ledger.Intent{}, fmt.Errorf("%w: vehicle %d", ledger.ErrResourceMissing, id)
		})
	case "delete":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: vehicles delete <id>")
		}
		id, err := parseID(fs.Arg(0))
		if err != nil {
			return err
		}
		return runWrite(cfg, &common, "deleted", func(context.Context, *appcli.App) (ledger.Intent, error) {
			return ledger.Delete(ledger.Vehicle{ID: id}), nil
		})
	default:
		return fmt.Errorf("unknown vehicles subcommand: %s", sub)
	}
}

// --- operators ---

type operatorFlags struct{ name, phone, vehicle, photo string }

func (f *operatorFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "operator name")
	fs.StringVar(&f.phone, "phone", "", "phone number")
	fs.StringVar(&f.vehicle, "vehicle", "", "associated vehicle id (empty clears)")
	fs.StringVar(&f.photo, "photo", "", "photo URL")
}

func (f *operatorFlags) apply(set map[string]bool, o *ledger.Operator) {
	if set["name"] {
		o.Name = strings.TrimSpace(f.name)
	}
	if set["phone"] {
		o.Phone = strings.TrimSpace(f.phone)
	}
	if set["vehicle"] {
		if v := strings.TrimSpace(f.vehicle); v != "" {
			o.AssociatedVehicleID = &v
		} else {
			o.AssociatedVehicleID = nil
		}
	}
	if set["photo"] {
		o.Photo = f.photo
	}
}

func cmdOperators(args []string) error {
	sub, rest, err := subcommand("operators", args)
	if err != nil {
		return err
	}
	var (
		common commonFlags
		fields operatorFlags
	)
	cfg, err := loadRuntimeConfig("operators "+sub, rest, func(fs *flag.FlagSet) {
		common.bind(fs)
		fields.bind(fs)
	})
	if err != nil {
		return err
	}
	fs := cfg.flagSet
	set := setFlags(fs)

	switch sub {
	case "list":
		return runList(cfg, &common, ledger.PageOperators, func(snap ledger.Snapshot) error {
			tw := newTable()
			fmt.Fprintln(tw, "ID\tNAME\tPHONE\tVEHICLE")
			for _, o := range snap.Operators {
				vehicle := ""
				if o.AssociatedVehicleID != nil {
					vehicle = *o.AssociatedVehicleID
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", o.ID, o.Name, o.Phone, vehicle)
			}
			return tw.Flush()
		})
	case "add":
		return runWrite(cfg, &common, "created", func(context.Context, *appcli.App) (ledger.Intent, error) {
			var o ledger.Operator
			fields.apply(set, &o)
			return ledger.Create(o), nil
		})
	case "update":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: operators update [flags] <id>")
		}
		id, err := parseID(fs.Arg(0))
		if err != nil {
			return err
		}
		return runWrite(cfg, &common, "updated", func(_ context.Context, app *appcli.App) (ledger.Intent, error) {
			for _, o := range app.Syncer().Snapshot().Operators {
				if o.ID == id {
					fields.apply(set, &o)
					return ledger.Update(o), nil
				}
			}
			return ledger.Intent{}, fmt.Errorf("%w: operator %d", ledger.ErrResourceMissing, id)
		})
	case "delete":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: operators delete <id>")
		}
		id, err := parseID(fs.Arg(0))
		if err != nil {
			return err
		}
		return runWrite(cfg, &common, "deleted", func(context.Context, *appcli.App) (ledger.Intent, error) {
			return ledger.Delete(ledger.Operator{ID: id}), nil
		})
	default:
		return fmt.Errorf("unknown operators subcommand: %s", sub)
	}
}

// --- monthly notes ---

// cmdNotes manages month notes. add and update both upsert by month.
func cmdNotes(args []string) error {
	sub, rest, err := subcommand("notes", args)
	if err != nil {
		return err
	}
	var common commonFlags
	cfg, err := loadRuntimeConfig("notes "+sub, rest, common.bind)
	if err != nil {
		return err
	}
	fs := cfg.flagSet

	switch sub {
	case "list":
		return runList(cfg, &common, ledger.PageReports, func(snap ledger.Snapshot) error {
			tw := newTable()
			fmt.Fprintln(tw, "MONTH\tTEXT")
			for _, n := range snap.Notes {
				if common.month != "" && n.Month != common.month {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\n", n.Month, n.Text)
			}
			return tw.Flush()
		})
	case "add", "update":
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: notes %s <YYYY-MM> <text>", sub)
		}
		note := ledger.MonthlyNote{Month: fs.Arg(0), Text: strings.Join(fs.Args()[1:], " ")}
		return runWrite(cfg, &common, "saved", func(context.Context, *appcli.App) (ledger.Intent, error) {
			return ledger.Create(note), nil
		})
	case "delete":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: notes delete <YYYY-MM>")
		}
		month := fs.Arg(0)
		return runWrite(cfg, &common, "deleted", func(context.Context, *appcli.App) (ledger.Intent, error) {
			return ledger.Delete(ledger.MonthlyNote{Month: month}), nil
		})
	default:
		return fmt.Errorf("unknown notes subcommand: %s", sub)
	}
}
