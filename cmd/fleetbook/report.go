// ABOUTME: report.go prints vehicle totals, operator rankings, monthly summaries
// ABOUTME: and deficit listings computed from the current snapshot.
package main

import (
	"flag"
	"fmt"

	"github.com/harperreed/fleetbook/cmd/fleetbook/internal/report"
	"github.com/harperreed/fleetbook/ledger"
)

func cmdReport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("report requires a subcommand: vehicles | operators | month | deficits | months")
	}
	sub := args[0]
	var common commonFlags
	cfg, err := loadRuntimeConfig("report "+sub, args[1:], func(fs *flag.FlagSet) { common.bind(fs) })
	if err != nil {
		return err
	}
	if err := report.ValidateMonth(common.month); err != nil {
		return err
	}

	page := ledger.PageReports
	switch sub {
	case "vehicles":
		page = ledger.PageStatistics
	case "operators":
		page = ledger.PageRankings
	}

	return runList(cfg, &common, page, func(snap ledger.Snapshot) error {
		switch sub {
		case "vehicles":
			return printVehicleTotals(report.VehicleTotals(snap, common.month))
		case "operators":
			return printRanking(report.OperatorRanking(snap, common.month))
		case "month":
			month := common.month
			if month == "" && cfg.flagSet.NArg() > 0 {
				month = cfg.flagSet.Arg(0)
			}
			rep, err := report.Monthly(snap, month)
			if err != nil {
				return err
			}
			return printMonth(rep)
		case "deficits":
			return printDeficits(report.Deficits(snap, common.month))
		case "months":
			for _, m := range report.Months(snap) {
				fmt.Fprintln(stdout, m)
			}
			return nil
		default:
			return fmt.Errorf("unknown report: %s", sub)
		}
	})
}

func printVehicleTotals(rows []report.VehicleTotal) error {
	tw := newTable()
	fmt.Fprintln(tw, "VEHICLE\tPLATE\tRECORDS\tEXPECTED\tPAID\tVARIANCE\tDEFICITS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n", r.VehicleID, r.Plate, r.Records,
			r.Expected.StringFixed(2), r.Paid.StringFixed(2), r.Variance().StringFixed(2), r.Deficits)
	}
	return tw.Flush()
}

func printRanking(rows []report.OperatorRank) error {
	tw := newTable()
	fmt.Fprintln(tw, "#\tOPERATOR\tRECORDS\tPAID\tVARIANCE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", r.Rank, r.Name, r.Records, r.Paid.StringFixed(2), r.Variance().StringFixed(2))
	}
	return tw.Flush()
}

func printMonth(rep report.MonthReport) error {
	fmt.Fprintf(stdout, "Month:     %s\n", rep.Month)
	fmt.Fprintf(stdout, "Records:   %d\n", rep.Records)
	fmt.Fprintf(stdout, "Expected:  %s\n", rep.Expected.StringFixed(2))
	fmt.Fprintf(stdout, "Paid:      %s\n", rep.Paid.StringFixed(2))
	fmt.Fprintf(stdout, "Variance:  %s (%s)\n", rep.Variance().StringFixed(2), rep.Class())
	if rep.Note != "" {
		fmt.Fprintf(stdout, "Note:      %s\n", rep.Note)
	}
	if len(rep.ByTrip) == 0 {
		return nil
	}
	fmt.Fprintln(stdout)
	tw := newTable()
	fmt.Fprintln(tw, "TRIP\tRECORDS\tEXPECTED\tPAID")
	for _, t := range rep.ByTrip {
		name := string(t.TripType)
		if name == "" {
			name = "(unspecified)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", name, t.Records, t.Expected.StringFixed(2), t.Paid.StringFixed(2))
	}
	return tw.Flush()
}

func printDeficits(rows []ledger.RevenueRecord) error {
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "no deficits")
		return nil
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tDATE\tVEHICLE\tOPERATOR\tEXPECTED\tPAID\tVARIANCE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Date.Format(ledger.DateLayout), r.VehicleID, r.OperatorName,
			r.ExpectedAmount.StringFixed(2), r.PaidAmount.StringFixed(2), r.Variance().StringFixed(2))
	}
	return tw.Flush()
}
