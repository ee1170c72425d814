// ABOUTME: Read-only statistics over a ledger snapshot: vehicle totals, operator rankings,
// ABOUTME: monthly summaries and deficit listings. Pure functions, no I/O.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harperreed/fleetbook/ledger"
)

// Totals accumulates expected and paid amounts over a set of records.
type Totals struct {
	Records  int
	Expected decimal.Decimal
	Paid     decimal.Decimal
	Deficits int
}

func (t *Totals) add(r ledger.RevenueRecord) {
	t.Records++
	t.Expected = t.Expected.Add(r.ExpectedAmount)
	t.Paid = t.Paid.Add(r.PaidAmount)
	if r.Classification() == ledger.Deficit {
		t.Deficits++
	}
}

// Variance is Paid minus Expected.
func (t Totals) Variance() decimal.Decimal { return t.Paid.Sub(t.Expected) }

// Class buckets the overall variance.
func (t Totals) Class() ledger.VarianceClass { return ledger.Classify(t.Variance()) }

// VehicleTotal is the revenue summary of one vehicle.
type VehicleTotal struct {
	VehicleID string
	Plate     string
	Totals
}

// OperatorRank is one row of the driver ranking.
type OperatorRank struct {
	Rank int
	Name string
	Totals
}

// TripTotal aggregates records of one trip type.
type TripTotal struct {
	TripType ledger.TripType
	Totals
}

// MonthReport summarises one calendar month.
type MonthReport struct {
	Month string
	Totals
	ByTrip []TripTotal
	Note   string
}

// inMonth reports whether r falls in month; an empty month matches everything.
func inMonth(r ledger.RevenueRecord, month string) bool {
	return month == "" || r.Month() == month
}

// ValidateMonth checks a "YYYY-MM" argument. Empty means all months.
func ValidateMonth(month string) error {
	if month == "" {
		return nil
	}
	if _, err := time.Parse(ledger.MonthLayout, month); err != nil {
		return fmt.Errorf("month %q must be YYYY-MM", month)
	}
	return nil
}

// VehicleTotals groups records by vehicle. Vehicles without records are
// included with zero totals so the fleet list is complete.
func VehicleTotals(snap ledger.Snapshot, month string) []VehicleTotal {
	byID := map[string]*VehicleTotal{}
	for _, v := range snap.Vehicles {
		id := v.Key()
		byID[id] = &VehicleTotal{VehicleID: id, Plate: v.Plate}
	}
	for _, r := range snap.Records {
		if !inMonth(r, month) {
			continue
		}
		vt, ok := byID[r.VehicleID]
		if !ok {
			vt = &VehicleTotal{VehicleID: r.VehicleID}
			byID[r.VehicleID] = vt
		}
		vt.add(r)
	}

	out := make([]VehicleTotal, 0, len(byID))
	for _, vt := range byID {
		out = append(out, *vt)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Paid.Cmp(out[j].Paid); c != 0 {
			return c > 0
		}
		return out[i].VehicleID < out[j].VehicleID
	})
	return out
}

// OperatorRanking ranks drivers by paid total, highest first. Records
// without an operator name are not ranked.
func OperatorRanking(snap ledger.Snapshot, month string) []OperatorRank {
	byName := map[string]*OperatorRank{}
	for _, r := range snap.Records {
		if !inMonth(r, month) {
			continue
		}
		name := strings.TrimSpace(r.OperatorName)
		if name == "" {
			continue
		}
		or, ok := byName[strings.ToLower(name)]
		if !ok {
			or = &OperatorRank{Name: name}
			byName[strings.ToLower(name)] = or
		}
		or.add(r)
	}

	out := make([]OperatorRank, 0, len(byName))
	for _, or := range byName {
		out = append(out, *or)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Paid.Cmp(out[j].Paid); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

var tripOrder = map[ledger.TripType]int{
	ledger.TripCity:      0,
	ledger.TripIntercity: 1,
	ledger.TripAirport:   2,
}

func tripRank(t ledger.TripType) int {
	if r, ok := tripOrder[t]; ok {
		return r
	}
	return len(tripOrder)
}

// Monthly builds the report for month, including its note if one exists.
func Monthly(snap ledger.Snapshot, month string) (MonthReport, error) {
	if month == "" {
		return MonthReport{}, fmt.Errorf("month is required")
	}
	if err := ValidateMonth(month); err != nil {
		return MonthReport{}, err
	}
	rep := MonthReport{Month: month}
	byTrip := map[ledger.TripType]*TripTotal{}
	for _, r := range snap.Records {
		if r.Month() != month {
			continue
		}
		rep.add(r)
		tt, ok := byTrip[r.TripType]
		if !ok {
			tt = &TripTotal{TripType: r.TripType}
			byTrip[r.TripType] = tt
		}
		tt.add(r)
	}
	for _, tt := range byTrip {
		rep.ByTrip = append(rep.ByTrip, *tt)
	}
	sort.Slice(rep.ByTrip, func(i, j int) bool {
		return tripRank(rep.ByTrip[i].TripType) < tripRank(rep.ByTrip[j].TripType)
	})
	if n, ok := snap.Note(month); ok {
		rep.Note = n.Text
	}
	return rep, nil
}

// Deficits lists records paid below quota, worst first.
func Deficits(snap ledger.Snapshot, month string) []ledger.RevenueRecord {
	var out []ledger.RevenueRecord
	for _, r := range snap.Records {
		if inMonth(r, month) && r.Classification() == ledger.Deficit {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Variance().Cmp(out[j].Variance()); c != 0 {
			return c < 0
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Months lists every month that has records or a note, newest first.
func Months(snap ledger.Snapshot) []string {
	seen := map[string]bool{}
	for _, r := range snap.Records {
		if !r.Date.IsZero() {
			seen[r.Month()] = true
		}
	}
	for _, n := range snap.Notes {
		seen[n.Month] = true
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
