// ABOUTME: Domain types for the fleet ledger: revenue records, vehicles, operators, notes.
// ABOUTME: Every persisted type implements Entity so the syncer can treat collections uniformly.
package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Collection names a remote resource and its local mirror table.
type Collection string

const (
	CollectionRecords   Collection = "records"
	CollectionVehicles  Collection = "vehicles"
	CollectionOperators Collection = "operators"
	CollectionNotes     Collection = "monthly-notes"
)

// Collections lists every synced collection in refresh order.
var Collections = []Collection{CollectionRecords, CollectionVehicles, CollectionOperators, CollectionNotes}

// Valid reports whether c is one of the synced collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Entity is implemented by every synced domain type.
type Entity interface {
	Collection() Collection
	// Key is the local store key: the decimal id, or the month for notes.
	Key() string
	Validate() error
}

// DateLayout is the calendar-day format used on the wire.
const DateLayout = "2006-01-02"

// MonthLayout is the key format of monthly notes.
const MonthLayout = "2006-01"

// TripType classifies a revenue record.
type TripType string

const (
	TripCity      TripType = "city"
	TripIntercity TripType = "intercity"
	TripAirport   TripType = "airport"
)

func (t TripType) valid() bool {
	switch t {
	case TripCity, TripIntercity, TripAirport:
		return true
	}
	return false
}

// VarianceClass describes how a paid amount compares to the quota.
type VarianceClass string

const (
	Deficit VarianceClass = "deficit"
	Exact   VarianceClass = "exact"
	Surplus VarianceClass = "surplus"
)

// RevenueRecord is one day of revenue for one vehicle.
type RevenueRecord struct {
	ID             int64           `json:"id"`
	Date           time.Time       `json:"date"`
	VehicleID      string          `json:"vehicleId"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	OperatorName   string          `json:"operatorName"`
	TripType       TripType        `json:"tripType"`
	Notes          string          `json:"notes"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (r RevenueRecord) Collection() Collection { return CollectionRecords }
func (r RevenueRecord) Key() string            { return idKey(r.ID) }

// Variance is PaidAmount minus ExpectedAmount.
func (r RevenueRecord) Variance() decimal.Decimal {
	return r.PaidAmount.Sub(r.ExpectedAmount)
}

// Classification buckets the variance by sign.
func (r RevenueRecord) Classification() VarianceClass {
	return Classify(r.Variance())
}

// Classify buckets a variance by sign.
func Classify(v decimal.Decimal) VarianceClass {
	switch v.Sign() {
	case -1:
		return Deficit
	case 1:
		return Surplus
	default:
		return Exact
	}
}

// Month returns the record's "YYYY-MM" bucket.
func (r RevenueRecord) Month() string { return r.Date.Format(MonthLayout) }

// Validate checks required fields.
func (r RevenueRecord) Validate() error {
	var problems []string
	if r.Date.IsZero() {
		problems = append(problems, "date is required")
	}
	if strings.TrimSpace(r.VehicleID) == "" {
		problems = append(problems, "vehicle id is required")
	}
	if r.ExpectedAmount.IsNegative() {
		problems = append(problems, "expected amount must not be negative")
	}
	if r.PaidAmount.IsNegative() {
		problems = append(problems, "paid amount must not be negative")
	}
	if r.TripType != "" && !r.TripType.valid() {
		problems = append(problems, "unknown trip type "+strconv.Quote(string(r.TripType)))
	}
	return validationErr(CollectionRecords, problems)
}

// Vehicle is a taxi in the fleet. Plate is the business key.
type Vehicle struct {
	ID    int64  `json:"id"`
	Plate string `json:"plate"`
	Model string `json:"model"`
	Owner string `json:"owner"`
}

func (v Vehicle) Collection() Collection { return CollectionVehicles }
func (v Vehicle) Key() string            { return idKey(v.ID) }

func (v Vehicle) Validate() error {
	var problems []string
	if strings.TrimSpace(v.Plate) == "" {
		problems = append(problems, "plate is required")
	}
	return validationErr(CollectionVehicles, problems)
}

// NormalizePlate upper-cases and trims a licence plate.
func NormalizePlate(p string) string {
	return strings.ToUpper(strings.Join(strings.Fields(p), " "))
}

// Operator is a driver.
type Operator struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	Phone               string  `json:"phone"`
	AssociatedVehicleID *string `json:"associatedVehicleId,omitempty"`
	Photo               string  `json:"photo,omitempty"`
}

func (o Operator) Collection() Collection { return CollectionOperators }
func (o Operator) Key() string            { return idKey(o.ID) }

func (o Operator) Validate() error {
	var problems []string
	if strings.TrimSpace(o.Name) == "" {
		problems = append(problems, "name is required")
	}
	return validationErr(CollectionOperators, problems)
}

// MonthlyNote is a free-text note attached to one month.
type MonthlyNote struct {
	ID        int64     `json:"id,omitempty"`
	Month     string    `json:"month"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n MonthlyNote) Collection() Collection { return CollectionNotes }
func (n MonthlyNote) Key() string            { return n.Month }

func (n MonthlyNote) Validate() error {
	var problems []string
	if _, err := time.Parse(MonthLayout, n.Month); err != nil {
		problems = append(problems, "month must be YYYY-MM")
	}
	return validationErr(CollectionNotes, problems)
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

// entityID returns the numeric id of id-keyed entities, 0 for notes.
func entityID(e Entity) int64 {
	switch v := e.(type) {
	case RevenueRecord:
		return v.ID
	case Vehicle:
		return v.ID
	case Operator:
		return v.ID
	case MonthlyNote:
		return v.ID
	}
	return 0
}

// withID returns a copy of e carrying id.
func withID(e Entity, id int64) Entity {
	switch v := e.(type) {
	case RevenueRecord:
		v.ID = id
		return v
	case Vehicle:
		v.ID = id
		return v
	case Operator:
		v.ID = id
		return v
	case MonthlyNote:
		v.ID = id
		return v
	}
	return e
}
