// ABOUTME: Backend row schemas and the app-field <-> column mapping for each collection.
// ABOUTME: Rows are validated against embedded JSON Schemas before they become entities.
package ledger

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// FieldMapping pairs an in-app field name with its backend column.
type FieldMapping struct {
	Field  string
	Column string
}

// fieldMap is the authoritative naming table between the app and the backend.
var fieldMap = map[Collection][]FieldMapping{
	CollectionRecords: {
		{"id", "id"},
		{"date", "date"},
		{"vehicleId", "vehicle_id"},
		{"expectedAmount", "expected_amount"},
		{"paidAmount", "paid_amount"},
		{"operatorName", "operator_name"},
		{"tripType", "trip_type"},
		{"notes", "notes"},
		{"createdAt", "created_at"},
	},
	CollectionVehicles: {
		{"id", "id"},
		{"plate", "plate"},
		{"model", "model"},
		{"owner", "owner"},
	},
	CollectionOperators: {
		{"id", "id"},
		{"name", "name"},
		{"phone", "phone"},
		{"associatedVehicleId", "vehicle_id"},
		{"photo", "photo_url"},
	},
	CollectionNotes: {
		{"id", "id"},
		{"month", "month"},
		{"text", "note_text"},
		{"createdAt", "created_at"},
	},
}

// FieldMap returns the field mapping table of a collection.
func FieldMap(c Collection) []FieldMapping {
	out := make([]FieldMapping, len(fieldMap[c]))
	copy(out, fieldMap[c])
	return out
}

// ColumnFor translates an app field name to its backend column.
func ColumnFor(c Collection, field string) (string, bool) {
	for _, m := range fieldMap[c] {
		if m.Field == field {
			return m.Column, true
		}
	}
	return "", false
}

// keyField is the app field each collection is addressed by.
func keyField(c Collection) string {
	if c == CollectionNotes {
		return "month"
	}
	return "id"
}

type recordRow struct {
	ID             int64           `json:"id,omitempty"`
	Date           string          `json:"date"`
	VehicleID      string          `json:"vehicle_id"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	OperatorName   string          `json:"operator_name"`
	TripType       string          `json:"trip_type"`
	Notes          string          `json:"notes"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

type vehicleRow struct {
	ID    int64  `json:"id,omitempty"`
	Plate string `json:"plate"`
	Model string `json:"model"`
	Owner string `json:"owner"`
}

type operatorRow struct {
	ID        int64   `json:"id,omitempty"`
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	VehicleID *string `json:"vehicle_id"`
	PhotoURL  string  `json:"photo_url"`
}

type noteRow struct {
	ID        int64  `json:"id,omitempty"`
	Month     string `json:"month"`
	NoteText  string `json:"note_text"`
	CreatedAt string `json:"created_at,omitempty"`
}

// toRow converts an entity into its backend row. The id is dropped so the
// backend assigns it on insert and never sees it in a PATCH body.
func toRow(e Entity) (any, error) {
	switch v := e.(type) {
	case RevenueRecord:
		tt := v.TripType
		if tt == "" {
			tt = TripCity
		}
		return recordRow{
			Date:           v.Date.Format(DateLayout),
			VehicleID:      strings.TrimSpace(v.VehicleID),
			ExpectedAmount: v.ExpectedAmount,
			PaidAmount:     v.PaidAmount,
			OperatorName:   v.OperatorName,
			TripType:       string(tt),
			Notes:          v.Notes,
		}, nil
	case Vehicle:
		return vehicleRow{Plate: NormalizePlate(v.Plate), Model: v.Model, Owner: v.Owner}, nil
	case Operator:
		return operatorRow{Name: v.Name, Phone: v.Phone, VehicleID: v.AssociatedVehicleID, PhotoURL: v.Photo}, nil
	case MonthlyNote:
		return noteRow{Month: v.Month, NoteText: v.Text}, nil
	}
	return nil, fmt.Errorf("unsupported entity %T", e)
}

// fromRow decodes one already-validated row.
func fromRow(c Collection, raw json.RawMessage) (Entity, error) {
	switch c {
	case CollectionRecords:
		var r recordRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		day, err := time.Parse(DateLayout, firstN(r.Date, len(DateLayout)))
		if err != nil {
			return nil, fmt.Errorf("record %d: date: %w", r.ID, err)
		}
		tt := TripType(strings.ToLower(strings.TrimSpace(r.TripType)))
		if tt == "" {
			tt = TripCity
		}
		return RevenueRecord{
			ID:             r.ID,
			Date:           day,
			VehicleID:      r.VehicleID,
			ExpectedAmount: r.ExpectedAmount,
			PaidAmount:     r.PaidAmount,
			OperatorName:   r.OperatorName,
			TripType:       tt,
			Notes:          r.Notes,
			CreatedAt:      parseTimestamp(r.CreatedAt),
		}, nil
	case CollectionVehicles:
		var r vehicleRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return Vehicle{ID: r.ID, Plate: r.Plate, Model: r.Model, Owner: r.Owner}, nil
	case CollectionOperators:
		var r operatorRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return Operator{ID: r.ID, Name: r.Name, Phone: r.Phone, AssociatedVehicleID: r.VehicleID, Photo: r.PhotoURL}, nil
	case CollectionNotes:
		var r noteRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return MonthlyNote{ID: r.ID, Month: r.Month, Text: r.NoteText, CreatedAt: parseTimestamp(r.CreatedAt)}, nil
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstN(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

//go:embed schemas/*.json
var schemaFS embed.FS

// rowValidator holds one compiled schema per collection.
type rowValidator struct {
	schemas map[Collection]*jsonschema.Schema
}

func newRowValidator() (*rowValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	v := &rowValidator{schemas: make(map[Collection]*jsonschema.Schema, len(Collections))}
	for _, coll := range Collections {
		name := "schemas/" + string(coll) + ".schema.json"
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("row schema %s: %w", coll, err)
		}
		schemaURL := "https://fleetbook.schemas.local/" + string(coll) + ".schema.json"
		if err := c.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("row schema load %s: %w", coll, err)
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("row schema compile %s: %w", coll, err)
		}
		v.schemas[coll] = compiled
	}
	return v, nil
}

// decode validates and converts each row; rejected rows are reported, not returned.
func (v *rowValidator) decode(c Collection, rows []json.RawMessage) ([]Entity, []error) {
	schema, ok := v.schemas[c]
	if !ok {
		return nil, []error{fmt.Errorf("no schema for %q", c)}
	}
	out := make([]Entity, 0, len(rows))
	var rejected []error
	for i, raw := range rows {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			rejected = append(rejected, fmt.Errorf("%s row %d: %w", c, i, err))
			continue
		}
		if err := schema.Validate(doc); err != nil {
			rejected = append(rejected, &ValidationError{Collection: c, Problems: []string{fmt.Sprintf("row %d: %v", i, err)}})
			continue
		}
		e, err := fromRow(c, raw)
		if err != nil {
			rejected = append(rejected, &ValidationError{Collection: c, Problems: []string{fmt.Sprintf("row %d: %v", i, err)}})
			continue
		}
		out = append(out, e)
	}
	return out, rejected
}

// splitRows accepts either a JSON array of rows or a single row object.
func splitRows(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	return []json.RawMessage{json.RawMessage(body)}, nil
}
