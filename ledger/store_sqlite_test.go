package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "fleetbook.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("close store: %v", cerr)
		}
	})
	return store
}

func sampleSnapshot() Snapshot {
	vid := "1"
	return Snapshot{
		Records: []RevenueRecord{
			{ID: 1, Date: day("2024-03-01"), VehicleID: "1", ExpectedAmount: decimal.NewFromInt(12000), PaidAmount: decimal.NewFromInt(9000), TripType: TripCity},
			{ID: 2, Date: day("2024-03-02"), VehicleID: "1", ExpectedAmount: decimal.NewFromInt(12000), PaidAmount: decimal.RequireFromString("12500.25"), TripType: TripAirport},
		},
		Vehicles:  []Vehicle{{ID: 1, Plate: "ABC 123", Model: "Prius", Owner: "Acme"}},
		Operators: []Operator{{ID: 1, Name: "Ana", AssociatedVehicleID: &vid}},
		Notes:     []MonthlyNote{{ID: 1, Month: "2024-03", Text: "busy"}},
	}
}

func TestStoreReplaceSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.ReplaceSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Source != SourceCache {
		t.Fatalf("source = %q, want cache", got.Source)
	}
	if len(got.Records) != 2 || len(got.Vehicles) != 1 || len(got.Operators) != 1 || len(got.Notes) != 1 {
		t.Fatalf("unexpected counts %v", got.Counts())
	}
	if !got.Records[1].PaidAmount.Equal(decimal.RequireFromString("12500.25")) {
		t.Fatalf("paid amount = %s", got.Records[1].PaidAmount)
	}
	if !got.Records[0].Date.Equal(day("2024-03-01")) {
		t.Fatalf("date = %v", got.Records[0].Date)
	}
	if got.Operators[0].AssociatedVehicleID == nil || *got.Operators[0].AssociatedVehicleID != "1" {
		t.Fatalf("operator vehicle lost: %+v", got.Operators[0])
	}

	// A second replace with fewer rows must drop the old ones.
	smaller := Snapshot{Vehicles: []Vehicle{{ID: 9, Plate: "NEW 1"}}}
	if err := store.ReplaceSnapshot(ctx, smaller); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err = store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Records) != 0 || len(got.Notes) != 0 || len(got.Vehicles) != 1 || got.Vehicles[0].ID != 9 {
		t.Fatalf("replace left stale rows: %+v", got.Counts())
	}
}

func TestStorePutDeleteOrdering(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, id := range []int64{10, 2, 33} {
		if err := store.Put(ctx, Vehicle{ID: id, Plate: "P"}); err != nil {
			t.Fatalf("put %d: %v", id, err)
		}
	}
	if err := store.Put(ctx, Vehicle{ID: 2, Plate: "UPDATED"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	es, err := store.GetAll(ctx, CollectionVehicles)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if got := keys(es); len(got) != 3 || got[0] != "2" || got[1] != "10" || got[2] != "33" {
		t.Fatalf("keys = %v, want numeric order", got)
	}
	if es[0].(Vehicle).Plate != "UPDATED" {
		t.Fatalf("put did not upsert: %+v", es[0])
	}

	if err := store.Delete(ctx, CollectionVehicles, "10"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, CollectionVehicles, "404"); err != nil {
		t.Fatalf("deleting a missing key should be fine: %v", err)
	}
	es, _ = store.GetAll(ctx, CollectionVehicles)
	if len(es) != 2 {
		t.Fatalf("expected 2 vehicles, got %d", len(es))
	}
}

func TestStoreNotesKeyedByMonth(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Put(ctx, MonthlyNote{Month: "2024-02", Text: "a"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, MonthlyNote{Month: "2024-02", Text: "b"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	es, err := store.GetAll(ctx, CollectionNotes)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(es) != 1 || es[0].(MonthlyNote).Text != "b" {
		t.Fatalf("notes = %+v", es)
	}
}

func TestStoreSettings(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	v, err := store.GetSetting(ctx, SettingReception, "true")
	if err != nil || v != "true" {
		t.Fatalf("default setting = %q err=%v", v, err)
	}
	if err := store.SetSetting(ctx, SettingReception, "false"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetSetting(ctx, SettingLastSync, "2024-03-01T00:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, _ = store.GetSetting(ctx, SettingReception, "true")
	if v != "false" {
		t.Fatalf("setting = %q, want false", v)
	}

	st, err := store.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.LastSync != "2024-03-01T00:00:00Z" || st.Counts[CollectionRecords] != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStoreSessionExpiry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	if tok, err := store.LoadSession(ctx, now); err != nil || tok != "" {
		t.Fatalf("empty session = %q err=%v", tok, err)
	}
	if err := store.SaveSession(ctx, "tok-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tok, _ := store.LoadSession(ctx, now.Add(30*time.Minute)); tok != "tok-1" {
		t.Fatalf("session = %q, want tok-1", tok)
	}
	if tok, _ := store.LoadSession(ctx, now.Add(time.Hour)); tok != "" {
		t.Fatalf("expired session still returned: %q", tok)
	}
	if err := store.SaveSession(ctx, "tok-2", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.ClearSession(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if tok, _ := store.LoadSession(ctx, now); tok != "" {
		t.Fatalf("cleared session still returned: %q", tok)
	}
}

func TestStoreReplaceSnapshotRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	store := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM records").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectPrepare("INSERT INTO records").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = store.ReplaceSnapshot(context.Background(), sampleSnapshot())
	if !errors.Is(err, ErrLocalStoreUnavailable) {
		t.Fatalf("expected ErrLocalStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreReplaceAllSwapsOneCollection(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.ReplaceSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("replace snapshot: %v", err)
	}

	fresh := []Entity{
		Vehicle{ID: 9, Plate: "NEW 9"},
		Vehicle{ID: 3, Plate: "NEW 3"},
	}
	if err := store.ReplaceAll(ctx, CollectionVehicles, fresh); err != nil {
		t.Fatalf("replace vehicles: %v", err)
	}

	got, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Vehicles) != 2 || got.Vehicles[0].ID != 3 || got.Vehicles[1].ID != 9 {
		t.Fatalf("vehicles = %+v, want ids 3,9", got.Vehicles)
	}
	if _, ok := findKey(got.Entities(CollectionVehicles), "1"); ok {
		t.Fatalf("old vehicle 1 survived the replace")
	}

	want := sampleSnapshot()
	for _, c := range []Collection{CollectionRecords, CollectionOperators, CollectionNotes} {
		if g, w := keys(got.Entities(c)), keys(want.Entities(c)); !slices.Equal(g, w) {
			t.Fatalf("%s keys = %v, want %v", c, g, w)
		}
	}
	if !got.Records[1].PaidAmount.Equal(decimal.RequireFromString("12500.25")) {
		t.Fatalf("record 2 paid = %s", got.Records[1].PaidAmount)
	}

	if err := store.ReplaceAll(ctx, CollectionVehicles, nil); err != nil {
		t.Fatalf("clear vehicles: %v", err)
	}
	got, err = store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Vehicles) != 0 || len(got.Operators) != 1 {
		t.Fatalf("after clearing vehicles: %d vehicles, %d operators", len(got.Vehicles), len(got.Operators))
	}
}

func TestStoreReplaceAllRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	store := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM vehicles").WillReturnResult(sqlmock.NewResult(0, 1))
	insert := mock.ExpectPrepare("INSERT INTO vehicles")
	insert.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	insert.ExpectExec().WillReturnError(errors.New("UNIQUE constraint failed"))
	mock.ExpectRollback()

	err = store.ReplaceAll(context.Background(), CollectionVehicles, []Entity{
		Vehicle{ID: 1, Plate: "A 1"},
		Vehicle{ID: 2, Plate: "B 2"},
	})
	if !errors.Is(err, ErrLocalStoreUnavailable) {
		t.Fatalf("expected ErrLocalStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreReplaceAllUnknownCollection(t *testing.T) {
	store := openTestStore(t)
	if err := store.ReplaceAll(context.Background(), Collection("trips"), nil); err == nil {
		t.Fatal("expected an error for an unknown collection")
	}
}

func TestStoreGetSettingFailureReturnsDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	store := &Store{db: db}

	mock.ExpectQuery("SELECT v FROM settings").WithArgs(SettingReception).WillReturnError(errors.New("database is locked"))

	v, err := store.GetSetting(context.Background(), SettingReception, "true")
	if !errors.Is(err, ErrLocalStoreUnavailable) {
		t.Fatalf("expected ErrLocalStoreUnavailable, got %v", err)
	}
	if v != "true" {
		t.Fatalf("value = %q, want default", v)
	}
}

func TestStoreUnknownCollection(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetAll(context.Background(), Collection("trips")); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
