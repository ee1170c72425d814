package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the on-device mirror of the remote collections plus settings
// and the login session.
type Store struct {
	db *sql.DB
}

var tableFor = map[Collection]string{
	CollectionRecords:   "records",
	CollectionVehicles:  "vehicles",
	CollectionOperators: "operators",
	CollectionNotes:     "monthly_notes",
}

// OpenStore opens/creates a SQLite database and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("open", err)
	}
	// One connection keeps replace transactions and readers strictly ordered.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, storeErr("migrate", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS records (
  k TEXT PRIMARY KEY,
  ord INTEGER NOT NULL,
  body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
  k TEXT PRIMARY KEY,
  ord INTEGER NOT NULL,
  body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS operators (
  k TEXT PRIMARY KEY,
  ord INTEGER NOT NULL,
  body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS monthly_notes (
  k TEXT PRIMARY KEY,
  ord INTEGER NOT NULL,
  body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  token TEXT NOT NULL,
  expires_at INTEGER NOT NULL
);
`)
	return err
}

func table(c Collection) (string, error) {
	t, ok := tableFor[c]
	if !ok {
		return "", &ValidationError{Collection: c, Problems: []string{"unknown collection"}}
	}
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ReplaceAll clears collection c and inserts items in one transaction, so
// readers see either the old or the new contents.
func (s *Store) ReplaceAll(ctx context.Context, c Collection, items []Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("replace "+string(c), err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := replaceIn(ctx, tx, c, items); err != nil {
		return storeErr("replace "+string(c), err)
	}
	return storeErr("replace "+string(c), tx.Commit())
}

// ReplaceSnapshot rewrites all four collections in a single transaction.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("replace snapshot", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, c := range Collections {
		if err := replaceIn(ctx, tx, c, snap.Entities(c)); err != nil {
			return storeErr("replace snapshot", err)
		}
	}
	return storeErr("replace snapshot", tx.Commit())
}

func replaceIn(ctx context.Context, tx *sql.Tx, c Collection, items []Entity) error {
	t, err := table(c)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+t+`(k, ord, body) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer func() {
		_ = stmt.Close()
	}()
	for _, e := range items {
		body, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.Key(), entityID(e), string(body)); err != nil {
			return err
		}
	}
	return nil
}

// GetAll returns collection c in key order.
func (s *Store) GetAll(ctx context.Context, c Collection) ([]Entity, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM `+t+` ORDER BY ord ASC, k ASC`)
	if err != nil {
		return nil, storeErr("read "+string(c), err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Entity
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, storeErr("read "+string(c), err)
		}
		e, err := decodeStored(c, []byte(body))
		if err != nil {
			return nil, storeErr("decode "+string(c), err)
		}
		out = append(out, e)
	}
	return out, storeErr("read "+string(c), rows.Err())
}

// LoadSnapshot reads all four collections.
func (s *Store) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Source: SourceCache}
	for _, c := range Collections {
		es, err := s.GetAll(ctx, c)
		if err != nil {
			return Snapshot{}, err
		}
		snap = snap.withCollection(c, es)
	}
	return snap, nil
}

// Put upserts one entity.
func (s *Store) Put(ctx context.Context, e Entity) error {
	return storeErr("put "+string(e.Collection()), s.put(ctx, s.db, e))
}

func (s *Store) put(ctx context.Context, ex execer, e Entity) error {
	t, err := table(e.Collection())
	if err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO `+t+`(k, ord, body) VALUES(?,?,?)
ON CONFLICT(k) DO UPDATE SET ord=excluded.ord, body=excluded.body`,
		e.Key(), entityID(e), string(body))
	return err
}

// Delete removes one entity; deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, c Collection, key string) error {
	t, err := table(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM `+t+` WHERE k = ?`, key)
	return storeErr("delete "+string(c), err)
}

func decodeStored(c Collection, body []byte) (Entity, error) {
	switch c {
	case CollectionRecords:
		var v RevenueRecord
		err := json.Unmarshal(body, &v)
		return v, err
	case CollectionVehicles:
		var v Vehicle
		err := json.Unmarshal(body, &v)
		return v, err
	case CollectionOperators:
		var v Operator
		err := json.Unmarshal(body, &v)
		return v, err
	case CollectionNotes:
		var v MonthlyNote
		err := json.Unmarshal(body, &v)
		return v, err
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

// GetSetting fetches a setting with default fallback.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM settings WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, storeErr("get setting", err)
	}
	return v, nil
}

// SetSetting stores a setting.
func (s *Store) SetSetting(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, val)
	return storeErr("set setting", err)
}

// LoadSession returns the persisted session token, or "" when none is
// stored or it has expired.
func (s *Store) LoadSession(ctx context.Context, now time.Time) (string, error) {
	var token string
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT token, expires_at FROM session WHERE id = 1`).Scan(&token, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("load session", err)
	}
	if now.Unix() >= expires {
		return "", nil
	}
	return token, nil
}

// SaveSession persists a session token until expires.
func (s *Store) SaveSession(ctx context.Context, token string, expires time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session(id, token, expires_at) VALUES(1,?,?)
ON CONFLICT(id) DO UPDATE SET token=excluded.token, expires_at=excluded.expires_at`,
		token, expires.Unix())
	return storeErr("save session", err)
}

// ClearSession forgets the persisted session.
func (s *Store) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session`)
	return storeErr("clear session", err)
}

// StoreStatus summarizes the mirror for status output.
type StoreStatus struct {
	Counts   map[Collection]int
	LastSync string
}

// Status returns row counts and the last successful sync time.
func (s *Store) Status(ctx context.Context) (StoreStatus, error) {
	st := StoreStatus{Counts: make(map[Collection]int, len(Collections))}
	for _, c := range Collections {
		t, _ := table(c)
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
			return StoreStatus{}, storeErr("status", err)
		}
		st.Counts[c] = n
	}
	last, err := s.GetSetting(ctx, SettingLastSync, "")
	if err != nil {
		return StoreStatus{}, err
	}
	st.LastSync = last
	return st, nil
}
