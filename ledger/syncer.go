// ABOUTME: Syncer owns the in-memory Snapshot and keeps the local store as its mirror.
// ABOUTME: It gates refreshes and writes by role and degrades per collection on fetch failures.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RoleSource reports the role of the current session.
type RoleSource interface {
	CurrentRole(ctx context.Context) Role
}

// LocalStore is the durable mirror the Syncer writes through.
type LocalStore interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	ReplaceSnapshot(ctx context.Context, snap Snapshot) error
	Put(ctx context.Context, e Entity) error
	Delete(ctx context.Context, c Collection, key string) error
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, val string) error
}

var _ LocalStore = (*Store)(nil)

// RefreshStatus is the outcome of a Refresh.
type RefreshStatus string

const (
	RefreshSynced   RefreshStatus = "synced"
	RefreshSkipped  RefreshStatus = "skipped"
	RefreshDegraded RefreshStatus = "degraded"
)

// RefreshResult describes one Refresh call.
type RefreshResult struct {
	RunID    string
	Status   RefreshStatus
	Failed   map[Collection]error // per-collection fetch failures
	Counts   map[Collection]int
	Err      error // why the refresh was degraded
	Duration time.Duration
}

// WriteResult describes an applied write intent.
type WriteResult struct {
	Intent  Intent
	Entity  Entity // the entity as stored, with its server or local id
	Remote  bool   // true when the backend accepted the mutation
	Refresh *RefreshResult
}

// SyncEvents provides hooks for observability during refresh.
type SyncEvents struct {
	OnStart    func(runID string)                    // Called when refresh begins
	OnFetch    func(c Collection, n int, err error) // Called once per collection fetch
	OnComplete func(res RefreshResult)               // Called when refresh finishes
}

// Syncer coordinates the remote backend, the local store and the Snapshot.
type Syncer struct {
	remote Remote
	store  LocalStore
	access RoleSource
	cfg    SyncerConfig
	log    *slog.Logger
	events *SyncEvents

	meters metric.MeterProvider
	traces trace.TracerProvider
	tel    *telemetry

	mu   sync.RWMutex
	snap Snapshot

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	trigger chan struct{}
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithSyncerConfig sets fleet owner and refresh interval.
func WithSyncerConfig(cfg SyncerConfig) SyncerOption {
	return func(s *Syncer) { s.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.log = l }
}

// WithEvents installs refresh hooks.
func WithEvents(ev *SyncEvents) SyncerOption {
	return func(s *Syncer) { s.events = ev }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) SyncerOption {
	return func(s *Syncer) { s.meters = mp }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) SyncerOption {
	return func(s *Syncer) { s.traces = tp }
}

// NewSyncer wires the coordinator. remote and store may be nil; a nil
// store means every operation runs in memory only.
func NewSyncer(remote Remote, store LocalStore, access RoleSource, opts ...SyncerOption) (*Syncer, error) {
	if access == nil {
		return nil, errors.New("syncer requires an access controller")
	}
	s := &Syncer{
		remote:  remote,
		store:   store,
		access:  access,
		log:     slog.Default().With("component", "syncer"),
		subs:    make(map[int]func(Snapshot)),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	tel, err := newTelemetry(s.meters, s.traces)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	s.tel = tel
	return s, nil
}

// Snapshot returns a copy of the current snapshot. It never does I/O.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Subscribe registers fn to receive every new Snapshot. Call the returned
// function to unsubscribe.
func (s *Syncer) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Syncer) swap(next Snapshot) {
	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
	s.notify(next)
}

func (s *Syncer) notify(snap Snapshot) {
	s.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn(snap.Clone())
	}
}

// LoadCache replaces the Snapshot with the local store contents. It is
// used at startup and whenever a refresh cannot reach the backend.
func (s *Syncer) LoadCache(ctx context.Context) error {
	if s.store == nil {
		return ErrLocalStoreUnavailable
	}
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	snap.Source = SourceCache
	s.swap(snap)
	return nil
}

func (s *Syncer) loadCacheOrKeep(ctx context.Context) {
	if err := s.LoadCache(ctx); err != nil {
		s.log.WarnContext(ctx, "cache unavailable, keeping current snapshot", "error", err)
	}
}

// Refresh pulls all four collections and replaces the Snapshot and the
// local mirror together. See RefreshStatus for the possible outcomes.
func (s *Syncer) Refresh(ctx context.Context) (res RefreshResult) {
	start := time.Now()
	res.RunID = ulid.Make().String()
	ctx, span := s.tel.tracer.Start(ctx, "ledger.Refresh", trace.WithAttributes(attribute.String("run_id", res.RunID)))
	if s.events != nil && s.events.OnStart != nil {
		s.events.OnStart(res.RunID)
	}
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Int("failed", len(res.Failed)))
		if res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		s.tel.refreshed(ctx, res.Status, res.Duration)
		s.log.InfoContext(ctx, "refresh finished",
			"run_id", res.RunID,
			"status", string(res.Status),
			"failed", len(res.Failed),
			"duration", res.Duration,
		)
		if s.events != nil && s.events.OnComplete != nil {
			s.events.OnComplete(res)
		}
	}()

	if s.access.CurrentRole(ctx) != RoleManager && !s.ReceptionEnabled(ctx) {
		s.loadCacheOrKeep(ctx)
		res.Status = RefreshSkipped
		res.Counts = s.Snapshot().Counts()
		return res
	}

	if s.remote == nil || !s.remote.Configured() {
		s.loadCacheOrKeep(ctx)
		res.Status = RefreshDegraded
		res.Err = ErrNotConfigured
		res.Counts = s.Snapshot().Counts()
		return res
	}

	fetched, failed := s.fetchAll(ctx)
	res.Failed = failed
	if len(failed) == len(Collections) {
		errs := make([]error, 0, len(failed))
		for _, c := range Collections {
			errs = append(errs, fmt.Errorf("%s: %w", c, failed[c]))
		}
		s.loadCacheOrKeep(ctx)
		res.Status = RefreshDegraded
		res.Err = errors.Join(errs...)
		res.Counts = s.Snapshot().Counts()
		return res
	}

	next := Snapshot{SyncedAt: time.Now().UTC(), Source: SourceRemote}
	for _, c := range Collections {
		next = next.withCollection(c, fetched[c])
	}
	s.swap(next)
	s.persist(ctx, next)

	res.Status = RefreshSynced
	res.Counts = next.Counts()
	return res
}

type fetchResult struct {
	entities []Entity
	err      error
}

// fetchAll runs one fetch per collection concurrently and waits for all of
// them. A failed collection comes back empty and is listed in failed.
func (s *Syncer) fetchAll(ctx context.Context) (map[Collection][]Entity, map[Collection]error) {
	results := make([]fetchResult, len(Collections))
	var wg sync.WaitGroup
	for i, c := range Collections {
		wg.Add(1)
		go func(i int, c Collection) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = fetchResult{err: fmt.Errorf("fetch %s panicked: %v", c, r)}
				}
			}()
			es, err := s.remote.FetchAll(ctx, c)
			results[i] = fetchResult{entities: es, err: err}
		}(i, c)
	}
	wg.Wait()

	fetched := make(map[Collection][]Entity, len(Collections))
	failed := make(map[Collection]error)
	for i, c := range Collections {
		r := results[i]
		if r.err != nil {
			failed[c] = r.err
			s.tel.fetchFailed(ctx, c)
			s.log.WarnContext(ctx, "fetch failed, using empty collection", "collection", string(c), "error", r.err)
			r.entities = nil
		}
		fetched[c] = r.entities
		if s.events != nil && s.events.OnFetch != nil {
			s.events.OnFetch(c, len(r.entities), r.err)
		}
	}
	return fetched, failed
}

func (s *Syncer) persist(ctx context.Context, snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.ReplaceSnapshot(ctx, snap); err != nil {
		s.log.WarnContext(ctx, "local mirror not updated", "error", err)
		return
	}
	if err := s.store.SetSetting(ctx, SettingLastSync, snap.SyncedAt.Format(time.RFC3339)); err != nil {
		s.log.WarnContext(ctx, "last sync not recorded", "error", err)
	}
}

// Write applies a create, update or delete intent.
//
// Managers mutate the backend first; nothing local changes unless the
// backend accepts, and a successful remote mutation is always followed by
// a full Refresh (reported in WriteResult.Refresh). Viewers write only to
// the local mirror, with new ids assigned as max(existing)+1.
func (s *Syncer) Write(ctx context.Context, in Intent) (WriteResult, error) {
	if in.ID == "" {
		in.ID = ulid.Make().String()
	}
	if v, ok := in.Entity.(Vehicle); ok {
		v.Plate = NormalizePlate(v.Plate)
		if s.cfg.FleetOwner != "" {
			v.Owner = s.cfg.FleetOwner
		}
		in.Entity = v
	}

	var coll Collection
	if in.Entity != nil {
		coll = in.Entity.Collection()
	}
	ctx, span := s.tel.tracer.Start(ctx, "ledger.Write", trace.WithAttributes(
		attribute.String("intent_id", in.ID),
		attribute.String("op", string(in.Op)),
		attribute.String("collection", string(coll)),
	))
	defer span.End()

	if err := in.Validate(); err != nil {
		s.tel.wrote(ctx, in.Op, "invalid")
		span.SetStatus(codes.Error, err.Error())
		return WriteResult{Intent: in}, err
	}

	var (
		res WriteResult
		err error
	)
	switch s.access.CurrentRole(ctx) {
	case RoleManager:
		res, err = s.writeRemote(ctx, in)
	case RoleViewer:
		res, err = s.writeLocal(ctx, in)
	default:
		err = ErrUnauthenticated
		res = WriteResult{Intent: in}
	}
	if err != nil {
		s.tel.wrote(ctx, in.Op, "failed")
		span.SetStatus(codes.Error, err.Error())
		s.log.WarnContext(ctx, "write rejected", "intent_id", in.ID, "op", string(in.Op), "collection", string(coll), "error", err)
		return res, err
	}
	outcome := "local"
	if res.Remote {
		outcome = "remote"
	}
	s.tel.wrote(ctx, in.Op, outcome)
	s.log.InfoContext(ctx, "write applied", "intent_id", in.ID, "op", string(in.Op), "collection", string(coll), "key", res.Entity.Key(), "remote", res.Remote)
	return res, nil
}

func (s *Syncer) writeRemote(ctx context.Context, in Intent) (WriteResult, error) {
	res := WriteResult{Intent: in}
	// Checked again here, independent of the caller, before touching the backend.
	if s.access.CurrentRole(ctx) != RoleManager {
		return res, ErrAccessDenied
	}
	if s.remote == nil || !s.remote.Configured() {
		return res, ErrNotConfigured
	}

	c := in.Entity.Collection()
	var (
		stored Entity
		err    error
	)
	switch in.Op {
	case OpCreate:
		stored, err = s.remote.Create(ctx, in.Entity)
	case OpUpdate:
		stored, err = s.remote.Update(ctx, in.Entity)
	case OpDelete:
		err = s.remote.Remove(ctx, c, in.Entity.Key())
		stored = in.Entity
	}
	if err != nil {
		return res, err
	}
	res.Entity = stored
	res.Remote = true

	if k := stored.Key(); k != "" && k != "0" {
		_, _ = s.mutate(ctx, in.Op, c, func(es []Entity) ([]Entity, Entity, error) {
			if in.Op == OpDelete {
				return removeEntity(es, k), stored, nil
			}
			return upsertEntity(es, stored), stored, nil
		})
	}

	refresh := s.Refresh(ctx)
	res.Refresh = &refresh
	return res, nil
}

func (s *Syncer) writeLocal(ctx context.Context, in Intent) (WriteResult, error) {
	res := WriteResult{Intent: in}
	c := in.Entity.Collection()
	now := time.Now().UTC()

	changed, err := s.mutate(ctx, in.Op, c, func(es []Entity) ([]Entity, Entity, error) {
		e := in.Entity
		if v, ok := e.(Vehicle); ok && in.Op != OpDelete {
			if err := plateAvailable(es, v, in.Op); err != nil {
				return nil, nil, err
			}
		}
		switch in.Op {
		case OpCreate:
			switch v := e.(type) {
			case MonthlyNote:
				if prev, ok := findKey(es, v.Key()); ok {
					v.ID = entityID(prev)
					v.CreatedAt = prev.(MonthlyNote).CreatedAt
				}
				if v.CreatedAt.IsZero() {
					v.CreatedAt = now
				}
				e = v
			case RevenueRecord:
				v.ID = nextLocalID(es)
				if v.CreatedAt.IsZero() {
					v.CreatedAt = now
				}
				if v.TripType == "" {
					v.TripType = TripCity
				}
				e = v
			default:
				e = withID(e, nextLocalID(es))
			}
			return upsertEntity(es, e), e, nil
		case OpUpdate:
			if _, ok := findKey(es, e.Key()); !ok {
				return nil, nil, fmt.Errorf("%w: %s %s", ErrResourceMissing, c, e.Key())
			}
			return upsertEntity(es, e), e, nil
		default:
			return removeEntity(es, e.Key()), e, nil
		}
	})
	if err != nil {
		return res, err
	}
	res.Entity = changed
	return res, nil
}

// mutate applies fn to collection c under the snapshot lock, swaps in the
// result and mirrors the single changed entity to the store.
func (s *Syncer) mutate(ctx context.Context, op Op, c Collection, fn func([]Entity) ([]Entity, Entity, error)) (Entity, error) {
	s.mu.Lock()
	cur := s.snap
	es, changed, err := fn(cur.Entities(c))
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next := cur.withCollection(c, es)
	next.Source = SourceLocalWrite
	s.snap = next
	s.mu.Unlock()
	s.notify(next)

	if s.store == nil {
		return changed, nil
	}
	var serr error
	if op == OpDelete {
		serr = s.store.Delete(ctx, c, changed.Key())
	} else {
		serr = s.store.Put(ctx, changed)
	}
	if serr != nil {
		s.log.WarnContext(ctx, "local mirror not updated", "collection", string(c), "key", changed.Key(), "error", serr)
	}
	return changed, nil
}

// plateAvailable rejects v when another vehicle already holds its plate.
func plateAvailable(es []Entity, v Vehicle, op Op) error {
	plate := NormalizePlate(v.Plate)
	for _, e := range es {
		other, ok := e.(Vehicle)
		if !ok || (op == OpUpdate && other.Key() == v.Key()) {
			continue
		}
		if NormalizePlate(other.Plate) == plate {
			return validationErr(CollectionVehicles, []string{fmt.Sprintf("plate %q already registered", plate)})
		}
	}
	return nil
}

func findKey(es []Entity, key string) (Entity, bool) {
	for _, e := range es {
		if e.Key() == key {
			return e, true
		}
	}
	return nil, false
}

// ReceptionEnabled reports whether viewers may contact the backend.
func (s *Syncer) ReceptionEnabled(ctx context.Context) bool {
	return parseBoolSetting(s.Setting(ctx, SettingReception, ""), receptionDefault)
}

// SetReception flips the reception toggle. Managers only.
func (s *Syncer) SetReception(ctx context.Context, enabled bool) error {
	return s.SetSetting(ctx, SettingReception, fmt.Sprint(enabled))
}

// Setting reads a local setting; an unavailable store yields def.
func (s *Syncer) Setting(ctx context.Context, key, def string) string {
	if s.store == nil {
		return def
	}
	v, err := s.store.GetSetting(ctx, key, def)
	if err != nil {
		s.log.WarnContext(ctx, "setting unavailable", "key", key, "error", err)
		return def
	}
	return v
}

// SetSetting writes a local setting. The reception toggle needs a manager.
func (s *Syncer) SetSetting(ctx context.Context, key, value string) error {
	if key == SettingReception && s.access.CurrentRole(ctx) != RoleManager {
		return ErrAccessDenied
	}
	if s.store == nil {
		return ErrLocalStoreUnavailable
	}
	return s.store.SetSetting(ctx, key, value)
}

// Trigger requests an immediate refresh from Run. Requests made while one
// is already pending are coalesced.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes once, then on every interval tick and Trigger call until
// ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.refreshInterval())
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Refresh(ctx)
		case <-s.trigger:
			s.Refresh(ctx)
		}
	}
}
