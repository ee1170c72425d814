// ABOUTME: Shared runtime for fleetbook binaries: opens the local store and wires
// ABOUTME: the remote client, access controller and syncer from one Options value.
package appcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/harperreed/fleetbook/ledger"
)

// Options wires shared CLI runtime bits.
type Options struct {
	DBPath   string
	DeviceID string

	ServerURL string
	APIKey    string
	AuthToken string
	Timeout   time.Duration
	RateLimit float64

	ViewerCode    string
	ManagerCode   string
	SessionSecret string
	SessionTTL    time.Duration

	FleetOwner      string
	RefreshInterval time.Duration

	// Retry is the backoff used by Write when attempts > 1. MaxAttempts
	// is taken from the caller.
	Retry ledger.RetryConfig

	Logger *slog.Logger
}

// App glues the CLI to the ledger library.
type App struct {
	opts   Options
	log    *slog.Logger
	store  *ledger.Store
	client *ledger.Client
	access *ledger.Access
	syncer *ledger.Syncer

	retry ledger.RetryConfig
	edits []EditKey
}

// NewApp opens the store and wires client, access and syncer. A store that
// cannot be opened is logged and the app continues in memory.
func NewApp(opts Options) (*App, error) {
	normalized, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}
	logger := normalized.Logger

	app := &App{opts: normalized, log: logger}

	store, err := ledger.OpenStore(normalized.DBPath)
	if err != nil {
		logger.Warn("local store unavailable, running without a cache", "path", normalized.DBPath, "error", err)
	} else {
		app.store = store
	}

	remoteCfg := ledger.RemoteConfig{
		BaseURL:           normalized.ServerURL,
		APIKey:            normalized.APIKey,
		Token:             normalized.AuthToken,
		Timeout:           normalized.Timeout,
		RequestsPerSecond: normalized.RateLimit,
		Retry:             normalized.Retry,
	}
	app.retry = remoteCfg.GetRetryConfig()
	client, err := ledger.NewClient(remoteCfg, ledger.WithClientLogger(logger.With("component", "remote")))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.client = client

	// Interfaces stay nil when the store is missing so the ledger sees "no store".
	var (
		sessions ledger.SessionStore
		local    ledger.LocalStore
	)
	if app.store != nil {
		sessions, local = app.store, app.store
	}

	access, err := ledger.NewAccess(ledger.AccessConfig{
		ViewerCode:  normalized.ViewerCode,
		ManagerCode: normalized.ManagerCode,
		SessionTTL:  normalized.SessionTTL,
		Secret:      normalized.SessionSecret,
		DeviceID:    normalized.DeviceID,
	}, sessions, ledger.WithAccessLogger(logger.With("component", "access")))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.access = access

	syncer, err := ledger.NewSyncer(client, local, access,
		ledger.WithLogger(logger.With("component", "syncer")),
		ledger.WithSyncerConfig(ledger.SyncerConfig{
			FleetOwner:      normalized.FleetOwner,
			RefreshInterval: normalized.RefreshInterval,
		}),
	)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.syncer = syncer

	if app.store != nil {
		ctx := context.Background()
		if err := syncer.LoadCache(ctx); err != nil {
			logger.Warn("cache not loaded", "error", err)
		}
		app.edits = app.loadEdits(ctx)
	}
	return app, nil
}

// Close releases resources.
func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Syncer exposes the sync coordinator.
func (a *App) Syncer() *ledger.Syncer { return a.syncer }

// Access exposes the access controller.
func (a *App) Access() *ledger.Access { return a.access }

// Store returns the local store, or nil when it could not be opened.
func (a *App) Store() *ledger.Store { return a.store }

// Login authenticates an access code.
func (a *App) Login(ctx context.Context, code string) (ledger.Role, error) {
	return a.access.Authenticate(ctx, code)
}

// Logout ends the current session.
func (a *App) Logout(ctx context.Context) error {
	return a.access.Logout(ctx)
}

// Refresh runs one refresh and reports which pending local edits it discarded.
func (a *App) Refresh(ctx context.Context) (ledger.RefreshResult, []Conflict) {
	before := a.syncer.Snapshot()
	res := a.syncer.Refresh(ctx)
	if res.Status != ledger.RefreshSynced || len(a.edits) == 0 {
		return res, nil
	}
	conflicts := DetectConflicts(before, a.syncer.Snapshot(), a.edits)
	for _, c := range conflicts {
		a.log.WarnContext(ctx, "local edit discarded by refresh", "collection", string(c.Collection), "key", c.Key, "kind", string(c.Kind))
	}
	a.edits = nil
	a.saveEdits(ctx)
	return res, conflicts
}

// PendingEdits lists the keys touched by local-only writes since the last synced refresh.
func (a *App) PendingEdits() []EditKey {
	return append([]EditKey(nil), a.edits...)
}

// Write applies an intent. attempts > 1 retries transient failures using
// the configured backoff.
func (a *App) Write(ctx context.Context, in ledger.Intent, attempts int) (ledger.WriteResult, error) {
	var (
		res ledger.WriteResult
		err error
	)
	if attempts <= 1 {
		res, err = a.syncer.Write(ctx, in)
	} else {
		cfg := a.retry
		cfg.MaxAttempts = attempts
		res, err = ledger.WithRetry(ctx, cfg, "write", func() (ledger.WriteResult, error) {
			return a.syncer.Write(ctx, in)
		})
	}
	if err == nil && !res.Remote && res.Entity != nil {
		a.recordEdit(ctx, EditKey{Collection: res.Entity.Collection(), Key: res.Entity.Key()})
	}
	return res, err
}

// Status describes the session, remote and local mirror.
type Status struct {
	Role       ledger.Role
	Session    ledger.SessionInfo
	Remote     string
	Configured bool
	Reception  bool
	Store      *ledger.StoreStatus
	Snapshot   map[ledger.Collection]int
	Source     ledger.SnapshotSource
}

// Status gathers a status report. A failing store is reported, not fatal.
func (a *App) Status(ctx context.Context) (Status, error) {
	info, _ := a.access.Session(ctx)
	snap := a.syncer.Snapshot()
	st := Status{
		Role:       info.Role,
		Session:    info,
		Remote:     a.client.String(),
		Configured: a.client.Configured(),
		Reception:  a.syncer.ReceptionEnabled(ctx),
		Snapshot:   snap.Counts(),
		Source:     snap.Source,
	}
	if a.store == nil {
		return st, ledger.ErrLocalStoreUnavailable
	}
	ss, err := a.store.Status(ctx)
	if err != nil {
		return st, err
	}
	st.Store = &ss
	return st, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

func normalizeOptions(opts Options) (Options, error) {
	if opts.ViewerCode == "" || opts.ManagerCode == "" {
		return opts, errors.New("viewer and manager access codes required")
	}
	if opts.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			opts.DeviceID = host
		}
	}
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(os.TempDir(), "fleetbook.db")
	}
	if err := ensureDir(opts.DBPath); err != nil {
		return opts, fmt.Errorf("create db dir: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts, nil
}
