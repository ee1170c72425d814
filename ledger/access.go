// ABOUTME: Access controller for the two fixed roles (viewer, manager).
// ABOUTME: Issues a signed session token on login and persists it for the session lifetime.
package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/cases"
)

// Role is the access level of the current session.
type Role string

const (
	RoleNone    Role = ""
	RoleViewer  Role = "viewer"
	RoleManager Role = "manager"
)

func (r Role) valid() bool { return r == RoleViewer || r == RoleManager }

// Page ids gated by role.
const (
	PageDashboard  = "dashboard"
	PageStatistics = "statistics"
	PageRankings   = "rankings"
	PageReports    = "reports"
	PageRecords    = "records"
	PageAddRecord  = "add-recipe"
	PageVehicles   = "vehicles"
	PageOperators  = "operators"
	PageSettings   = "settings"
)

// managerOnlyPages are hidden from viewers; every other page is open to both roles.
var managerOnlyPages = map[string]bool{
	PageVehicles:  true,
	PageOperators: true,
	PageAddRecord: true,
	PageSettings:  true,
}

// PageAllowed is the fixed allow/deny table.
func PageAllowed(role Role, page string) bool {
	switch role {
	case RoleManager:
		return true
	case RoleViewer:
		return !managerOnlyPages[strings.ToLower(strings.TrimSpace(page))]
	default:
		return false
	}
}

// SessionStore persists the session token between restarts.
type SessionStore interface {
	LoadSession(ctx context.Context, now time.Time) (string, error)
	SaveSession(ctx context.Context, token string, expires time.Time) error
	ClearSession(ctx context.Context) error
}

var _ SessionStore = (*Store)(nil)

type sessionClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// SessionInfo describes the active session.
type SessionInfo struct {
	Role      Role
	ID        string
	ExpiresAt time.Time
}

// Access resolves and enforces the two-role model.
type Access struct {
	viewerCode  string
	managerCode string
	ttl         time.Duration
	key         []byte
	sessions    SessionStore
	now         func() time.Time
	log         *slog.Logger

	mu     sync.Mutex
	token  string
	loaded bool
}

// AccessOption customizes an Access.
type AccessOption func(*Access)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AccessOption {
	return func(a *Access) { a.now = now }
}

// WithAccessLogger sets the logger.
func WithAccessLogger(l *slog.Logger) AccessOption {
	return func(a *Access) { a.log = l }
}

// NewAccess builds the controller. sessions may be nil, in which case the
// login lasts only as long as this value.
func NewAccess(cfg AccessConfig, sessions SessionStore, opts ...AccessOption) (*Access, error) {
	viewer, manager := foldCode(cfg.ViewerCode), foldCode(cfg.ManagerCode)
	if viewer == "" || manager == "" {
		return nil, errors.New("viewer and manager access codes are required")
	}
	if viewer == manager {
		return nil, errors.New("viewer and manager access codes must differ")
	}
	key, err := deriveSessionKey(cfg.Secret, cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	a := &Access{
		viewerCode:  viewer,
		managerCode: manager,
		ttl:         cfg.sessionTTL(),
		key:         key,
		sessions:    sessions,
		now:         time.Now,
		log:         slog.Default().With("component", "access"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func foldCode(code string) string {
	return cases.Fold().String(strings.TrimSpace(code))
}

func deriveSessionKey(secret, deviceID string) ([]byte, error) {
	ikm := []byte(secret)
	if secret == "" {
		ikm = make([]byte, 32)
		if _, err := rand.Read(ikm); err != nil {
			return nil, fmt.Errorf("session key: %w", err)
		}
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, ikm, []byte(deviceID), []byte("fleetbook session v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	return key, nil
}

// Authenticate resolves code to a role and starts a session. Codes match
// case-insensitively.
func (a *Access) Authenticate(ctx context.Context, code string) (Role, error) {
	folded := []byte(foldCode(code))
	role := RoleNone
	switch {
	case subtle.ConstantTimeCompare(folded, []byte(a.managerCode)) == 1:
		role = RoleManager
	case subtle.ConstantTimeCompare(folded, []byte(a.viewerCode)) == 1:
		role = RoleViewer
	default:
		return RoleNone, ErrInvalidAccessCode
	}

	now := a.now().UTC()
	expires := now.Add(a.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   string(role),
			Issuer:    "fleetbook",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return RoleNone, fmt.Errorf("sign session: %w", err)
	}

	a.mu.Lock()
	a.token = token
	a.loaded = true
	a.mu.Unlock()

	if a.sessions != nil {
		if err := a.sessions.SaveSession(ctx, token, expires); err != nil {
			a.log.WarnContext(ctx, "session not persisted", "error", err)
		}
	}
	a.log.InfoContext(ctx, "session started", "role", string(role), "expires", expires.Format(time.RFC3339))
	return role, nil
}

// CurrentRole returns the role of the active session, or RoleNone.
func (a *Access) CurrentRole(ctx context.Context) Role {
	info, ok := a.Session(ctx)
	if !ok {
		return RoleNone
	}
	return info.Role
}

// Session returns details of the active session.
func (a *Access) Session(ctx context.Context) (SessionInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		a.loaded = true
		if a.sessions != nil {
			token, err := a.sessions.LoadSession(ctx, a.now())
			if err != nil {
				a.log.WarnContext(ctx, "session not loaded", "error", err)
			}
			a.token = token
		}
	}
	if a.token == "" {
		return SessionInfo{}, false
	}

	claims, err := a.parse(a.token)
	if err != nil {
		a.log.DebugContext(ctx, "session rejected", "error", err)
		a.token = ""
		return SessionInfo{}, false
	}
	return SessionInfo{Role: claims.Role, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, true
}

func (a *Access) parse(token string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || !claims.Role.valid() {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// CanMutate is true only for managers.
func (a *Access) CanMutate(ctx context.Context) bool {
	return a.CurrentRole(ctx) == RoleManager
}

// CanAccessPage applies the page table to the current role.
func (a *Access) CanAccessPage(ctx context.Context, page string) bool {
	return PageAllowed(a.CurrentRole(ctx), page)
}

// Logout ends the session here and in the session store.
func (a *Access) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.token = ""
	a.loaded = true
	a.mu.Unlock()
	if a.sessions == nil {
		return nil
	}
	return a.sessions.ClearSession(ctx)
}
