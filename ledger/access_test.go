package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAccessConfig = AccessConfig{
	ViewerCode:  "look-only",
	ManagerCode: "Fleet-Boss",
	SessionTTL:  time.Hour,
	Secret:      "device-secret",
	DeviceID:    "dev-1",
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAuthenticateResolvesRoles(t *testing.T) {
	ctx := context.Background()
	a, err := NewAccess(testAccessConfig, nil)
	require.NoError(t, err)

	assert.Equal(t, RoleNone, a.CurrentRole(ctx))

	role, err := a.Authenticate(ctx, "  FLEET-boss ")
	require.NoError(t, err)
	assert.Equal(t, RoleManager, role)
	assert.True(t, a.CanMutate(ctx))

	role, err = a.Authenticate(ctx, "Look-Only")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)
	assert.False(t, a.CanMutate(ctx))

	role, err = a.Authenticate(ctx, "guess")
	assert.ErrorIs(t, err, ErrInvalidAccessCode)
	assert.Equal(t, RoleNone, role)
	assert.Equal(t, RoleViewer, a.CurrentRole(ctx), "a failed login keeps the existing session")
}

func TestNewAccessRequiresDistinctCodes(t *testing.T) {
	_, err := NewAccess(AccessConfig{ViewerCode: "x"}, nil)
	assert.Error(t, err)
	_, err = NewAccess(AccessConfig{ViewerCode: "Same", ManagerCode: "same"}, nil)
	assert.Error(t, err)
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	first, err := NewAccess(testAccessConfig, store, WithClock(clock.now))
	require.NoError(t, err)
	_, err = first.Authenticate(ctx, "fleet-boss")
	require.NoError(t, err)

	clock.advance(10 * time.Minute)
	second, err := NewAccess(testAccessConfig, store, WithClock(clock.now))
	require.NoError(t, err)
	info, ok := second.Session(ctx)
	require.True(t, ok)
	assert.Equal(t, RoleManager, info.Role)
	assert.NotEmpty(t, info.ID)
	assert.True(t, clock.t.Add(50*time.Minute).Equal(info.ExpiresAt), "expires at %v", info.ExpiresAt)
}

func TestSessionExpires(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	a, err := NewAccess(testAccessConfig, nil, WithClock(clock.now))
	require.NoError(t, err)

	_, err = a.Authenticate(ctx, "look-only")
	require.NoError(t, err)
	clock.advance(59 * time.Minute)
	assert.Equal(t, RoleViewer, a.CurrentRole(ctx))

	clock.advance(2 * time.Minute)
	assert.Equal(t, RoleNone, a.CurrentRole(ctx))
}

func TestSessionFromOtherDeviceRejected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	a, err := NewAccess(testAccessConfig, store)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, "fleet-boss")
	require.NoError(t, err)

	other := testAccessConfig
	other.DeviceID = "dev-2"
	b, err := NewAccess(other, store)
	require.NoError(t, err)
	assert.Equal(t, RoleNone, b.CurrentRole(ctx))
}

func TestLogoutClearsPersistedSession(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	a, err := NewAccess(testAccessConfig, store)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, "fleet-boss")
	require.NoError(t, err)
	require.NoError(t, a.Logout(ctx))
	assert.Equal(t, RoleNone, a.CurrentRole(ctx))

	b, err := NewAccess(testAccessConfig, store)
	require.NoError(t, err)
	assert.Equal(t, RoleNone, b.CurrentRole(ctx))
}

func TestPageAllowed(t *testing.T) {
	tests := []struct {
		page    string
		viewer  bool
		manager bool
	}{
		{PageDashboard, true, true},
		{PageStatistics, true, true},
		{PageRankings, true, true},
		{PageReports, true, true},
		{PageRecords, true, true},
		{PageAddRecord, false, true},
		{PageVehicles, false, true},
		{PageOperators, false, true},
		{PageSettings, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			assert.Equal(t, tt.viewer, PageAllowed(RoleViewer, tt.page))
			assert.Equal(t, tt.manager, PageAllowed(RoleManager, tt.page))
			assert.False(t, PageAllowed(RoleNone, tt.page))
		})
	}
	assert.False(t, PageAllowed(RoleViewer, " Add-Recipe "))
}

func TestCanAccessPageFollowsSession(t *testing.T) {
	ctx := context.Background()
	a, err := NewAccess(testAccessConfig, nil)
	require.NoError(t, err)

	assert.False(t, a.CanAccessPage(ctx, PageStatistics))
	_, err = a.Authenticate(ctx, "look-only")
	require.NoError(t, err)
	assert.True(t, a.CanAccessPage(ctx, PageStatistics))
	assert.False(t, a.CanAccessPage(ctx, PageAddRecord))
}
