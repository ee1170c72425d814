package ledger

import (
	"strings"
	"time"
)

// RemoteConfig controls the backend client.
type RemoteConfig struct {
	BaseURL string // e.g. https://xyz.example.co/rest/v1
	APIKey  string // sent as the apikey header
	Token   string // sent as Authorization: Bearer
	Timeout time.Duration

	// RequestsPerSecond caps outbound calls. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int

	// Retry is used only by callers that opt in through WithRetry.
	Retry RetryConfig
}

// Configured reports whether enough is set to talk to the backend.
func (c RemoteConfig) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" &&
		strings.TrimSpace(c.APIKey) != "" &&
		strings.TrimSpace(c.Token) != ""
}

// GetRetryConfig returns Retry with unset fields taken from DefaultRetryConfig.
func (c RemoteConfig) GetRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	if c.Retry.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialWait > 0 {
		cfg.InitialWait = c.Retry.InitialWait
	}
	if c.Retry.MaxWait > 0 {
		cfg.MaxWait = c.Retry.MaxWait
	}
	if c.Retry.Multiplier > 0 {
		cfg.Multiplier = c.Retry.Multiplier
	}
	return cfg
}

// AccessConfig holds the two fixed access codes and session settings.
type AccessConfig struct {
	ViewerCode  string
	ManagerCode string

	// SessionTTL bounds how long a login survives restarts.
	SessionTTL time.Duration

	// Secret seeds the session signing key. When empty a random key is
	// generated, so sessions only live as long as the process.
	Secret string
	// DeviceID salts the derived key so tokens don't move between devices.
	DeviceID string
}

// DefaultSessionTTL approximates one working day.
const DefaultSessionTTL = 12 * time.Hour

func (c AccessConfig) sessionTTL() time.Duration {
	if c.SessionTTL <= 0 {
		return DefaultSessionTTL
	}
	return c.SessionTTL
}

// SyncerConfig controls the sync coordinator.
type SyncerConfig struct {
	// FleetOwner is stamped on every vehicle written by this deployment.
	FleetOwner string
	// RefreshInterval drives Run. Zero or negative uses DefaultRefreshInterval.
	RefreshInterval time.Duration
}

// DefaultRefreshInterval is used by Run when no interval is configured.
const DefaultRefreshInterval = 5 * time.Minute

func (c SyncerConfig) refreshInterval() time.Duration {
	if c.RefreshInterval <= 0 {
		return DefaultRefreshInterval
	}
	return c.RefreshInterval
}
