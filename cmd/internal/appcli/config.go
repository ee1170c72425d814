package appcli

import (
	"flag"
	"time"

	"github.com/harperreed/fleetbook/ledger"
)

// RuntimeConfig captures CLI flag inputs shared across binaries.
type RuntimeConfig struct {
	DBPath          string
	DeviceID        string
	ServerURL       string
	APIKey          string
	AuthToken       string
	Timeout         time.Duration
	RateLimit       float64
	RetryWait       time.Duration
	ViewerCode      string
	ManagerCode     string
	SessionSecret   string
	FleetOwner      string
	RefreshInterval time.Duration
	LogLevel        string
	LogFormat       string
}

// BindFlags attaches shared flags to provided FlagSet.
func (rc *RuntimeConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&rc.DBPath, "db", rc.DBPath, "path to local SQLite mirror")
	fs.StringVar(&rc.DeviceID, "device", rc.DeviceID, "stable device identifier")
	fs.StringVar(&rc.ServerURL, "server", rc.ServerURL, "backend REST base URL")
	fs.StringVar(&rc.APIKey, "api-key", rc.APIKey, "backend api key")
	fs.StringVar(&rc.AuthToken, "token", rc.AuthToken, "backend bearer token")
	fs.DurationVar(&rc.Timeout, "timeout", rc.Timeout, "per-request timeout")
	fs.Float64Var(&rc.RateLimit, "rate", rc.RateLimit, "max backend requests per second (0 = unlimited)")
	fs.DurationVar(&rc.RetryWait, "retry-wait", rc.RetryWait, "pause before the first write retry (0 = 500ms)")
	fs.StringVar(&rc.FleetOwner, "owner", rc.FleetOwner, "fleet owner stamped on vehicles")
	fs.DurationVar(&rc.RefreshInterval, "interval", rc.RefreshInterval, "refresh interval for watch")
	fs.StringVar(&rc.LogLevel, "log-level", rc.LogLevel, "debug, info, warn or error")
	fs.StringVar(&rc.LogFormat, "log-format", rc.LogFormat, "text or json")
}

// Options converts runtime config into app Options.
func (rc RuntimeConfig) Options() Options {
	return Options{
		DBPath:          rc.DBPath,
		DeviceID:        rc.DeviceID,
		ServerURL:       rc.ServerURL,
		APIKey:          rc.APIKey,
		AuthToken:       rc.AuthToken,
		Timeout:         rc.Timeout,
		RateLimit:       rc.RateLimit,
		ViewerCode:      rc.ViewerCode,
		ManagerCode:     rc.ManagerCode,
		SessionSecret:   rc.SessionSecret,
		FleetOwner:      rc.FleetOwner,
		RefreshInterval: rc.RefreshInterval,
		Retry:           ledger.RetryConfig{InitialWait: rc.RetryWait},
	}
}
