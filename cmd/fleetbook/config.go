// ABOUTME: config.go provides configuration file management for the fleetbook CLI.
// ABOUTME: Supports loading, saving, and auto-initialization with environment variable overrides.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the fleetbook CLI configuration.
type Config struct {
	Server          string        `yaml:"server"`
	APIKey          string        `yaml:"api_key"`
	Token           string        `yaml:"token"`
	ViewerCode      string        `yaml:"viewer_code"`
	ManagerCode     string        `yaml:"manager_code"`
	SessionSecret   string        `yaml:"session_secret"`
	DeviceID        string        `yaml:"device_id"`
	FleetOwner      string        `yaml:"fleet_owner"`
	DB              string        `yaml:"db"`
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`
	RateLimit       float64       `yaml:"rate_limit,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	RetryWait       time.Duration `yaml:"retry_wait,omitempty"`
	LogLevel        string        `yaml:"log_level,omitempty"`
	LogFormat       string        `yaml:"log_format,omitempty"`
}

// ConfigPath returns the path to the fleetbook config file.
// It can be overridden in tests.
var ConfigPath = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fleetbook", "config.yaml")
	}
	return filepath.Join(home, ".fleetbook", "config.yaml")
}

// ConfigDir returns the directory containing the config file.
func ConfigDir() string {
	return filepath.Dir(ConfigPath())
}

// moveAside renames path to path.<tag>.<timestamp> and returns the new name.
func moveAside(path, tag string) (string, error) {
	dst := fmt.Sprintf("%s.%s.%s", path, tag, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// EnsureConfigDir creates the config directory. A plain file occupying
// its path is moved aside first.
func EnsureConfigDir() error {
	dir := ConfigDir()
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		backup, rerr := moveAside(dir, "backup")
		if rerr != nil {
			return fmt.Errorf("config dir %s is a file and could not be moved: %w", dir, rerr)
		}
		fmt.Fprintf(os.Stderr, "Warning: %s was a file, moved to %s\n", dir, backup)
	case !os.IsNotExist(err):
		return fmt.Errorf("stat config dir: %w", err)
	}
	return os.MkdirAll(dir, 0o750)
}

// LoadConfig reads the YAML config and applies FLEETBOOK_* overrides. A
// missing file yields defaults; an unparsable one is moved aside and
// reported so the next run starts clean.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()
	path := ConfigPath()

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory, not a file", path)
	}

	// #nosec G304 -- path is derived from the user's home directory
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if perr := yaml.Unmarshal(data, cfg); perr != nil {
			if backup, rerr := moveAside(path, "corrupt"); rerr == nil {
				fmt.Fprintf(os.Stderr, "Warning: unreadable config moved to %s\n", backup)
			}
			return nil, fmt.Errorf("parse config %s: %w\nRun 'fleetbook init' to create a new one", path, perr)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	if cfg.DB == "" {
		cfg.DB = filepath.Join(ConfigDir(), "fleet.db")
	}
	cfg.DB = expandPath(cfg.DB)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DB:        filepath.Join(ConfigDir(), "fleet.db"),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// applyEnvOverrides applies FLEETBOOK_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"FLEETBOOK_SERVER":         &cfg.Server,
		"FLEETBOOK_API_KEY":        &cfg.APIKey,
		"FLEETBOOK_TOKEN":          &cfg.Token,
		"FLEETBOOK_VIEWER_CODE":    &cfg.ViewerCode,
		"FLEETBOOK_MANAGER_CODE":   &cfg.ManagerCode,
		"FLEETBOOK_SESSION_SECRET": &cfg.SessionSecret,
		"FLEETBOOK_DEVICE_ID":      &cfg.DeviceID,
		"FLEETBOOK_FLEET_OWNER":    &cfg.FleetOwner,
		"FLEETBOOK_LOG_LEVEL":      &cfg.LogLevel,
		"FLEETBOOK_LOG_FORMAT":     &cfg.LogFormat,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if db := os.Getenv("FLEETBOOK_DB"); db != "" {
		cfg.DB = expandPath(db)
	}
	if v := os.Getenv("FLEETBOOK_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RefreshInterval = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring FLEETBOOK_REFRESH_INTERVAL=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("FLEETBOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring FLEETBOOK_TIMEOUT=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("FLEETBOOK_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring FLEETBOOK_RATE_LIMIT=%q: %v\n", v, err)
		}
	}
}

// SaveConfig writes config to file.
func SaveConfig(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// InitConfig creates a new config with a device ID and session secret.
// Access codes are taken from base; empty codes are left for the user to fill in.
func InitConfig(base Config) (*Config, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	cfg := base
	cfg.DeviceID = generateDeviceID()
	cfg.SessionSecret = secret
	if cfg.DB == "" {
		cfg.DB = filepath.Join(ConfigDir(), "fleet.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	if err := SaveConfig(&cfg); err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "Config created at %s\n", ConfigPath())
	return &cfg, nil
}

// ConfigExists returns true if config file exists.
func ConfigExists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

func generateDeviceID() string {
	return ulid.Make().String()
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
