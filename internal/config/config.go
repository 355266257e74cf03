package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration. Every field can be
// overridden by a CALSHARE_* environment variable on top of the YAML file.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" env:"CALSHARE_LISTEN"`

	// DataDir holds events.json, calendar.lock, users.json and
	// settings.json.
	DataDir string `yaml:"data_dir" env:"CALSHARE_DATA_DIR"`

	// LockMaxAgeSeconds is how long an advisory lock stays live before
	// another client may take it over.
	LockMaxAgeSeconds int `yaml:"lock_max_age_seconds" env:"CALSHARE_LOCK_MAX_AGE_SECONDS"`

	// SweepCron schedules the stale-lock sweep (cron expression).
	SweepCron string `yaml:"sweep_cron" env:"CALSHARE_SWEEP_CRON"`

	// SessionTTLMinutes bounds how long a login session stays valid.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" env:"CALSHARE_SESSION_TTL_MINUTES"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"CALSHARE_LOG_LEVEL"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		DataDir:           "/var/lib/calshare",
		LockMaxAgeSeconds: 10,
		SweepCron:         "@every 1m",
		SessionTTLMinutes: 24 * 60,
		LogLevel:          "info",
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs from older versions still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.LockMaxAgeSeconds <= 0 {
		c.LockMaxAgeSeconds = def.LockMaxAgeSeconds
	}
	if c.SweepCron == "" {
		c.SweepCron = def.SweepCron
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = def.SessionTTLMinutes
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// LockMaxAge returns the advisory lock max age as a duration.
func (c *Config) LockMaxAge() time.Duration {
	return time.Duration(c.LockMaxAgeSeconds) * time.Second
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is read and normalized.
//   - CALSHARE_* environment variables override either outcome.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename)
// with 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calshare-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
