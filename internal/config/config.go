// Package config loads devsync settings from a YAML file overlaid with
// DEVSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "DEVSYNC"
	appName      = "devsync"
)

// History backends.
const (
	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
)

type Config struct {
	DeviceAddr     string        `envconfig:"DEVICE_ADDR"      yaml:"deviceAddr"`
	DeviceUser     string        `envconfig:"DEVICE_USER"      yaml:"deviceUser"`
	DevicePassword string        `envconfig:"DEVICE_PASSWORD"  yaml:"devicePassword"`
	DialTimeout    time.Duration `envconfig:"DIAL_TIMEOUT"     yaml:"dialTimeout"`
	MediaRoot      string        `envconfig:"MEDIA_ROOT"       yaml:"mediaRoot"`
	RemoteDataDir  string        `envconfig:"REMOTE_DATA_DIR"  yaml:"remoteDataDir"`
	LocalDir       string        `envconfig:"LOCAL_DIR"        yaml:"localDir"`
	QuotaPercent   int           `envconfig:"QUOTA_PERCENT"    yaml:"quotaPercent"`

	HTTPAddr string `envconfig:"HTTP_ADDR" yaml:"httpAddr"`
	APIToken string `envconfig:"API_TOKEN" yaml:"apiToken"`

	LogLevel      string `envconfig:"LOG_LEVEL"       yaml:"logLevel"`
	LogFile       string `envconfig:"LOG_FILE"        yaml:"logFile"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" yaml:"logMaxSizeMB"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" yaml:"logMaxBackups"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" yaml:"logMaxAgeDays"`

	// History is "memory" or "postgres". With postgres and an empty
	// HistoryDSN the POSTGRES_* variables are used.
	History    string `envconfig:"HISTORY"     yaml:"history"`
	HistoryDSN string `envconfig:"HISTORY_DSN" yaml:"historyDSN"`
}

// Default returns the settings used for anything the file and environment
// leave unset.
func Default() Config {
	return Config{
		DeviceUser:     "anonymous",
		DevicePassword: "anonymous",
		DialTimeout:    5 * time.Second,
		MediaRoot:      "internal_000",
		RemoteDataDir:  "/",
		QuotaPercent:   20,
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		LogMaxSizeMB:   10,
		LogMaxBackups:  3,
		LogMaxAgeDays:  28,
		History:        HistoryMemory,
	}
}

// DefaultPath is $DEVSYNC_CONFIG_FILE, or ~/.config/devsync.yaml.
func DefaultPath() string {
	if p := os.Getenv(envVarPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName+".yaml")
}

// Load reads path (a missing file is fine) and then applies the
// environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.UnmarshalStrict(b, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.DeviceAddr == "" {
			return "deviceAddr", "DEVICE_ADDR"
		}
		if c.LocalDir == "" {
			return "localDir", "LOCAL_DIR"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf("missing required configuration: %s / %s_%s", y, envVarPrefix, e)
	}
	if c.QuotaPercent < 1 || c.QuotaPercent > 100 {
		return fmt.Errorf("quotaPercent must be within 1..100, got %d", c.QuotaPercent)
	}
	if c.History != HistoryMemory && c.History != HistoryPostgres {
		return fmt.Errorf("history must be %q or %q, got %q", HistoryMemory, HistoryPostgres, c.History)
	}
	return nil
}
