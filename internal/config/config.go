// Package config loads the server configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend selectors.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the top-level server configuration. Flags may override
// individual fields after Load.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Timezone is the IANA zone all schedule math runs in.
	Timezone string `yaml:"timezone"`

	// Store selects the backing store: "memory" or "postgres".
	Store string `yaml:"store"`

	// DSN is the PostgreSQL connection string. Required when Store is
	// "postgres".
	DSN string `yaml:"dsn"`

	// JWTKey is the HS256 signing key for bearer tokens.
	JWTKey string `yaml:"jwt_key"`

	// TokenTTL bounds how long issued tokens stay valid.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// ReconcileCron schedules the periodic schedule-repair pass,
	// in robfig/cron syntax.
	ReconcileCron string `yaml:"reconcile_cron"`

	// MirrorDir, when set, persists the response cache to disk so a
	// restart starts warm. Empty keeps the cache in memory only.
	MirrorDir string `yaml:"mirror_dir"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:        ":8080",
		Timezone:      "America/New_York",
		Store:         StoreMemory,
		TokenTTL:      24 * time.Hour,
		ReconcileCron: "@every 5m",
	}
}

// Normalize fills zero values with defaults and validates enums.
func (c *Config) Normalize() error {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = d.TokenTTL
	}
	if c.ReconcileCron == "" {
		c.ReconcileCron = d.ReconcileCron
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DSN == "" {
			return errors.New("store \"postgres\" requires dsn")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// Load reads the YAML file at path. A missing file yields the defaults;
// an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Normalize()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Normalize()
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
