// Package config provides the YAML-based runtime configuration for the
// import pipeline: batching, normalization defaults and the store backend.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var embeddedConfig []byte

// Backend names a store implementation.
type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendSQLite    Backend = "sqlite"
	BackendFirestore Backend = "firestore"
)

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	Backend          Backend `yaml:"backend"`
	SQLitePath       string  `yaml:"sqlite_path"`
	FirestoreProject string  `yaml:"firestore_project"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RebuildConfig holds the reconciliation rebuilder settings.
type RebuildConfig struct {
	FlushSize      int  `yaml:"flush_size"`
	PurgeMalformed bool `yaml:"purge_malformed"`
}

// Config is the full runtime configuration.
//
// Fields are exported for YAML unmarshaling. Always obtain instances via
// LoadEmbedded, LoadFromFile or Parse so validation runs.
type Config struct {
	// BatchSize is the ingestor's flush threshold.
	BatchSize int `yaml:"batch_size"`
	// DefaultBranchID labels rows whose extract has no branch column.
	DefaultBranchID string `yaml:"default_branch_id"`
	// PhoneCountryCode is stripped during phone normalization so local and
	// international renderings produce one identity key.
	PhoneCountryCode string `yaml:"phone_country_code"`

	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Rebuild RebuildConfig `yaml:"rebuild"`
}

// Parse unmarshals and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config (check syntax, indentation, and field names): %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BatchSize < 1 || c.BatchSize > 10000 {
		return fmt.Errorf("batch_size must be in [1,10000], got %d", c.BatchSize)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case BackendFirestore:
		if c.Store.FirestoreProject == "" {
			return fmt.Errorf("store.firestore_project is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Rebuild.FlushSize < 0 {
		return fmt.Errorf("rebuild.flush_size must not be negative, got %d", c.Rebuild.FlushSize)
	}
	return nil
}

// LoadEmbedded loads the embedded config.yaml defaults.
func LoadEmbedded() (*Config, error) {
	cfg, err := Parse(embeddedConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded config (possible binary corruption): %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a filesystem path. Fields absent
// from the file keep the embedded defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %q: %w", path, err)
	}
	return cfg, nil
}
