// Package config provides configuration loading and validation for chatsync.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config represents the complete chatsync configuration
type Config struct {
	Store       StoreConfig       `yaml:"store" json:"store"`
	Sync        SyncConfig        `yaml:"sync" json:"sync"`
	Entitlement EntitlementConfig `yaml:"entitlement" json:"entitlement"`
	Bus         BusConfig         `yaml:"bus" json:"bus"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// StoreConfig configures the durable local store
type StoreConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path" json:"path"`
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go)
	Driver string `yaml:"driver" json:"driver"`
	// ResetOnMismatch wipes the database when its schema version is unknown
	ResetOnMismatch bool `yaml:"reset_on_mismatch" json:"reset_on_mismatch"`
}

// SyncConfig configures the sync engine
type SyncConfig struct {
	// ConflictPolicy is "server_wins" or "keep_pending"
	ConflictPolicy string `yaml:"conflict_policy" json:"conflict_policy"`
}

// EntitlementConfig configures the tier cache
type EntitlementConfig struct {
	// TTL is how long a fetched tier is served without refetching
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// CacheSize bounds the number of users held in memory
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// KeyPatterns name the key/value entries cleared on a tier change.
	// "{user}" is replaced by the user id. Empty means the built-in set.
	KeyPatterns []string `yaml:"key_patterns,omitempty" json:"key_patterns"`
}

// BusConfig configures how tier changes reach other instances
type BusConfig struct {
	// Kind is "local" (same process) or "nats"
	Kind string `yaml:"kind" json:"kind"`
	// URL is the NATS server URL (kind nats only)
	URL string `yaml:"url" json:"url"`
	// Subject prefixes bus topics
	Subject string `yaml:"subject" json:"subject"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:            "chatsync.db",
			Driver:          "sqlite3",
			ResetOnMismatch: true,
		},
		Sync: SyncConfig{
			ConflictPolicy: "server_wins",
		},
		Entitlement: EntitlementConfig{
			TTL:         5 * time.Minute,
			CacheSize:   1024,
			KeyPatterns: nil, // Built-in set
		},
		Bus: BusConfig{
			Kind:    "local",
			URL:     "",
			Subject: "chatsync",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration against the embedded CUE schema plus
// the cross-field rules the schema does not express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Bus.Kind == "nats" && c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required when bus.kind is nats")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values). ResetOnMismatch is a plain bool and always follows other.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Store
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	c.Store.ResetOnMismatch = other.Store.ResetOnMismatch

	// Sync
	if other.Sync.ConflictPolicy != "" {
		c.Sync.ConflictPolicy = other.Sync.ConflictPolicy
	}

	// Entitlement
	if other.Entitlement.TTL != 0 {
		c.Entitlement.TTL = other.Entitlement.TTL
	}
	if other.Entitlement.CacheSize != 0 {
		c.Entitlement.CacheSize = other.Entitlement.CacheSize
	}
	if len(other.Entitlement.KeyPatterns) > 0 {
		c.Entitlement.KeyPatterns = other.Entitlement.KeyPatterns
	}

	// Bus
	if other.Bus.Kind != "" {
		c.Bus.Kind = other.Bus.Kind
	}
	if other.Bus.URL != "" {
		c.Bus.URL = other.Bus.URL
	}
	if other.Bus.Subject != "" {
		c.Bus.Subject = other.Bus.Subject
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
}
