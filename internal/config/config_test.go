package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "chatsync.db", cfg.Store.Path)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.True(t, cfg.Store.ResetOnMismatch)
	assert.Equal(t, "server_wins", cfg.Sync.ConflictPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Entitlement.TTL)
	assert.Equal(t, "local", cfg.Bus.Kind)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "pure Go driver",
			modify:  func(c *Config) { c.Store.Driver = "sqlite" },
			wantErr: false,
		},
		{
			name:    "custom key patterns",
			modify:  func(c *Config) { c.Entitlement.KeyPatterns = []string{"tier:{user}", "quota:{user}:*"} },
			wantErr: false,
		},
		{
			name: "nats with url",
			modify: func(c *Config) {
				c.Bus.Kind = "nats"
				c.Bus.URL = "nats://127.0.0.1:4222"
			},
			wantErr: false,
		},
		{
			name:    "missing store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: true,
		},
		{
			name:    "unknown conflict policy",
			modify:  func(c *Config) { c.Sync.ConflictPolicy = "client_wins" },
			wantErr: true,
		},
		{
			name:    "ttl below one second",
			modify:  func(c *Config) { c.Entitlement.TTL = 10 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "zero cache size",
			modify:  func(c *Config) { c.Entitlement.CacheSize = 0 },
			wantErr: true,
		},
		{
			name:    "key pattern without user placeholder",
			modify:  func(c *Config) { c.Entitlement.KeyPatterns = []string{"tier:*"} },
			wantErr: true,
		},
		{
			name:    "unknown bus kind",
			modify:  func(c *Config) { c.Bus.Kind = "redis" },
			wantErr: true,
		},
		{
			name:    "nats without url",
			modify:  func(c *Config) { c.Bus.Kind = "nats" },
			wantErr: true,
		},
		{
			name:    "bad subject",
			modify:  func(c *Config) { c.Bus.Subject = "chat sync" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "chatsync.yaml")

	content := `
store:
  path: /var/lib/chatsync/local.db
  driver: sqlite
sync:
  conflict_policy: keep_pending
entitlement:
  ttl: 90s
  key_patterns:
    - "tier:{user}"
bus:
  kind: nats
  url: nats://10.0.0.1:4222
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/chatsync/local.db", cfg.Store.Path)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Store.ResetOnMismatch, "unset fields keep defaults")
	assert.Equal(t, "keep_pending", cfg.Sync.ConflictPolicy)
	assert.Equal(t, 90*time.Second, cfg.Entitlement.TTL)
	assert.Equal(t, 1024, cfg.Entitlement.CacheSize)
	assert.Equal(t, []string{"tier:{user}"}, cfg.Entitlement.KeyPatterns)
	assert.Equal(t, "nats", cfg.Bus.Kind)
	assert.Equal(t, "chatsync", cfg.Bus.Subject)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store: [unclosed"), 0644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Entitlement.TTL = 2 * time.Minute
	cfg.Store.ResetOnMismatch = false
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{
		Store:       StoreConfig{Path: "other.db", ResetOnMismatch: true},
		Entitlement: EntitlementConfig{CacheSize: 16},
		Bus:         BusConfig{Kind: "nats", URL: "nats://x:4222"},
	})

	assert.Equal(t, "other.db", cfg.Store.Path)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, 16, cfg.Entitlement.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Entitlement.TTL)
	assert.Equal(t, "nats", cfg.Bus.Kind)
	assert.Equal(t, "chatsync", cfg.Bus.Subject)

	cfg.Merge(nil)
	assert.Equal(t, "other.db", cfg.Store.Path)
}
