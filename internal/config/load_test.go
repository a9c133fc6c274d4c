package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[store]
path = "/var/lib/lotasync/app.db"
schema_version = 2

[[store.collections]]
name = "lots"
key_path = "id"

  [[store.collections.indexes]]
  name = "by_status"
  key_path = "status"

  [[store.collections.indexes]]
  name = "by_code"
  key_path = "meta.code"
  unique = true

[[store.collections]]
name = "orders"
key_path = "orderNo"

[sync]
enabled = false
interval = "1m"
max_attempts = 5
require_baseline = true

[cache]
stale_time = "2m"

[network]
source = "file"
status_file = "/run/net.json"
min_downlink_mbps = 2.0
max_rtt = "250ms"

[remote]
base_url = "https://api.example.com"
timeout = "15s"
client_id = "cid"
client_secret = "secret"
token_url = "https://auth.example.com/token"
scopes = ["sync"]

[remote.tables]
lots = "/api/v1/lots"

[api]
enabled = true
listen = ":9000"
allowed_origins = ["http://localhost:3000"]

[logging]
level = "debug"
format = "json"
file = "/tmp/lotasync.log"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/lotasync/app.db", cfg.Store.Path)
	require.Len(t, cfg.Store.Collections, 2)
	assert.Equal(t, "meta.code", cfg.Store.Collections[0].Indexes[1].KeyPath)
	assert.True(t, cfg.Store.Collections[0].Indexes[1].Unique)

	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, time.Minute, cfg.Sync.IntervalDuration())
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.True(t, cfg.Sync.RequireBaseline)
	assert.Equal(t, 2*time.Minute, cfg.Cache.StaleDuration())

	th := cfg.Network.Thresholds()
	assert.InDelta(t, 2.0, th.MinDownlinkMbps, 0)
	assert.Equal(t, 250*time.Millisecond, th.MaxRTT)

	assert.Equal(t, "/api/v1/lots", cfg.Remote.Tables["lots"])
	assert.Equal(t, "cid", cfg.Remote.Credentials().ClientID)
	assert.Equal(t, 15*time.Second, cfg.Remote.TimeoutDuration())
	assert.Equal(t, ":9000", cfg.API.Listen)
	assert.Equal(t, "json", cfg.Logging.Options().Format)
}

func TestLoad_DefaultsFillUnsetFields(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
interval = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, "45s", cfg.Sync.Interval)
	assert.Equal(t, def.Sync.MaxAttempts, cfg.Sync.MaxAttempts)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, def.Network.Source, cfg.Network.Source)
	assert.Equal(t, def.Logging.Level, cfg.Logging.Level)
}

func TestLoad_UnknownKeySuggests(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
intreval = "1m"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"sync.intreval"`)
	assert.Contains(t, err.Error(), `did you mean "sync.interval"`)
}

func TestLoad_UnknownSectionReportedOnce(t *testing.T) {
	path := writeTestConfig(t, `
[syncc]
interval = "1m"
enabled = true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, 1, countOccurrences(err.Error(), "unknown config key"))
	assert.Contains(t, err.Error(), `did you mean "sync"`)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `[sync`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Sync, cfg.Sync)
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, `
[store]
path = "/from/file.db"

[remote]
base_url = "https://file.example.com"
`)

	cfg, used, err := Resolve(
		EnvOverrides{ConfigPath: path, StorePath: "/from/env.db", RemoteToken: "env-token", LogLevel: "warn"},
		CLIOverrides{StorePath: "/from/cli.db", LogLevel: "debug"},
	)
	require.NoError(t, err)

	assert.Equal(t, path, used)
	assert.Equal(t, "/from/cli.db", cfg.Store.Path)
	assert.Equal(t, "https://file.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "env-token", cfg.Remote.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestResolve_CLIConfigPathWins(t *testing.T) {
	envPath := writeTestConfig(t, `[sync]
interval = "2m"
`)
	cliPath := writeTestConfig(t, `[sync]
interval = "3m"
`)

	cfg, used, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, cliPath, used)
	assert.Equal(t, 3*time.Minute, cfg.Sync.IntervalDuration())
}

func TestResolve_ExpandsTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, _, err := Resolve(EnvOverrides{StorePath: "~/data/app.db"}, CLIOverrides{ConfigPath: filepath.Join(home, "none.toml")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "app.db"), cfg.Store.Path)
}

func TestStoreConfig_Schema(t *testing.T) {
	sc := StoreConfig{
		SchemaVersion: 3,
		Collections: []CollectionConfig{
			{Name: "lots", KeyPath: "id", Indexes: []IndexConfig{{Name: "by_status", KeyPath: "status"}}},
			{Name: "orders", KeyPath: "orderNo"},
		},
	}

	want := store.Schema{
		Version: 3,
		Collections: []store.CollectionDef{
			{Name: "lots", KeyPath: "id", Indexes: []store.IndexDef{{Name: "by_status", KeyPath: "status"}}},
			{Name: "orders", KeyPath: "orderNo"},
		},
	}

	assert.Equal(t, want, sc.Schema())
	assert.Equal(t, []string{"lots", "orders"}, sc.Tables())
}

func TestWriteTemplate_LoadsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, WriteTemplate(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())

	_, err = Load(path)
	require.NoError(t, err)

	err = WriteTemplate(path)
	assert.ErrorIs(t, err, ErrConfigExists)
}

func countOccurrences(s, sub string) int {
	n := 0

	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}

	return n
}
