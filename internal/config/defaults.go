package config

import "path/filepath"

// Default values: layer 0 of the override chain.
const (
	defaultSchemaVersion   = 1
	defaultSyncInterval    = "30s"
	defaultMaxAttempts     = 3
	defaultShutdownTimeout = "10s"
	defaultStaleTime       = "5m"
	defaultNetworkSource   = SourceInterfaces
	defaultPollInterval    = "5s"
	defaultMinDownlinkMbps = 1.5
	defaultMaxRTT          = "400ms"
	defaultRemoteTimeout   = "30s"
	defaultRemoteRetries   = 3
	defaultAPIListen       = "127.0.0.1:8765"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultLogMaxSizeMB    = 20
	defaultLogMaxBackups   = 5
	defaultLogRetention    = 30
)

// Network source names.
const (
	SourceInterfaces = "interfaces"
	SourceFile       = "file"
	SourceStatic     = "static"
)

// Default database and token cache file names.
const (
	dbFileName         = "lotasync.db"
	tokenCacheFileName = "token.json"
)

// DefaultConfig returns a Config populated with all default values. It is the
// starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:          defaultStorePath(),
			SchemaVersion: defaultSchemaVersion,
		},
		Sync: SyncConfig{
			Enabled:         true,
			Interval:        defaultSyncInterval,
			MaxAttempts:     defaultMaxAttempts,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Cache: CacheConfig{
			StaleTime: defaultStaleTime,
		},
		Network: NetworkConfig{
			Source:          defaultNetworkSource,
			PollInterval:    defaultPollInterval,
			StaticOnline:    true,
			MinDownlinkMbps: defaultMinDownlinkMbps,
			MaxRTT:          defaultMaxRTT,
		},
		Remote: RemoteConfig{
			Timeout:    defaultRemoteTimeout,
			MaxRetries: defaultRemoteRetries,
			TokenCache: defaultTokenCachePath(),
			Tables:     make(map[string]string),
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Logging: LoggingConfig{
			Level:         defaultLogLevel,
			Format:        defaultLogFormat,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
			RetentionDays: defaultLogRetention,
		},
	}
}

func defaultStorePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return dbFileName
	}

	return filepath.Join(dir, dbFileName)
}

func defaultTokenCachePath() string {
	dir := DefaultCacheDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, tokenCacheFileName)
}
