// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for lotasync. Values resolve through a
// four-layer chain: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	Store   StoreConfig   `toml:"store" json:"store"`
	Sync    SyncConfig    `toml:"sync" json:"sync"`
	Cache   CacheConfig   `toml:"cache" json:"cache"`
	Network NetworkConfig `toml:"network" json:"network"`
	Remote  RemoteConfig  `toml:"remote" json:"remote"`
	API     APIConfig     `toml:"api" json:"api"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// StoreConfig locates the database and declares its collections.
type StoreConfig struct {
	Path          string             `toml:"path" json:"path"`
	SchemaVersion int                `toml:"schema_version" json:"schema_version"`
	Collections   []CollectionConfig `toml:"collections" json:"collections"`
}

// CollectionConfig declares one keyed collection.
type CollectionConfig struct {
	Name    string        `toml:"name" json:"name"`
	KeyPath string        `toml:"key_path" json:"key_path"`
	Indexes []IndexConfig `toml:"indexes" json:"indexes,omitempty"`
}

// IndexConfig declares a secondary index on a collection.
type IndexConfig struct {
	Name    string `toml:"name" json:"name"`
	KeyPath string `toml:"key_path" json:"key_path"`
	Unique  bool   `toml:"unique" json:"unique,omitempty"`
}

// SyncConfig controls the background scheduler and queue policy.
type SyncConfig struct {
	Enabled         bool   `toml:"enabled" json:"enabled"`
	Interval        string `toml:"interval" json:"interval"`
	MaxAttempts     int    `toml:"max_attempts" json:"max_attempts"`
	RequireBaseline bool   `toml:"require_baseline" json:"require_baseline"`
	ShutdownTimeout string `toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// CacheConfig controls the cached query layer.
type CacheConfig struct {
	StaleTime string `toml:"stale_time" json:"stale_time"`
}

// NetworkConfig selects where connectivity observations come from and when
// a link counts as slow.
type NetworkConfig struct {
	// Source is "interfaces", "file" or "static".
	Source          string  `toml:"source" json:"source"`
	StatusFile      string  `toml:"status_file" json:"status_file,omitempty"`
	PollInterval    string  `toml:"poll_interval" json:"poll_interval"`
	StaticOnline    bool    `toml:"static_online" json:"static_online"`
	MinDownlinkMbps float64 `toml:"min_downlink_mbps" json:"min_downlink_mbps"`
	MaxRTT          string  `toml:"max_rtt" json:"max_rtt"`
}

// RemoteConfig points at the REST backend. Tables maps a table name to its
// collection path; an empty path means "/<table>".
type RemoteConfig struct {
	BaseURL      string            `toml:"base_url" json:"base_url"`
	Timeout      string            `toml:"timeout" json:"timeout"`
	MaxRetries   int               `toml:"max_retries" json:"max_retries"`
	Token        string            `toml:"token" json:"-"`
	ClientID     string            `toml:"client_id" json:"client_id,omitempty"`
	ClientSecret string            `toml:"client_secret" json:"-"`
	TokenURL     string            `toml:"token_url" json:"token_url,omitempty"`
	Scopes       []string          `toml:"scopes" json:"scopes,omitempty"`
	TokenCache   string            `toml:"token_cache" json:"token_cache"`
	HealthPath   string            `toml:"health_path" json:"health_path,omitempty"`
	Tables       map[string]string `toml:"tables" json:"tables"`
}

// APIConfig controls the local control API.
type APIConfig struct {
	Enabled        bool     `toml:"enabled" json:"enabled"`
	Listen         string   `toml:"listen" json:"listen"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins,omitempty"`
}

// LoggingConfig controls log level, format, and file rotation.
type LoggingConfig struct {
	Level         string `toml:"level" json:"level"`
	Format        string `toml:"format" json:"format"`
	File          string `toml:"file" json:"file,omitempty"`
	MaxSizeMB     int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups" json:"max_backups"`
	RetentionDays int    `toml:"retention_days" json:"retention_days"`
	Compress      bool   `toml:"compress" json:"compress"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not
// specified".
type CLIOverrides struct {
	ConfigPath string // --config
	StorePath  string // --db
	RemoteURL  string // --remote
	LogLevel   string // derived from --verbose / --quiet
}
