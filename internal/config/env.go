package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "LOTASYNC_CONFIG"
	EnvDB          = "LOTASYNC_DB"
	EnvRemoteURL   = "LOTASYNC_REMOTE_URL"
	EnvRemoteToken = "LOTASYNC_REMOTE_TOKEN"
	EnvLogLevel    = "LOTASYNC_LOG_LEVEL"
)

// EnvOverrides holds values read from environment variables.
type EnvOverrides struct {
	ConfigPath  string // LOTASYNC_CONFIG
	StorePath   string // LOTASYNC_DB
	RemoteURL   string // LOTASYNC_REMOTE_URL
	RemoteToken string // LOTASYNC_REMOTE_TOKEN
	LogLevel    string // LOTASYNC_LOG_LEVEL
}

// ReadEnvOverrides reads the override variables. It does not modify any
// Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		StorePath:   os.Getenv(EnvDB),
		RemoteURL:   os.Getenv(EnvRemoteURL),
		RemoteToken: os.Getenv(EnvRemoteToken),
		LogLevel:    os.Getenv(EnvLogLevel),
	}
}
