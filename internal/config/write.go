package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// ErrConfigExists is returned by WriteTemplate when the file is present.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is written by "config init". Every setting appears as a
// commented default.
const configTemplate = `# lotasync configuration

[store]
# path = "~/.local/share/lotasync/lotasync.db"
schema_version = 1

# [[store.collections]]
# name = "lots"
# key_path = "id"
#
#   [[store.collections.indexes]]
#   name = "by_status"
#   key_path = "status"
#   unique = false

[sync]
# enabled = true
# interval = "30s"
# max_attempts = 3
# require_baseline = false
# shutdown_timeout = "10s"

[cache]
# stale_time = "5m"

[network]
# interfaces, file or static
# source = "interfaces"
# status_file = ""
# poll_interval = "5s"
# min_downlink_mbps = 1.5
# max_rtt = "400ms"

[remote]
# base_url = "https://api.example.com"
# timeout = "30s"
# token = ""
# client_id = ""
# client_secret = ""
# token_url = ""

# [remote.tables]
# lots = "/api/lots"

[api]
# enabled = false
# listen = "127.0.0.1:8765"

[logging]
# level = "info"
# format = "auto"
# file = ""
`

// WriteTemplate writes the default config template to path atomically.
// Returns ErrConfigExists if the file is already present.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: checking %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(configTemplate); err != nil {
		tmp.Close()
		return fmt.Errorf("config: writing: %w", err)
	}

	if err := tmp.Chmod(configFilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: renaming: %w", err)
	}

	success = true

	return nil
}
