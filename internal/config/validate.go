package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/emirbensusan/lotastro-sync/internal/logging"
	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// Validation range constants.
const (
	minSyncInterval  = time.Second
	minPollInterval  = 100 * time.Millisecond
	minRemoteTimeout = time.Second
)

// Validate checks all configuration values and returns every error found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateDurationNonNeg("cache.stale_time", cfg.Cache.StaleTime)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateStore(s *StoreConfig) []error {
	var errs []error

	if s.Path == "" {
		errs = append(errs, errors.New("store.path: must not be empty"))
	}

	if s.SchemaVersion < 1 {
		errs = append(errs, fmt.Errorf("store.schema_version: must be >= 1, got %d", s.SchemaVersion))
	}

	seen := make(map[string]bool, len(s.Collections))

	for i, c := range s.Collections {
		field := fmt.Sprintf("store.collections[%d]", i)

		switch {
		case c.Name == "":
			errs = append(errs, fmt.Errorf("%s.name: must not be empty", field))
		case c.Name == store.QueueCollection || c.Name == store.MetadataCollection:
			errs = append(errs, fmt.Errorf("%s.name: %q is reserved", field, c.Name))
		case seen[c.Name]:
			errs = append(errs, fmt.Errorf("%s.name: duplicate collection %q", field, c.Name))
		}

		seen[c.Name] = true

		if c.KeyPath == "" {
			errs = append(errs, fmt.Errorf("%s.key_path: must not be empty", field))
		}

		indexes := make(map[string]bool, len(c.Indexes))

		for j, idx := range c.Indexes {
			ifield := fmt.Sprintf("%s.indexes[%d]", field, j)

			if idx.Name == "" || idx.KeyPath == "" {
				errs = append(errs, fmt.Errorf("%s: name and key_path are required", ifield))
			}

			if indexes[idx.Name] {
				errs = append(errs, fmt.Errorf("%s.name: duplicate index %q", ifield, idx.Name))
			}

			indexes[idx.Name] = true
		}
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("sync.interval", s.Interval, minSyncInterval)...)
	errs = append(errs, validateDurationNonNeg("sync.shutdown_timeout", s.ShutdownTimeout)...)

	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("sync.max_attempts: must be >= 1, got %d", s.MaxAttempts))
	}

	return errs
}

var validSources = map[string]bool{
	SourceInterfaces: true,
	SourceFile:       true,
	SourceStatic:     true,
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if !validSources[n.Source] {
		errs = append(errs, fmt.Errorf("network.source: must be one of interfaces, file, static; got %q", n.Source))
	}

	if n.Source == SourceFile && n.StatusFile == "" {
		errs = append(errs, errors.New("network.status_file: required when source is \"file\""))
	}

	errs = append(errs, validateDurationMin("network.poll_interval", n.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationNonNeg("network.max_rtt", n.MaxRTT)...)

	if n.MinDownlinkMbps < 0 {
		errs = append(errs, fmt.Errorf("network.min_downlink_mbps: must be >= 0, got %g", n.MinDownlinkMbps))
	}

	return errs
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.BaseURL != "" {
		u, err := url.Parse(r.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url: must be an http(s) URL, got %q", r.BaseURL))
		}
	}

	errs = append(errs, validateDurationMin("remote.timeout", r.Timeout, minRemoteTimeout)...)

	if r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("remote.max_retries: must be >= 0, got %d", r.MaxRetries))
	}

	if r.ClientID != "" && r.TokenURL == "" {
		errs = append(errs, errors.New("remote.token_url: required with client_id"))
	}

	for table, path := range r.Tables {
		if path != "" && !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Errorf("remote.tables.%s: path must start with \"/\", got %q", table, path))
		}
	}

	return errs
}

func validateAPI(a *APIConfig) []error {
	if a.Enabled && a.Listen == "" {
		return []error{errors.New("api.listen: required when the api is enabled")}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !logging.ValidFormat(l.Format) {
		errs = append(errs, fmt.Errorf("logging.format: must be one of auto, text, json; got %q", l.Format))
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.RetentionDays < 0 {
		errs = append(errs, errors.New("logging: rotation limits must be >= 0"))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}
