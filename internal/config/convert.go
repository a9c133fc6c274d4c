package config

import (
	"time"

	"github.com/emirbensusan/lotastro-sync/internal/logging"
	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/remote"
	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// Schema converts the declared collections to a store.Schema.
func (s *StoreConfig) Schema() store.Schema {
	schema := store.Schema{
		Version:     s.SchemaVersion,
		Collections: make([]store.CollectionDef, 0, len(s.Collections)),
	}

	for _, c := range s.Collections {
		def := store.CollectionDef{Name: c.Name, KeyPath: c.KeyPath}

		for _, idx := range c.Indexes {
			def.Indexes = append(def.Indexes, store.IndexDef{
				Name:    idx.Name,
				KeyPath: idx.KeyPath,
				Unique:  idx.Unique,
			})
		}

		schema.Collections = append(schema.Collections, def)
	}

	return schema
}

// Tables returns the collection names, in declaration order.
func (s *StoreConfig) Tables() []string {
	out := make([]string, 0, len(s.Collections))
	for _, c := range s.Collections {
		out = append(out, c.Name)
	}

	return out
}

// IntervalDuration returns the parsed sync interval.
func (s *SyncConfig) IntervalDuration() time.Duration {
	return parseDurationOr(s.Interval, defaultSyncInterval)
}

// ShutdownDuration returns the parsed shutdown timeout.
func (s *SyncConfig) ShutdownDuration() time.Duration {
	return parseDurationOr(s.ShutdownTimeout, defaultShutdownTimeout)
}

// StaleDuration returns the parsed cache stale time.
func (c *CacheConfig) StaleDuration() time.Duration {
	return parseDurationOr(c.StaleTime, defaultStaleTime)
}

// PollDuration returns the parsed interface poll interval.
func (n *NetworkConfig) PollDuration() time.Duration {
	return parseDurationOr(n.PollInterval, defaultPollInterval)
}

// Thresholds returns the slow-link thresholds.
func (n *NetworkConfig) Thresholds() netstatus.Thresholds {
	return netstatus.Thresholds{
		MinDownlinkMbps: n.MinDownlinkMbps,
		MaxRTT:          parseDurationOr(n.MaxRTT, defaultMaxRTT),
	}
}

// TimeoutDuration returns the parsed HTTP timeout.
func (r *RemoteConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(r.Timeout, defaultRemoteTimeout)
}

// Credentials returns the remote authentication settings.
func (r *RemoteConfig) Credentials() remote.Credentials {
	return remote.Credentials{
		Token:        r.Token,
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		TokenURL:     r.TokenURL,
		Scopes:       r.Scopes,
		CachePath:    r.TokenCache,
	}
}

// Options returns the logging options.
func (l *LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.RetentionDays,
		Compress:   l.Compress,
	}
}

func parseDurationOr(value, fallback string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}
