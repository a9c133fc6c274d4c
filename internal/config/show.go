package config

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary. Secrets are masked.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	renderStoreSection(ew, &cfg.Store)
	renderSyncSection(ew, &cfg.Sync)
	ew.printf("[cache]\n  stale_time = %q\n\n", cfg.Cache.StaleTime)
	renderNetworkSection(ew, &cfg.Network)
	renderRemoteSection(ew, &cfg.Remote)
	renderAPISection(ew, &cfg.API)
	renderLoggingSection(ew, &cfg.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderStoreSection(ew *errWriter, s *StoreConfig) {
	ew.printf("[store]\n")
	ew.printf("  path           = %q\n", s.Path)
	ew.printf("  schema_version = %d\n", s.SchemaVersion)

	for _, c := range s.Collections {
		ew.printf("  collection %q key_path=%q", c.Name, c.KeyPath)

		for _, idx := range c.Indexes {
			unique := ""
			if idx.Unique {
				unique = " unique"
			}

			ew.printf(" index %s(%s)%s", idx.Name, idx.KeyPath, unique)
		}

		ew.printf("\n")
	}

	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  enabled          = %t\n", s.Enabled)
	ew.printf("  interval         = %q\n", s.Interval)
	ew.printf("  max_attempts     = %d\n", s.MaxAttempts)
	ew.printf("  require_baseline = %t\n", s.RequireBaseline)
	ew.printf("  shutdown_timeout = %q\n\n", s.ShutdownTimeout)
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  source            = %q\n", n.Source)

	switch n.Source {
	case SourceFile:
		ew.printf("  status_file       = %q\n", n.StatusFile)
	case SourceStatic:
		ew.printf("  static_online     = %t\n", n.StaticOnline)
	default:
		ew.printf("  poll_interval     = %q\n", n.PollInterval)
	}

	ew.printf("  min_downlink_mbps = %g\n", n.MinDownlinkMbps)
	ew.printf("  max_rtt           = %q\n\n", n.MaxRTT)
}

func renderRemoteSection(ew *errWriter, r *RemoteConfig) {
	ew.printf("[remote]\n")
	ew.printf("  base_url    = %q\n", r.BaseURL)
	ew.printf("  timeout     = %q\n", r.Timeout)
	ew.printf("  max_retries = %d\n", r.MaxRetries)

	switch {
	case r.Token != "":
		ew.printf("  auth        = \"static token\"\n")
	case r.ClientID != "":
		ew.printf("  auth        = \"client credentials (%s)\"\n", r.ClientID)
		ew.printf("  token_url   = %q\n", r.TokenURL)
		ew.printf("  token_cache = %q\n", r.TokenCache)
	default:
		ew.printf("  auth        = \"none\"\n")
	}

	if len(r.Tables) > 0 {
		tables := make([]string, 0, len(r.Tables))
		for t := range r.Tables {
			tables = append(tables, t)
		}

		slices.Sort(tables)

		for _, t := range tables {
			ew.printf("  tables.%s = %q\n", t, r.Tables[t])
		}
	}

	ew.printf("\n")
}

func renderAPISection(ew *errWriter, a *APIConfig) {
	ew.printf("[api]\n")
	ew.printf("  enabled = %t\n", a.Enabled)
	ew.printf("  listen  = %q\n", a.Listen)

	if len(a.AllowedOrigins) > 0 {
		ew.printf("  allowed_origins = [%s]\n", joinQuoted(a.AllowedOrigins))
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  level  = %q\n", l.Level)
	ew.printf("  format = %q\n", l.Format)

	if l.File != "" {
		ew.printf("  file   = %q (max %d MB, %d backups, %d days)\n", l.File, l.MaxSizeMB, l.MaxBackups, l.RetentionDays)
	}
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
