package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/cache"
	"github.com/emirbensusan/lotastro-sync/internal/store"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Read and refresh cached remote collections",
	}

	cmd.AddCommand(newCacheShowCmd())
	cmd.AddCommand(newCacheRefreshCmd())

	return cmd
}

// snapshotJSON is the JSON shape of a cache read.
type snapshotJSON struct {
	Table        string         `json:"table"`
	Count        int            `json:"count"`
	Records      []store.Record `json:"records,omitempty"`
	IsStale      bool           `json:"isStale"`
	LastSyncedAt int64          `json:"lastSyncedAt,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func toSnapshotJSON(table string, snap cache.Snapshot) snapshotJSON {
	out := snapshotJSON{
		Table:   table,
		Count:   len(snap.Data),
		Records: snap.Data,
		IsStale: snap.IsStale,
	}

	if !snap.LastSyncedAt.IsZero() {
		out.LastSyncedAt = snap.LastSyncedAt.UnixMilli()
	}

	if snap.Error != nil {
		out.Error = snap.Error.Error()
	}

	return out
}

func newCacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <table>",
		Short: "Print a cached collection, refreshing it first when stale and online",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			h, err := eng.cacheQuery(args[0])
			if err != nil {
				return err
			}

			snap := h.Read(ctx)
			if snap.IsFetching {
				if err := h.Wait(ctx); err != nil {
					return err
				}

				snap = h.Read(ctx)
			}

			if cc.Flags.JSON {
				return printJSON(os.Stdout, toSnapshotJSON(args[0], snap))
			}

			printSnapshot(cc, args[0], snap)

			return printJSON(os.Stdout, snap.Data)
		},
	}
}

func newCacheRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [table...]",
		Short: "Replace cached collections with the remote contents",
		Long:  "Refresh the named tables, or every configured table when none are given. Offline the cache is left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.requireRemote(); err != nil {
				return err
			}

			tables := args
			if len(tables) == 0 {
				tables = eng.store.Collections()
			}

			if !eng.monitor.IsOnline() {
				cc.Statusf("Offline, cached data left as is\n")
			}

			out := make([]snapshotJSON, 0, len(tables))

			var failed int

			for _, table := range tables {
				h, err := eng.cacheQuery(table)
				if err != nil {
					return err
				}

				snap := h.Refetch(ctx)
				if snap.Error != nil {
					failed++
				}

				if cc.Flags.JSON {
					snapJSON := toSnapshotJSON(table, snap)
					snapJSON.Records = nil
					out = append(out, snapJSON)

					continue
				}

				printSnapshot(cc, table, snap)
			}

			if cc.Flags.JSON {
				return printJSON(os.Stdout, out)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d table(s) failed to refresh", failed, len(tables))
			}

			return nil
		},
	}
}

func printSnapshot(cc *CLIContext, table string, snap cache.Snapshot) {
	state := "fresh"
	if snap.IsStale {
		state = "stale"
	}

	cc.Statusf("%s: %d records, %s, last synced %s\n",
		table, len(snap.Data), state, formatTime(snap.LastSyncedAt))

	if snap.Error != nil {
		cc.Statusf("%s: %v\n", table, snap.Error)
	}
}
