package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue depth and collection freshness",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

type collectionStatus struct {
	Name         string `json:"name"`
	Records      int    `json:"records"`
	LastSyncedAt int64  `json:"lastSyncedAt,omitempty"`
}

type statusOutput struct {
	Store       string             `json:"store"`
	StoreBytes  int64              `json:"storeBytes"`
	Remote      string             `json:"remote,omitempty"`
	DaemonPID   int                `json:"daemonPid,omitempty"`
	Network     netstatus.Status   `json:"network"`
	Queue       sync.QueueStats    `json:"queue"`
	Collections []collectionStatus `json:"collections"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := statusOutput{
		Store:   cc.Cfg.Store.Path,
		Remote:  cc.Cfg.Remote.BaseURL,
		Network: eng.monitor.Current(),
	}

	if fi, err := os.Stat(cc.Cfg.Store.Path); err == nil {
		out.StoreBytes = fi.Size()
	}

	proc, err := findDaemon(pidFilePath(cc.Cfg.Store.Path))
	switch {
	case err == nil:
		out.DaemonPID = proc.Pid
	case !errors.Is(err, errNoDaemon):
		cc.Logger.Debug("daemon lookup failed", slog.String("error", err.Error()))
	}

	if out.Queue, err = eng.queue.Stats(ctx); err != nil {
		return err
	}

	if out.Collections, err = collectionStatuses(cmd, eng); err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	printStatus(out)

	return nil
}

func collectionStatuses(cmd *cobra.Command, eng *engine) ([]collectionStatus, error) {
	ctx := cmd.Context()

	meta, err := eng.store.ListSyncMetadata(ctx)
	if err != nil {
		return nil, err
	}

	synced := make(map[string]store.SyncMetadata, len(meta))
	for _, m := range meta {
		synced[m.StoreName] = m
	}

	out := make([]collectionStatus, 0)

	for _, name := range eng.store.Collections() {
		n, err := eng.store.Count(ctx, name)
		if err != nil {
			return nil, err
		}

		out = append(out, collectionStatus{
			Name:         name,
			Records:      n,
			LastSyncedAt: synced[name].LastSyncedAt,
		})
	}

	return out, nil
}

func printStatus(out statusOutput) {
	fmt.Printf("Store:    %s (%s)\n", out.Store, formatSize(out.StoreBytes))

	remote := out.Remote
	if remote == "" {
		remote = "not configured"
	}

	fmt.Printf("Remote:   %s\n", remote)

	daemon := "not running"
	if out.DaemonPID != 0 {
		daemon = "running (PID " + strconv.Itoa(out.DaemonPID) + ")"
	}

	fmt.Printf("Daemon:   %s\n", daemon)
	fmt.Printf("Network:  %s\n", describeNetwork(out.Network))
	fmt.Printf("Queue:    %d pending, %d processing, %d failed, %d in conflict\n",
		out.Queue.Pending, out.Queue.Processing, out.Queue.Failed, out.Queue.Conflict)

	if len(out.Collections) == 0 {
		return
	}

	fmt.Println()

	rows := make([][]string, 0, len(out.Collections))
	for _, c := range out.Collections {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.Records), formatMillis(c.LastSyncedAt)})
	}

	printTable(os.Stdout, []string{"COLLECTION", "RECORDS", "LAST SYNCED"}, rows)
}

// describeNetwork renders a status as e.g. "online (4g, slow)".
func describeNetwork(s netstatus.Status) string {
	if !s.Online {
		return "offline"
	}

	detail := s.ConnectionType
	if detail == "" {
		detail = netstatus.ConnUnknown
	}

	if s.Slow {
		detail += ", slow"
	}

	return "online (" + detail + ")"
}
