package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued mutations against the remote now",
		Long: `Run one sync pass over the pending mutations.

If a daemon is running for this store it is asked to run the pass (SIGHUP)
instead, so two processes never drain the same queue.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().Bool("retry-failed", false, "return failed mutations to the queue before the pass")

	return cmd
}

// syncOutput is the JSON shape of a local pass.
type syncOutput struct {
	sync.SyncResult
	Remaining sync.QueueStats `json:"remaining"`
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	retryFailed, err := cmd.Flags().GetBool("retry-failed")
	if err != nil {
		return err
	}

	if !retryFailed {
		err := sendSIGHUP(pidFilePath(cc.Cfg.Store.Path))
		if err == nil {
			cc.Statusf("Sync requested from running daemon\n")
			return nil
		}

		if !errors.Is(err, errNoDaemon) {
			return err
		}
	}

	eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.requireRemote(); err != nil {
		return err
	}

	if retryFailed {
		n, err := eng.queue.RetryFailed(ctx)
		if err != nil {
			return err
		}

		cc.Statusf("Re-queued %d failed mutation(s)\n", n)
	}

	if !eng.monitor.IsOnline() {
		return fmt.Errorf("cannot sync: %w", sync.ErrOffline)
	}

	res, err := eng.queue.ProcessSyncQueue(ctx, eng.exec)
	if err != nil {
		return err
	}

	stats, err := eng.queue.Stats(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, syncOutput{SyncResult: res, Remaining: stats})
	}

	if res.Total() == 0 {
		cc.Statusf("Nothing to sync\n")
	}

	for _, n := range sync.Notifications(res, time.Now()) {
		fmt.Println(notificationText(n))
	}

	if stats.Total() > 0 {
		fmt.Printf("%d pending, %d failed, %d in conflict\n", stats.Pending, stats.Failed, stats.Conflict)
	}

	return nil
}

// notificationText renders one pass outcome for the terminal.
func notificationText(n sync.Notification) string {
	switch n.Kind {
	case sync.NotifySynced:
		return fmt.Sprintf("%d change(s) synced", n.Count)
	case sync.NotifyConflicts:
		return fmt.Sprintf("%d change(s) conflict with the server, see 'lotasync conflicts'", n.Count)
	case sync.NotifyFailed:
		return fmt.Sprintf("%d change(s) failed to sync", n.Count)
	default:
		return fmt.Sprintf("%d %s", n.Count, n.Kind)
	}
}
