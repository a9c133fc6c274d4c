package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [id]",
		Short: "Resolve sync conflicts",
		Long: `Resolve conflicted mutations with a chosen strategy.

Strategies:
  --server       Discard the local change and keep the server record
  --local        Re-send the local change as it was queued
  --merge DATA   Re-send DATA instead (inline JSON, @file, or @- for stdin)

Use --all to resolve every conflict with --server or --local. Without --all an
id or unique id prefix is required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("server", false, "keep the server record")
	cmd.Flags().Bool("local", false, "re-send the local change")
	cmd.Flags().String("merge", "", "re-send merged data")
	cmd.Flags().Bool("all", false, "resolve all conflicts")
	cmd.Flags().Bool("dry-run", false, "show what would be resolved")

	cmd.MarkFlagsMutuallyExclusive("server", "local", "merge")
	cmd.MarkFlagsOneRequired("server", "local", "merge")
	cmd.MarkFlagsMutuallyExclusive("all", "merge")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	resolution, merged, err := resolveStrategy(cmd)
	if err != nil {
		return err
	}

	all, _ := cmd.Flags().GetBool("all")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if !all && len(args) == 0 {
		return errors.New("specify a conflict id, or use --all to resolve all conflicts")
	}

	if all && len(args) > 0 {
		return errors.New("--all and a specific conflict id are mutually exclusive")
	}

	eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	var targets []store.QueuedMutation

	if all {
		targets, err = eng.queue.GetConflicts(ctx)
		if err != nil {
			return err
		}
	} else {
		m, err := findMutation(ctx, eng.queue, args[0])
		if err != nil {
			return err
		}

		if m.Status != store.StatusConflict {
			return fmt.Errorf("%w: %s is %s", sync.ErrNotConflict, m.ID, m.Status)
		}

		targets = []store.QueuedMutation{*m}
	}

	if len(targets) == 0 {
		cc.Statusf("No conflicts to resolve\n")
		return nil
	}

	for i := range targets {
		m := &targets[i]

		if dryRun {
			fmt.Printf("would resolve %s (%s/%s) with %s\n", m.ID, m.Table, m.RecordID, resolution)
			continue
		}

		if err := eng.queue.ResolveConflict(ctx, m.ID, resolution, merged); err != nil {
			return err
		}

		cc.Statusf("Resolved %s (%s/%s) with %s\n", m.ID, m.Table, m.RecordID, resolution)
	}

	return nil
}

// resolveStrategy returns the chosen resolution and, for merge, the merged
// record.
func resolveStrategy(cmd *cobra.Command) (sync.Resolution, store.Record, error) {
	flags := cmd.Flags()

	switch {
	case flags.Changed("server"):
		return sync.ResolveServer, nil, nil
	case flags.Changed("local"):
		return sync.ResolveLocal, nil, nil
	}

	arg, _ := flags.GetString("merge")

	merged, err := parseRecordArg(arg, cmd.InOrStdin())
	if err != nil {
		return "", nil, fmt.Errorf("--merge: %w", err)
	}

	if merged == nil {
		return "", nil, errors.New("--merge requires a JSON object")
	}

	return sync.ResolveMerge, merged, nil
}
