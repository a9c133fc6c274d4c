package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

// lastErrorWidth caps the LAST ERROR column in table output.
const lastErrorWidth = 48

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the offline mutation queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueAddCmd())
	cmd.AddCommand(newQueueRemoveCmd())
	cmd.AddCommand(newQueueClearCmd())
	cmd.AddCommand(newQueueRetryCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued mutations, oldest first",
		Args:  cobra.NoArgs,
		RunE:  runQueueList,
	}

	cmd.Flags().StringSlice("status", nil, "only show these statuses (pending, processing, failed, conflict)")

	return cmd
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	raw, err := cmd.Flags().GetStringSlice("status")
	if err != nil {
		return err
	}

	statuses, err := parseStatuses(raw)
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	muts, err := eng.store.ListMutations(ctx, statuses...)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if muts == nil {
			muts = []store.QueuedMutation{}
		}

		return printJSON(os.Stdout, muts)
	}

	if len(muts) == 0 {
		cc.Statusf("Queue is empty\n")
		return nil
	}

	printMutations(os.Stdout, muts)

	return nil
}

func printMutations(w io.Writer, muts []store.QueuedMutation) {
	headers := []string{"ID", "TYPE", "TABLE", "RECORD", "STATUS", "ATTEMPTS", "QUEUED", "LAST ERROR"}
	rows := make([][]string, 0, len(muts))

	for i := range muts {
		m := &muts[i]
		rows = append(rows, []string{
			m.ID,
			string(m.Type),
			m.Table,
			m.RecordID,
			string(m.Status),
			strconv.Itoa(m.Attempts),
			formatMillis(m.CreatedAt),
			truncateText(m.LastError, lastErrorWidth),
		})
	}

	printTable(w, headers, rows)
}

func parseStatuses(raw []string) ([]store.MutationStatus, error) {
	out := make([]store.MutationStatus, 0, len(raw))

	for _, s := range raw {
		st := store.MutationStatus(strings.ToLower(strings.TrimSpace(s)))

		switch st {
		case store.StatusPending, store.StatusProcessing, store.StatusFailed, store.StatusConflict:
			out = append(out, st)
		default:
			return nil, fmt.Errorf("unknown status %q (want pending, processing, failed or conflict)", s)
		}
	}

	return out, nil
}

func newQueueAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit a mutation through the write path",
		Long: `Submit a create, update or delete. When online and a remote is configured the
mutation is attempted immediately; otherwise it is queued for the next pass.
Either way the local collection receives an optimistic copy.

--data and --original take inline JSON, @file, or @- for stdin.

Examples:
  lotasync queue add --type create --table lots --data '{"id":"L-1","qty":5}'
  lotasync queue add --type update --table lots --id L-1 \
      --data '{"qty":7}' --original '{"qty":5}'
  lotasync queue add --type delete --table lots --id L-1 --queue-only`,
		Args: cobra.NoArgs,
		RunE: runQueueAdd,
	}

	cmd.Flags().String("type", "", "mutation type: create, update or delete")
	cmd.Flags().String("table", "", "target table")
	cmd.Flags().String("id", "", "record id (defaults to data.id)")
	cmd.Flags().String("data", "", "record fields as JSON")
	cmd.Flags().String("original", "", "record as last seen from the server, as JSON")
	cmd.Flags().Bool("queue-only", false, "queue without an immediate attempt")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

func runQueueAdd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	flags := cmd.Flags()

	typ, _ := flags.GetString("type")
	table, _ := flags.GetString("table")
	id, _ := flags.GetString("id")
	dataArg, _ := flags.GetString("data")
	originalArg, _ := flags.GetString("original")
	queueOnly, _ := flags.GetBool("queue-only")

	data, err := parseRecordArg(dataArg, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("--data: %w", err)
	}

	original, err := parseRecordArg(originalArg, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("--original: %w", err)
	}

	if id == "" && data != nil && data["id"] != nil {
		id = store.KeyString(data["id"])
	}

	in := sync.MutationInput{
		Type:         store.MutationType(strings.ToUpper(typ)),
		Table:        table,
		RecordID:     id,
		Data:         data,
		OriginalData: original,
	}

	eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if queueOnly || eng.client == nil {
		mid, err := eng.queue.QueueMutation(ctx, in)
		if err != nil {
			return err
		}

		return reportWrite(cc, sync.WriteResult{Queued: true, MutationID: mid})
	}

	res, err := eng.writer.Write(ctx, in)
	if err != nil {
		var ce *sync.ConflictError
		if errors.As(err, &ce) && cc.Flags.JSON {
			_ = printJSON(os.Stdout, ce)
		}

		return err
	}

	return reportWrite(cc, res)
}

func reportWrite(cc *CLIContext, res sync.WriteResult) error {
	if cc.Flags.JSON {
		return printJSON(os.Stdout, res)
	}

	if res.Queued {
		fmt.Printf("Queued %s\n", res.MutationID)
		return nil
	}

	fmt.Println("Applied")

	return nil
}

// parseRecordArg decodes inline JSON, @file, or @- (stdin). Empty means no
// record.
func parseRecordArg(arg string, stdin io.Reader) (store.Record, error) {
	if arg == "" {
		return nil, nil
	}

	var raw []byte

	switch {
	case arg == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		raw = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}

		raw = b
	default:
		raw = []byte(arg)
	}

	var rec store.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}

	return rec, nil
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop one queued mutation without syncing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			m, err := findMutation(ctx, eng.queue, args[0])
			if err != nil {
				return err
			}

			removed, err := eng.queue.RemoveMutation(ctx, m.ID)
			if err != nil {
				return err
			}

			if !removed {
				return fmt.Errorf("mutation %s: %w", m.ID, store.ErrNotFound)
			}

			cc.Statusf("Removed %s\n", m.ID)

			return nil
		},
	}
}

func newQueueClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued mutation, including failed and conflicted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errors.New("refusing to discard unsynced changes without --yes")
			}

			eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			n, err := eng.queue.ClearQueue(ctx)
			if err != nil {
				return err
			}

			cc.Statusf("Removed %d mutation(s)\n", n)

			return nil
		},
	}

	cmd.Flags().Bool("yes", false, "confirm discarding all unsynced changes")

	return cmd
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id]",
		Short: "Return failed mutations to the queue",
		Long:  "Reset one failed mutation, or all of them when no id is given, to pending with a fresh attempt budget.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			if len(args) == 0 {
				n, err := eng.queue.RetryFailed(ctx)
				if err != nil {
					return err
				}

				cc.Statusf("Re-queued %d mutation(s)\n", n)

				return nil
			}

			m, err := findMutation(ctx, eng.queue, args[0])
			if err != nil {
				return err
			}

			if err := eng.queue.RetryMutation(ctx, m.ID); err != nil {
				return err
			}

			cc.Statusf("Re-queued %s\n", m.ID)

			return nil
		},
	}
}

// findMutation resolves a full ID or a unique ID prefix.
func findMutation(ctx context.Context, q *sync.QueueManager, idOrPrefix string) (*store.QueuedMutation, error) {
	m, err := q.GetMutation(ctx, idOrPrefix)
	if err == nil {
		return m, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	all, err := q.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var match *store.QueuedMutation

	for i := range all {
		if !strings.HasPrefix(all[i].ID, idOrPrefix) {
			continue
		}

		if match != nil {
			return nil, fmt.Errorf("ambiguous id prefix %q", idOrPrefix)
		}

		match = &all[i]
	}

	if match == nil {
		return nil, fmt.Errorf("mutation %q: %w", idOrPrefix, store.ErrNotFound)
	}

	return match, nil
}
