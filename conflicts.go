package main

import (
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List mutations that conflict with the server",
		Long: `Display queued mutations the server rejected because the record changed on
both sides.

Use 'lotasync resolve' to keep the server version, re-send the local change,
or send a merged record.`,
		Args: cobra.NoArgs,
		RunE: runConflicts,
	}
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Table    string       `json:"table"`
	RecordID string       `json:"recordId"`
	Fields   []string     `json:"fields"`
	Local    store.Record `json:"local"`
	Server   store.Record `json:"server,omitempty"`
	QueuedAt int64        `json:"queuedAt"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	eng, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	conflicts, err := eng.queue.GetConflicts(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]conflictJSON, 0, len(conflicts))
		for i := range conflicts {
			out = append(out, toConflictJSON(&conflicts[i]))
		}

		return printJSON(os.Stdout, out)
	}

	if len(conflicts) == 0 {
		cc.Statusf("No conflicts\n")
		return nil
	}

	printConflicts(os.Stdout, conflicts)

	return nil
}

func toConflictJSON(m *store.QueuedMutation) conflictJSON {
	return conflictJSON{
		ID:       m.ID,
		Type:     string(m.Type),
		Table:    m.Table,
		RecordID: m.RecordID,
		Fields:   differingFields(m.Data, m.OriginalData),
		Local:    m.Data,
		Server:   m.OriginalData,
		QueuedAt: m.CreatedAt,
	}
}

func printConflicts(w io.Writer, conflicts []store.QueuedMutation) {
	headers := []string{"ID", "TYPE", "TABLE", "RECORD", "FIELDS", "QUEUED"}
	rows := make([][]string, 0, len(conflicts))

	for i := range conflicts {
		m := &conflicts[i]
		rows = append(rows, []string{
			m.ID,
			string(m.Type),
			m.Table,
			m.RecordID,
			strings.Join(differingFields(m.Data, m.OriginalData), ","),
			formatMillis(m.CreatedAt),
		})
	}

	printTable(w, headers, rows)
}

// differingFields lists the local fields whose value differs from the server
// copy stored on the conflicted mutation, sorted.
func differingFields(local, server store.Record) []string {
	fields := []string{}

	for k, v := range local {
		if !store.EqualValues(v, server[k]) {
			fields = append(fields, k)
		}
	}

	slices.Sort(fields)

	return fields
}
