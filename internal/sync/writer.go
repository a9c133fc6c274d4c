package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// ConflictError is returned by Writer.Write when an online write was
// rejected and the server record diverged from the caller's baseline.
// Nothing is queued; the caller decides how to proceed.
type ConflictError struct {
	Table      string
	RecordID   string
	Fields     []string
	ServerData store.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync: %s/%s conflicts with server on %s",
		e.Table, e.RecordID, strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is(err, ErrStale) match.
func (e *ConflictError) Unwrap() error {
	return ErrStale
}

// WriteResult describes how a write was handled.
type WriteResult struct {
	// Queued is true when the write was saved offline for a later pass.
	Queued     bool
	MutationID string
	ServerData store.Record
}

// Writer is the write path: online writes execute immediately, offline or
// failed writes are queued. Either way the local store gets an optimistic
// copy of the change.
type Writer struct {
	queue  *QueueManager
	exec   Executor
	store  *store.Store
	conn   Connectivity
	logger *slog.Logger
}

// NewWriter returns a Writer. st may be nil to skip optimistic local writes.
func NewWriter(queue *QueueManager, exec Executor, st *store.Store, conn Connectivity, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Writer{queue: queue, exec: exec, store: st, conn: conn, logger: logger}
}

// Write submits one mutation.
func (w *Writer) Write(ctx context.Context, in MutationInput) (WriteResult, error) {
	m, err := w.queue.newMutation(in)
	if err != nil {
		return WriteResult{}, err
	}

	if w.conn.IsOnline() {
		res, execErr := w.exec.Execute(ctx, m)
		if execErr == nil && res.Success {
			w.applyLocal(ctx, m, res.ServerData)

			return WriteResult{ServerData: res.ServerData}, nil
		}

		if fields := ConflictFields(m.OriginalData, m.Data, res.ServerData); len(fields) > 0 {
			return WriteResult{}, &ConflictError{
				Table:      m.Table,
				RecordID:   m.RecordID,
				Fields:     fields,
				ServerData: res.ServerData,
			}
		}

		w.logger.Info("immediate write failed, queueing",
			slog.String("table", m.Table),
			slog.String("record_id", m.RecordID),
			slog.String("error", failureMessage(execErr)),
		)
	}

	if err := w.queue.insert(ctx, m); err != nil {
		return WriteResult{}, err
	}

	w.applyLocal(ctx, m, nil)
	w.logger.Info("saved offline", slog.String("id", m.ID))

	return WriteResult{Queued: true, MutationID: m.ID}, nil
}

// applyLocal mirrors the change into the local store. Failures are logged
// and never fail the write.
func (w *Writer) applyLocal(ctx context.Context, m *store.QueuedMutation, server store.Record) {
	if w.store == nil {
		return
	}

	keyPath, err := w.store.KeyPath(m.Table)
	if err == nil {
		key := localKey(m, server, keyPath)

		switch m.Type {
		case store.MutationDelete:
			err = w.store.DeleteByID(ctx, m.Table, key)
		default:
			merged := store.Record{}

			existing, getErr := w.store.GetByID(ctx, m.Table, key)
			if getErr == nil {
				merged = existing
			}

			maps.Copy(merged, m.Data)
			maps.Copy(merged, server)

			if _, ok := merged.Get(keyPath); !ok {
				merged.Set(keyPath, key)
			}

			err = w.store.Put(ctx, m.Table, merged)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, store.ErrUnknownCollection), errors.Is(err, store.ErrNotReady):
		w.logger.Debug("optimistic local write skipped",
			slog.String("table", m.Table),
			slog.String("reason", err.Error()),
		)
	default:
		w.logger.Warn("optimistic local write failed",
			slog.String("table", m.Table),
			slog.String("record_id", m.RecordID),
			slog.String("error", err.Error()),
		)
	}
}

// localKey finds the stored primary key for m. Record bodies keep the key's
// JSON type (a numeric id stays numeric); the mutation's RecordID is text.
func localKey(m *store.QueuedMutation, server store.Record, keyPath string) any {
	for _, r := range []store.Record{server, m.Data, m.OriginalData} {
		if v, ok := r.Get(keyPath); ok {
			return v
		}
	}

	return m.RecordID
}
