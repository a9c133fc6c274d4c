package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/emirbensusan/lotastro-sync/internal/metrics"
	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// Metric names emitted by the queue.
const (
	MetricQueued    = "sync.queued"
	MetricSuccess   = "sync.success"
	MetricFailed    = "sync.failed"
	MetricConflicts = "sync.conflicts"
	MetricParked    = "sync.parked"
	MetricPass      = "sync.pass"
	MetricExecute   = "sync.execute"
)

// QueueOptions configures a QueueManager.
type QueueOptions struct {
	Store        *store.Store
	Connectivity Connectivity
	Logger       *slog.Logger
	Metrics      metrics.Sink

	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int

	// RequireBaseline rejects UPDATE and DELETE mutations queued without
	// OriginalData, so every diverging write can be detected.
	RequireBaseline bool
}

// QueueManager owns the lifecycle of queued mutations:
//
//	pending → processing → [deleted]            on success
//	processing → pending | failed (attempts+1)  on failure without conflict
//	processing → conflict                       on three-way divergence
//	conflict → [deleted] | pending              on ResolveConflict
//	failed → pending                            on RetryMutation / RetryFailed
//
// Mutations are processed one at a time, oldest first.
type QueueManager struct {
	store           *store.Store
	conn            Connectivity
	logger          *slog.Logger
	metrics         metrics.Sink
	maxAttempts     int
	requireBaseline bool
	nowFunc         func() time.Time

	processing atomic.Bool
}

// NewQueueManager returns a queue manager over opts.Store.
func NewQueueManager(opts QueueOptions) *QueueManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Nop{}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &QueueManager{
		store:           opts.Store,
		conn:            opts.Connectivity,
		logger:          logger,
		metrics:         sink,
		maxAttempts:     maxAttempts,
		requireBaseline: opts.RequireBaseline,
		nowFunc:         time.Now,
	}
}

// IsProcessing reports whether a sync pass is running.
func (q *QueueManager) IsProcessing() bool {
	return q.processing.Load()
}

// QueueMutation validates and persists a new pending mutation and returns
// its id. CREATE without a record id gets a client-generated UUID.
func (q *QueueManager) QueueMutation(ctx context.Context, in MutationInput) (string, error) {
	m, err := q.newMutation(in)
	if err != nil {
		return "", err
	}

	if err := q.insert(ctx, m); err != nil {
		return "", err
	}

	return m.ID, nil
}

func (q *QueueManager) insert(ctx context.Context, m *store.QueuedMutation) error {
	if err := q.store.InsertMutation(ctx, m); err != nil {
		return fmt.Errorf("sync: queueing mutation: %w", err)
	}

	q.metrics.Count(MetricQueued, 1)
	q.logger.Info("mutation queued",
		slog.String("id", m.ID),
		slog.String("type", string(m.Type)),
		slog.String("table", m.Table),
		slog.String("record_id", m.RecordID),
	)

	return nil
}

func (q *QueueManager) newMutation(in MutationInput) (*store.QueuedMutation, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMutation, in.Type)
	}

	if in.Table == "" {
		return nil, fmt.Errorf("%w: table is required", ErrInvalidMutation)
	}

	recordID := in.RecordID
	data := in.Data.Clone()

	switch in.Type {
	case store.MutationCreate:
		if recordID == "" {
			recordID = uuid.NewString()
		}

		if data == nil {
			data = store.Record{}
		}

		if _, ok := data["id"]; !ok {
			data["id"] = recordID
		}
	case store.MutationUpdate, store.MutationDelete:
		if recordID == "" {
			return nil, fmt.Errorf("%w: %s requires a record id", ErrInvalidMutation, in.Type)
		}

		if q.requireBaseline && in.OriginalData == nil {
			return nil, fmt.Errorf("%w: %s %s/%s", ErrBaselineRequired, in.Type, in.Table, recordID)
		}
	}

	now := q.nowFunc()

	return &store.QueuedMutation{
		ID:           fmt.Sprintf("%s_%s_%d", in.Table, recordID, now.UnixMilli()),
		Type:         in.Type,
		Table:        in.Table,
		RecordID:     recordID,
		Data:         data,
		OriginalData: in.OriginalData.Clone(),
		CreatedAt:    now.UnixMilli(),
		Status:       store.StatusPending,
	}, nil
}

// GetPendingMutations returns pending and failed mutations, oldest first.
func (q *QueueManager) GetPendingMutations(ctx context.Context) ([]store.QueuedMutation, error) {
	return q.store.ListMutations(ctx, store.StatusPending, store.StatusFailed)
}

// GetConflicts returns mutations awaiting conflict resolution.
func (q *QueueManager) GetConflicts(ctx context.Context) ([]store.QueuedMutation, error) {
	return q.store.ListMutations(ctx, store.StatusConflict)
}

// GetMutation returns one mutation by id.
func (q *QueueManager) GetMutation(ctx context.Context, id string) (*store.QueuedMutation, error) {
	return q.store.GetMutation(ctx, id)
}

// ListAll returns every queued mutation, oldest first.
func (q *QueueManager) ListAll(ctx context.Context) ([]store.QueuedMutation, error) {
	return q.store.ListMutations(ctx)
}

// ProcessSyncQueue replays the pending snapshot through exec, oldest first.
// Offline it is a no-op returning zero counts. Parked failed mutations are
// not retried. Cancellation stops the pass before the next mutation; the one
// in flight is always settled so nothing is left processing.
func (q *QueueManager) ProcessSyncQueue(ctx context.Context, exec Executor) (SyncResult, error) {
	if q.conn != nil && !q.conn.IsOnline() {
		q.logger.Debug("sync pass skipped: offline")
		return SyncResult{}, nil
	}

	if !q.processing.CompareAndSwap(false, true) {
		return SyncResult{}, ErrAlreadyProcessing
	}
	defer q.processing.Store(false)

	defer metrics.Time(q.metrics, MetricPass)()

	snapshot, err := q.store.ListMutations(ctx, store.StatusPending)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync: loading pending mutations: %w", err)
	}

	q.logger.Info("sync pass starting", slog.Int("pending", len(snapshot)))

	var (
		result SyncResult
		errs   []error
	)

	for i := range snapshot {
		if ctx.Err() != nil {
			q.logger.Info("sync pass interrupted",
				slog.Int("remaining", len(snapshot)-i),
			)

			break
		}

		if err := q.processOne(ctx, exec, &snapshot[i], &result); err != nil {
			errs = append(errs, err)
		}
	}

	q.metrics.Count(MetricSuccess, int64(result.Success))
	q.metrics.Count(MetricFailed, int64(result.Failed))
	q.metrics.Count(MetricConflicts, int64(result.Conflicts))

	q.logger.Info("sync pass complete",
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
		slog.Int("conflicts", result.Conflicts),
	)

	return result, errors.Join(errs...)
}

// processOne claims, executes and settles one mutation. Store errors are
// returned; executor outcomes only change counts.
func (q *QueueManager) processOne(ctx context.Context, exec Executor, m *store.QueuedMutation, result *SyncResult) error {
	m.Status = store.StatusProcessing
	if err := q.store.UpdateMutation(ctx, m, store.StatusPending); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Removed or resolved since the snapshot was taken.
			q.logger.Debug("mutation no longer pending, skipping", slog.String("id", m.ID))
			return nil
		}

		return fmt.Errorf("sync: claiming %s: %w", m.ID, err)
	}

	claimed := *m
	claimed.Data = m.Data.Clone()
	claimed.OriginalData = m.OriginalData.Clone()

	stop := metrics.Time(q.metrics, MetricExecute)
	res, execErr := exec.Execute(ctx, m)
	stop()

	// Settle even if ctx was canceled during the remote call.
	settleCtx := context.WithoutCancel(ctx)

	if execErr == nil && res.Success {
		err := q.settle(settleCtx, &claimed, "removing synced", func(ctx context.Context) error {
			_, err := q.store.DeleteMutation(ctx, m.ID)
			return err
		})
		if err != nil {
			return err
		}

		result.Success++
		q.logger.Debug("mutation synced", slog.String("id", m.ID))

		return nil
	}

	m.LastError = failureMessage(execErr)

	if fields := ConflictFields(m.OriginalData, m.Data, res.ServerData); len(fields) > 0 {
		m.Status = store.StatusConflict
		m.OriginalData = res.ServerData

		err := q.settle(settleCtx, &claimed, "marking conflicted", func(ctx context.Context) error {
			return q.store.UpdateMutation(ctx, m, store.StatusProcessing)
		})
		if err != nil {
			return err
		}

		result.Conflicts++
		q.logger.Warn("mutation conflicts with server state",
			slog.String("id", m.ID),
			slog.String("table", m.Table),
			slog.String("record_id", m.RecordID),
			slog.Any("fields", fields),
		)

		return nil
	}

	m.Attempts++
	m.Status = store.StatusPending

	if m.Attempts >= q.maxAttempts {
		m.Status = store.StatusFailed
	}

	err := q.settle(settleCtx, &claimed, "recording failure of", func(ctx context.Context) error {
		return q.store.UpdateMutation(ctx, m, store.StatusProcessing)
	})
	if err != nil {
		return err
	}

	result.Failed++

	if m.Status == store.StatusFailed {
		q.metrics.Count(MetricParked, 1)
		q.logger.Warn("mutation parked after repeated failures",
			slog.String("id", m.ID),
			slog.Int("attempts", m.Attempts),
			slog.String("error", m.LastError),
		)
	} else {
		q.logger.Info("mutation failed, will retry",
			slog.String("id", m.ID),
			slog.Int("attempts", m.Attempts),
			slog.String("error", m.LastError),
		)
	}

	return nil
}

// settle records the outcome of an executed mutation, trying twice. When
// both attempts fail the claim is released: the row returns to pending as it
// was before the pass, so no mutation is left in processing.
func (q *QueueManager) settle(ctx context.Context, claimed *store.QueuedMutation, action string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrInvalidTransition) {
		// Removed while the remote call was in flight.
		return fmt.Errorf("sync: %s %s: %w", action, claimed.ID, err)
	}

	q.logger.Warn("settling mutation failed, retrying",
		slog.String("id", claimed.ID),
		slog.String("error", err.Error()),
	)

	if err = fn(ctx); err == nil {
		return nil
	}

	claimed.Status = store.StatusPending
	claimed.LastError = "settling failed: " + err.Error()

	if relErr := q.store.UpdateMutation(ctx, claimed, store.StatusProcessing); relErr != nil {
		q.logger.Error("mutation left processing, reclaimed at next startup",
			slog.String("id", claimed.ID),
			slog.String("error", relErr.Error()),
		)

		return errors.Join(fmt.Errorf("sync: %s %s: %w", action, claimed.ID, err), relErr)
	}

	q.logger.Warn("mutation returned to pending after settle failure",
		slog.String("id", claimed.ID),
	)

	return fmt.Errorf("sync: %s %s: %w", action, claimed.ID, err)
}

func failureMessage(err error) string {
	if err == nil {
		return "remote rejected mutation"
	}

	return err.Error()
}

// RemoveMutation deletes a mutation. It reports whether one was removed.
func (q *QueueManager) RemoveMutation(ctx context.Context, id string) (bool, error) {
	removed, err := q.store.DeleteMutation(ctx, id)
	if err != nil {
		return false, err
	}

	if removed {
		q.logger.Info("mutation removed", slog.String("id", id))
	}

	return removed, nil
}

// ClearQueue deletes every mutation in every status.
func (q *QueueManager) ClearQueue(ctx context.Context) (int64, error) {
	n, err := q.store.ClearQueue(ctx)
	if err != nil {
		return 0, err
	}

	q.logger.Info("queue cleared", slog.Int64("removed", n))

	return n, nil
}

// ResolveConflict applies the user's decision to a conflicted mutation.
// Resolving an id that no longer exists with ResolveServer is a no-op.
func (q *QueueManager) ResolveConflict(ctx context.Context, id string, resolution Resolution, merged store.Record) error {
	m, err := q.store.GetMutation(ctx, id)
	if errors.Is(err, store.ErrNotFound) && resolution == ResolveServer {
		return nil
	}

	if err != nil {
		return fmt.Errorf("sync: resolving %s: %w", id, err)
	}

	if m.Status != store.StatusConflict {
		return fmt.Errorf("%w: %s is %s", ErrNotConflict, id, m.Status)
	}

	switch resolution {
	case ResolveServer:
		if _, err := q.store.DeleteMutation(ctx, id); err != nil {
			return fmt.Errorf("sync: resolving %s: %w", id, err)
		}
	case ResolveLocal, ResolveMerge:
		if resolution == ResolveMerge {
			if merged == nil {
				return fmt.Errorf("%w: merge resolution requires merged data", ErrInvalidMutation)
			}

			m.Data = merged.Clone()
		}

		m.Status = store.StatusPending
		m.Attempts = 0
		m.LastError = ""

		if err := q.store.UpdateMutation(ctx, m, store.StatusConflict); err != nil {
			return fmt.Errorf("sync: resolving %s: %w", id, err)
		}
	default:
		return fmt.Errorf("sync: unknown resolution %q", resolution)
	}

	q.logger.Info("conflict resolved",
		slog.String("id", id),
		slog.String("resolution", string(resolution)),
	)

	return nil
}

// RetryMutation moves a parked failed mutation back to pending with its
// attempt counter reset.
func (q *QueueManager) RetryMutation(ctx context.Context, id string) error {
	m, err := q.store.GetMutation(ctx, id)
	if err != nil {
		return fmt.Errorf("sync: retrying %s: %w", id, err)
	}

	if m.Status != store.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, m.Status)
	}

	m.Status = store.StatusPending
	m.Attempts = 0
	m.LastError = ""

	if err := q.store.UpdateMutation(ctx, m, store.StatusFailed); err != nil {
		return fmt.Errorf("sync: retrying %s: %w", id, err)
	}

	q.logger.Info("mutation requeued", slog.String("id", id))

	return nil
}

// RetryFailed requeues every parked failed mutation.
func (q *QueueManager) RetryFailed(ctx context.Context) (int, error) {
	n, err := q.store.ResetMutations(ctx, store.StatusFailed, true)
	if err != nil {
		return 0, fmt.Errorf("sync: requeueing failed mutations: %w", err)
	}

	q.logger.Info("failed mutations requeued", slog.Int("count", n))

	return n, nil
}

// ReclaimProcessing returns mutations left in processing by a crash to
// pending. Call once at startup before the first pass.
func (q *QueueManager) ReclaimProcessing(ctx context.Context) (int, error) {
	if q.IsProcessing() {
		return 0, ErrAlreadyProcessing
	}

	n, err := q.store.ResetMutations(ctx, store.StatusProcessing, false)
	if err != nil {
		return 0, fmt.Errorf("sync: reclaiming processing mutations: %w", err)
	}

	if n > 0 {
		q.logger.Warn("reclaimed mutations interrupted mid-sync", slog.Int("count", n))
	}

	return n, nil
}

// Stats returns queue depth per status.
func (q *QueueManager) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := q.store.CountMutations(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	return QueueStats{
		Pending:    counts[store.StatusPending],
		Processing: counts[store.StatusProcessing],
		Failed:     counts[store.StatusFailed],
		Conflict:   counts[store.StatusConflict],
	}, nil
}
