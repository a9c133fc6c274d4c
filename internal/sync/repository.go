package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// Repository performs remote CRUD for one table. Write methods return the
// record as stored by the remote. A write rejected because the remote record
// changed must return an error wrapping ErrStale; a missing record must wrap
// ErrRecordNotFound.
type Repository interface {
	Create(ctx context.Context, id string, data store.Record) (store.Record, error)
	Update(ctx context.Context, id string, data store.Record) (store.Record, error)
	Delete(ctx context.Context, id string) error
	FetchByID(ctx context.Context, id string) (store.Record, error)
}

// RepositoryExecutor is the default Executor: it dispatches each mutation to
// the Repository registered for its table.
type RepositoryExecutor struct {
	logger *slog.Logger

	mu    stdsync.RWMutex
	repos map[string]Repository
}

// NewRepositoryExecutor returns an executor with the given table bindings.
func NewRepositoryExecutor(repos map[string]Repository, logger *slog.Logger) *RepositoryExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &RepositoryExecutor{
		logger: logger,
		repos:  make(map[string]Repository, len(repos)),
	}

	for table, repo := range repos {
		e.repos[table] = repo
	}

	return e
}

// Register binds table to repo, replacing any previous binding.
func (e *RepositoryExecutor) Register(table string, repo Repository) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.repos[table] = repo
}

// Repository returns the binding for table.
func (e *RepositoryExecutor) Repository(table string) (Repository, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	repo, ok := e.repos[table]

	return repo, ok
}

// Execute implements Executor. On a stale rejection it fetches the current
// server record so the queue can run conflict detection. Deleting a record
// the remote no longer has counts as success.
func (e *RepositoryExecutor) Execute(ctx context.Context, m *store.QueuedMutation) (ExecResult, error) {
	repo, ok := e.Repository(m.Table)
	if !ok {
		return ExecResult{}, fmt.Errorf("%w: %q", ErrUnknownTable, m.Table)
	}

	var (
		server store.Record
		err    error
	)

	switch m.Type {
	case store.MutationCreate:
		server, err = repo.Create(ctx, m.RecordID, m.Data)
	case store.MutationUpdate:
		server, err = repo.Update(ctx, m.RecordID, m.Data)
	case store.MutationDelete:
		err = repo.Delete(ctx, m.RecordID)
		if errors.Is(err, ErrRecordNotFound) {
			e.logger.Debug("delete of missing remote record treated as success",
				slog.String("table", m.Table),
				slog.String("record_id", m.RecordID),
			)

			return ExecResult{Success: true}, nil
		}
	default:
		return ExecResult{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMutation, m.Type)
	}

	if err == nil {
		return ExecResult{Success: true, ServerData: server}, nil
	}

	if !errors.Is(err, ErrStale) {
		return ExecResult{}, err
	}

	current, fetchErr := repo.FetchByID(ctx, m.RecordID)
	if fetchErr != nil {
		e.logger.Warn("fetching server record after stale rejection failed",
			slog.String("table", m.Table),
			slog.String("record_id", m.RecordID),
			slog.String("error", fetchErr.Error()),
		)

		return ExecResult{}, err
	}

	return ExecResult{ServerData: current}, err
}
