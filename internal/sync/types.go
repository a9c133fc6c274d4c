package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// Sentinel errors.
var (
	ErrOffline           = errors.New("sync: offline")
	ErrAlreadyProcessing = errors.New("sync: a sync pass is already running")
	ErrUnknownTable      = errors.New("sync: no repository registered for table")
	ErrBaselineRequired  = errors.New("sync: update and delete require original data")
	ErrInvalidMutation   = errors.New("sync: invalid mutation")
	ErrNotConflict       = errors.New("sync: mutation is not in conflict")
	ErrNotFailed         = errors.New("sync: mutation is not failed")

	// ErrStale is returned by a Repository when the remote rejected a write
	// because the record changed since the caller last saw it.
	ErrStale = errors.New("sync: remote rejected stale write")

	// ErrRecordNotFound is returned by a Repository when the remote record
	// does not exist.
	ErrRecordNotFound = errors.New("sync: remote record not found")
)

// DefaultMaxAttempts is the number of consecutive failures after which a
// mutation is parked as failed.
const DefaultMaxAttempts = 3

// SyncResult counts the outcomes of one sync pass.
type SyncResult struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Total is the number of mutations the pass touched.
func (r SyncResult) Total() int {
	return r.Success + r.Failed + r.Conflicts
}

// ExecResult is what an Executor reports for one mutation. On a stale-state
// rejection ServerData carries the current remote record.
type ExecResult struct {
	Success    bool
	ServerData store.Record
}

// Executor replays one queued mutation against the remote backend. A
// returned error counts as a failure; ServerData is still honored.
type Executor interface {
	Execute(ctx context.Context, m *store.QueuedMutation) (ExecResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, m *store.QueuedMutation) (ExecResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, m *store.QueuedMutation) (ExecResult, error) {
	return f(ctx, m)
}

// Connectivity is the slice of the network monitor the engine reads.
type Connectivity interface {
	IsOnline() bool
}

// Resolution is the user's decision for a conflicted mutation.
type Resolution string

// Resolutions.
const (
	// ResolveServer discards the local change.
	ResolveServer Resolution = "server"
	// ResolveLocal re-queues the local change unchanged.
	ResolveLocal Resolution = "local"
	// ResolveMerge re-queues caller-supplied merged data.
	ResolveMerge Resolution = "merge"
)

// ParseResolution validates a resolution string.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolveServer, ResolveLocal, ResolveMerge:
		return r, nil
	}

	return "", fmt.Errorf("sync: unknown resolution %q (want server, local or merge)", s)
}

// MutationInput is a mutation as submitted by a caller, before the queue
// assigns id, timestamp and status.
type MutationInput struct {
	Type         store.MutationType `json:"type"`
	Table        string             `json:"table"`
	RecordID     string             `json:"recordId,omitempty"`
	Data         store.Record       `json:"data,omitempty"`
	OriginalData store.Record       `json:"originalData,omitempty"`
}

// QueueStats is the queue depth per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Conflict   int `json:"conflict"`
}

// Total is the number of queued mutations.
func (s QueueStats) Total() int {
	return s.Pending + s.Processing + s.Failed + s.Conflict
}
