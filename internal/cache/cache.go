// Package cache is the read path: queries are answered from the local store
// at once and refreshed from the remote in the background when online and
// stale. A read never waits on the network.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emirbensusan/lotastro-sync/internal/metrics"
	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// DefaultStaleTime is how long a refreshed collection counts as fresh.
const DefaultStaleTime = 5 * time.Minute

// Metric names.
const (
	MetricFetch      = "cache.fetch"
	MetricFetchError = "cache.fetch_error"
	MetricRead       = "cache.read"
)

// FetchFunc loads the full remote contents of a query.
type FetchFunc func(ctx context.Context) ([]store.Record, error)

// Connectivity reports whether remote fetches may be attempted.
type Connectivity interface {
	IsOnline() bool
}

// Query describes one cached collection and how to refresh it.
type Query struct {
	// Key names the query; synthetic record ids are "<Key>_<index>".
	Key        string
	Collection string
	Fetch      FetchFunc
	// StaleTime defaults to DefaultStaleTime.
	StaleTime time.Duration
}

// Snapshot is what a read returns.
type Snapshot struct {
	Data         []store.Record
	IsStale      bool
	IsFetching   bool
	Error        error
	LastSyncedAt time.Time // zero when never refreshed
}

// Cache owns query handles and their background refreshes.
type Cache struct {
	store   *store.Store
	conn    Connectivity
	logger  *slog.Logger
	metrics metrics.Sink
	nowFunc func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queries map[string]*Handle
}

// New returns a cache over st. Close stops in-flight refreshes.
func New(st *store.Store, conn Connectivity, logger *slog.Logger, sink metrics.Sink) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if sink == nil {
		sink = metrics.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		store:   st,
		conn:    conn,
		logger:  logger,
		metrics: sink,
		nowFunc: time.Now,
		ctx:     ctx,
		cancel:  cancel,
		queries: make(map[string]*Handle),
	}
}

// Close cancels background refreshes and waits for them to exit.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

// Query registers q, or returns the existing handle for q.Key.
func (c *Cache) Query(q Query) (*Handle, error) {
	if q.Key == "" || q.Collection == "" {
		return nil, fmt.Errorf("cache: query needs a key and a collection")
	}

	if q.Fetch == nil {
		return nil, fmt.Errorf("cache: query %q has no fetch function", q.Key)
	}

	if q.StaleTime <= 0 {
		q.StaleTime = DefaultStaleTime
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.queries[q.Key]; ok {
		return h, nil
	}

	h := &Handle{cache: c, query: q}
	c.queries[q.Key] = h

	return h, nil
}

// Handles returns every registered query handle.
func (c *Cache) Handles() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Handle, 0, len(c.queries))
	for _, h := range c.queries {
		out = append(out, h)
	}

	return out
}

// Handle is the per-query state: whether this session fetched, the
// in-flight refresh, and the last fetch error.
type Handle struct {
	cache *Cache
	query Query

	mu        sync.Mutex
	attempted bool // a fetch was started this session
	completed bool // a fetch finished this session
	inflight  chan struct{}
	lastErr   error
}

// Key returns the query key.
func (h *Handle) Key() string {
	return h.query.Key
}

// Collection returns the backing collection.
func (h *Handle) Collection() string {
	return h.query.Collection
}

// Read serves the cached collection and, when online and warranted, starts
// a background refresh. Offline the result is always marked stale.
func (h *Handle) Read(ctx context.Context) Snapshot {
	h.cache.metrics.Count(MetricRead, 1)

	snap := h.load(ctx)
	online := h.cache.conn.IsOnline()

	if !online {
		snap.IsStale = true
		return snap
	}

	h.mu.Lock()
	shouldFetch := h.inflight == nil &&
		(!h.attempted || (snap.IsStale && h.completed))
	if shouldFetch {
		h.startLocked()
	}

	snap.IsFetching = h.inflight != nil
	h.mu.Unlock()

	return snap
}

// Refetch forces a refresh when online and waits for it. Offline it
// reloads from the cache without touching cached records.
func (h *Handle) Refetch(ctx context.Context) Snapshot {
	if !h.cache.conn.IsOnline() {
		snap := h.load(ctx)
		snap.IsStale = true

		return snap
	}

	h.mu.Lock()
	if h.inflight == nil {
		h.startLocked()
	}
	done := h.inflight
	h.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		snap := h.load(ctx)
		snap.IsFetching = true

		return snap
	}

	return h.load(ctx)
}

// Wait blocks until no refresh is in flight or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	h.mu.Lock()
	done := h.inflight
	h.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLocked launches the background refresh. Caller holds h.mu.
func (h *Handle) startLocked() {
	done := make(chan struct{})
	h.inflight = done
	h.attempted = true

	h.cache.wg.Add(1)

	go func() {
		defer h.cache.wg.Done()

		err := h.refresh(h.cache.ctx)

		h.mu.Lock()
		h.lastErr = err
		h.completed = true
		h.inflight = nil
		h.mu.Unlock()

		close(done)
	}()
}

func (h *Handle) refresh(ctx context.Context) error {
	defer metrics.Time(h.cache.metrics, MetricFetch)()

	recs, err := h.query.Fetch(ctx)
	if err != nil {
		h.cache.metrics.Count(MetricFetchError, 1)
		h.cache.logger.Warn("cache refresh failed, serving cached data",
			slog.String("query", h.query.Key),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("cache: fetching %s: %w", h.query.Key, err)
	}

	keyPath, err := h.cache.store.KeyPath(h.query.Collection)
	if err != nil {
		return fmt.Errorf("cache: storing %s: %w", h.query.Key, err)
	}

	normalized := normalize(h.query.Key, keyPath, recs)

	if err := h.cache.store.ReplaceAll(ctx, h.query.Collection, normalized); err != nil {
		h.cache.metrics.Count(MetricFetchError, 1)
		h.cache.logger.Warn("cache write failed",
			slog.String("query", h.query.Key),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("cache: storing %s: %w", h.query.Key, err)
	}

	h.cache.logger.Debug("cache refreshed",
		slog.String("query", h.query.Key),
		slog.Int("records", len(normalized)),
	)

	return nil
}

// load reads cached records and freshness from the store. Store errors end
// up in Snapshot.Error with no data.
func (h *Handle) load(ctx context.Context) Snapshot {
	h.mu.Lock()
	snap := Snapshot{Error: h.lastErr}
	h.mu.Unlock()

	data, err := h.cache.store.GetAll(ctx, h.query.Collection)
	if err != nil {
		snap.Error = err
		snap.IsStale = true

		return snap
	}

	snap.Data = data

	ms, ok, err := h.cache.store.GetLastSyncTime(ctx, h.query.Collection)
	if err != nil {
		snap.Error = err
	}

	if !ok {
		snap.IsStale = true
		return snap
	}

	snap.LastSyncedAt = time.UnixMilli(ms)
	snap.IsStale = h.cache.nowFunc().Sub(snap.LastSyncedAt) > h.query.StaleTime

	return snap
}

// normalize assigns "<key>_<index>" ids at keyPath to records without one.
// Input records are not modified.
func normalize(key, keyPath string, recs []store.Record) []store.Record {
	out := make([]store.Record, len(recs))

	for i, r := range recs {
		if id, ok := r.Get(keyPath); ok && id != "" {
			out[i] = r
			continue
		}

		cp := r.Clone()
		if cp == nil {
			cp = store.Record{}
		}

		cp.Set(keyPath, fmt.Sprintf("%s_%d", key, i))
		out[i] = cp
	}

	return out
}
