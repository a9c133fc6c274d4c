// Package store is the local persistent store: named collections of JSON
// records with secondary indexes, the durable mutation queue, and per-
// collection sync metadata, all in a single SQLite database.
//
// A Store is usable before it is ready. Until Init succeeds every data
// operation returns ErrNotReady, so callers can degrade instead of crash.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Options configures a Store.
type Options struct {
	// Path is the database file. Parent directories are created on Init.
	Path   string
	Schema Schema
	Logger *slog.Logger
}

// Store is the sole writer to the local database (SetMaxOpenConns(1)).
type Store struct {
	path    string
	schema  Schema
	logger  *slog.Logger
	nowFunc func() time.Time

	mu      sync.RWMutex
	db      *sql.DB
	catalog map[string]*collection

	ready atomic.Bool
}

// New returns an unopened store. Call Init before use.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		path:    opts.Path,
		schema:  opts.Schema,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Open is New followed by Init. The returned store is never nil: when err is
// non-nil the store stays not-ready and its operations return ErrNotReady.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := New(opts)

	return s, s.Init(ctx)
}

// Init opens the database, applies migrations and the declared schema, and
// marks the store ready. Calling Init on a ready store is a no-op.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Load() {
		return nil
	}

	if err := s.schema.validate(); err != nil {
		s.logger.Error("store init failed", slog.String("error", err.Error()))
		return err
	}

	db, err := s.openDB(ctx)
	if err != nil {
		s.logger.Error("store init failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return err
	}

	catalog, err := applySchema(ctx, db, s.schema, s.logger)
	if err != nil {
		db.Close()
		s.logger.Error("store schema upgrade failed",
			slog.Int("version", s.schema.Version),
			slog.String("error", err.Error()),
		)

		return err
	}

	s.db = db
	s.catalog = catalog
	s.ready.Store(true)

	s.logger.Info("store initialized",
		slog.String("path", s.path),
		slog.Int("schema_version", s.schema.Version),
		slog.Int("collections", len(catalog)),
	)

	return nil
}

func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	if s.path == "" {
		return nil, fmt.Errorf("store: empty database path")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating data directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		s.path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", s.path, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: opening database %s: %w", s.path, err)
	}

	if err := runMigrations(ctx, db, s.logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Ready reports whether Init has completed successfully.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the declared schema version.
func (s *Store) SchemaVersion() int {
	return s.schema.Version
}

// Close releases the database. The store is not ready afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// handle returns the open database, or ErrNotReady.
func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready.Load() || s.db == nil {
		return nil, ErrNotReady
	}

	return s.db, nil
}

// lookup resolves a user collection by name.
func (s *Store) lookup(name string) (*sql.DB, *collection, error) {
	if isReserved(name) {
		return nil, nil, fmt.Errorf("%w: %q", ErrReservedCollection, name)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready.Load() || s.db == nil {
		return nil, nil, ErrNotReady
	}

	c, ok := s.catalog[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}

	return s.db, c, nil
}

// Collections lists the names of all known collections in sorted order.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.catalog))
	for name := range s.catalog {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// KeyPath returns the primary key path of a user collection.
func (s *Store) KeyPath(coll string) (string, error) {
	_, c, err := s.lookup(coll)
	if err != nil {
		return "", err
	}

	return c.keyPath, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}

	return nil
}
