package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/emirbensusan/lotastro-sync/internal/cache"
	"github.com/emirbensusan/lotastro-sync/internal/config"
	"github.com/emirbensusan/lotastro-sync/internal/metrics"
	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/remote"
	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

// errNoRemote is returned by commands that need the REST backend when none
// is configured.
var errNoRemote = errors.New("no remote configured (set remote.base_url or --remote)")

// probingSource is a connectivity source that can also answer a one-shot
// probe, so short-lived commands see the current status without watching.
type probingSource interface {
	netstatus.Source
	netstatus.Prober
}

// engine is the wired set of components shared by all commands.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	source   probingSource
	monitor  *netstatus.Monitor
	recorder *metrics.Recorder
	sink     metrics.Sink
	queue    *sync.QueueManager

	// client is nil when no remote is configured.
	client *remote.Client
	repos  map[string]*remote.TableRepository
	exec   *sync.RepositoryExecutor
	writer *sync.Writer
	cache  *cache.Cache
}

// openEngine opens the store and wires every component around it. The
// monitor is seeded from a single probe; call monitor.Run to keep it fresh.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	st, err := store.Open(ctx, store.Options{
		Path:   cfg.Store.Path,
		Schema: cfg.Store.Schema(),
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		source:   networkSource(&cfg.Network, logger),
		recorder: metrics.NewRecorder(),
	}
	e.sink = metrics.Multi{e.recorder, metrics.LogSink{Logger: logger}}

	initial, err := e.source.Probe(ctx)
	if err != nil {
		logger.Warn("connectivity probe failed, assuming offline", slog.String("error", err.Error()))
		initial = netstatus.Status{}
	}

	e.monitor = netstatus.NewMonitor(initial, cfg.Network.Thresholds(), logger)

	e.queue = sync.NewQueueManager(sync.QueueOptions{
		Store:           st,
		Connectivity:    e.monitor,
		Logger:          logger,
		Metrics:         e.sink,
		MaxAttempts:     cfg.Sync.MaxAttempts,
		RequireBaseline: cfg.Sync.RequireBaseline,
	})

	if err := e.wireRemote(ctx); err != nil {
		st.Close()
		return nil, err
	}

	e.writer = sync.NewWriter(e.queue, e.exec, st, e.monitor, logger)
	e.cache = cache.New(st, e.monitor, logger, e.sink)

	return e, nil
}

// wireRemote builds the REST client and one repository per table. Without a
// base URL the executor has no repositories and remote commands fail with
// errNoRemote.
func (e *engine) wireRemote(ctx context.Context) error {
	if e.cfg.Remote.BaseURL == "" {
		e.exec = sync.NewRepositoryExecutor(nil, e.logger)
		return nil
	}

	tokens, err := remote.NewTokenSource(ctx, e.cfg.Remote.Credentials(), e.logger)
	if err != nil {
		return fmt.Errorf("configuring remote credentials: %w", err)
	}

	httpClient := &http.Client{Timeout: e.cfg.Remote.TimeoutDuration()}

	e.client = remote.NewClient(e.cfg.Remote.BaseURL, httpClient, tokens, e.logger)
	e.client.SetMaxRetries(e.cfg.Remote.MaxRetries)

	e.repos = remote.Repositories(e.client, e.tables(), e.cfg.Remote.Tables)

	e.exec = sync.NewRepositoryExecutor(nil, e.logger)
	for table, repo := range e.repos {
		e.exec.Register(table, repo)
	}

	return nil
}

// tables is every table with a local collection or an explicit remote path.
func (e *engine) tables() []string {
	seen := make(map[string]bool)

	var out []string

	for _, t := range e.cfg.Store.Tables() {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	for t := range e.cfg.Remote.Tables {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	sort.Strings(out)

	return out
}

func (e *engine) requireRemote() error {
	if e.client == nil {
		return errNoRemote
	}

	return nil
}

// cacheQuery registers the cached query for table, backed by the remote
// list endpoint.
func (e *engine) cacheQuery(table string) (*cache.Handle, error) {
	if err := e.requireRemote(); err != nil {
		return nil, err
	}

	repo, ok := e.repos[table]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", table, sync.ErrUnknownTable)
	}

	return e.cache.Query(cache.Query{
		Key:        table,
		Collection: table,
		Fetch:      repo.List,
		StaleTime:  e.cfg.Cache.StaleDuration(),
	})
}

// Close stops background refreshes and closes the store.
func (e *engine) Close() error {
	e.cache.Close()
	return e.store.Close()
}

// networkSource picks the connectivity source named in the config.
func networkSource(cfg *config.NetworkConfig, logger *slog.Logger) probingSource {
	switch cfg.Source {
	case config.SourceFile:
		return &netstatus.FileSource{Path: cfg.StatusFile, Logger: logger}
	case config.SourceStatic:
		return netstatus.StaticSource{Status: netstatus.Status{
			Online:         cfg.StaticOnline,
			ConnectionType: netstatus.ConnUnknown,
		}}
	default:
		return &netstatus.InterfaceSource{Interval: cfg.PollDuration()}
	}
}
