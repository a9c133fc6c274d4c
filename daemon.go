package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emirbensusan/lotastro-sync/internal/api"
	"github.com/emirbensusan/lotastro-sync/internal/notify"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync engine",
		Long: `Run the connectivity monitor, the sync scheduler and the local control API
until interrupted.

Mutations left "processing" by a previous crash are returned to the queue at
startup. A pass runs on every interval tick, on every offline to online
transition, and when the daemon receives SIGHUP (see 'lotasync sync').`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	cleanup, err := writePIDFile(pidFilePath(cfg.Store.Path))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.requireRemote(); err != nil {
		return err
	}

	reclaimed, err := eng.queue.ReclaimProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reclaiming interrupted mutations: %w", err)
	}

	if reclaimed > 0 {
		logger.Info("re-queued mutations interrupted by a previous run", slog.Int("count", reclaimed))
	}

	hub := notify.NewHub(logger, cfg.API.AllowedOrigins...)

	sched := sync.NewScheduler(sync.SchedulerOptions{
		Queue:    eng.queue,
		Network:  eng.monitor,
		Executor: eng.exec,
		Notifier: sync.MultiNotifier{sync.LogNotifier{Logger: logger}, hub},
		Interval: cfg.Sync.IntervalDuration(),
		Logger:   logger,
	})
	sched.SetEnabled(cfg.Sync.Enabled)

	// Subscribe before any goroutine starts so no transition is missed.
	netUpdates, unsubscribe := eng.monitor.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.monitor.Run(gctx, eng.source) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return hub.WatchNetwork(gctx, netUpdates) })
	g.Go(func() error { return forceSyncOnSignal(gctx, sched, logger) })

	if cfg.API.Enabled {
		router := api.NewRouter(api.Options{
			Queue:          eng.queue,
			Scheduler:      sched,
			Network:        eng.monitor,
			Writer:         eng.writer,
			Store:          eng.store,
			Metrics:        eng.recorder,
			Events:         hub,
			AllowedOrigins: cfg.API.AllowedOrigins,
			Logger:         logger,
		})

		srv := api.NewServer(cfg.API.Listen, router, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	logger.Info("daemon started",
		slog.String("store", cfg.Store.Path),
		slog.String("remote", cfg.Remote.BaseURL),
		slog.Bool("online", eng.monitor.IsOnline()),
		slog.Bool("sync_enabled", sched.Enabled()),
	)

	return waitShutdown(ctx, g, cfg.Sync.ShutdownDuration(), logger)
}

// forceSyncOnSignal runs a pass whenever SIGHUP arrives.
func forceSyncOnSignal(ctx context.Context, sched *sync.Scheduler, logger *slog.Logger) error {
	sigCh, stop := syncSignals()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			res, err := sched.ForceSync(ctx)

			switch {
			case errors.Is(err, sync.ErrOffline):
				logger.Info("sync requested while offline, skipped")
			case errors.Is(err, sync.ErrAlreadyProcessing):
				logger.Info("sync requested while a pass is running, skipped")
			case err != nil:
				logger.Warn("requested sync pass failed", slog.String("error", err.Error()))
			default:
				logger.Info("requested sync pass complete",
					slog.Int("success", res.Success),
					slog.Int("failed", res.Failed),
					slog.Int("conflicts", res.Conflicts),
				)
			}
		}
	}
}

// waitShutdown waits for every component to stop. After ctx is canceled the
// components get timeout to drain before the daemon gives up on them.
func waitShutdown(ctx context.Context, g *errgroup.Group, timeout time.Duration, logger *slog.Logger) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", timeout))

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown did not complete within %s", timeout)
	}
}
