package sync

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
)

// DefaultSyncInterval is the periodic pass interval while online.
const DefaultSyncInterval = 30 * time.Second

// NetworkSource is what the scheduler needs from the network monitor.
type NetworkSource interface {
	Connectivity
	Subscribe() (<-chan netstatus.Status, func())
	Reconnects() uint64
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Queue    *QueueManager
	Network  NetworkSource
	Executor Executor
	Notifier Notifier
	Interval time.Duration
	Logger   *slog.Logger
}

// Scheduler triggers sync passes on an interval and on every offline→online
// transition. It holds no domain logic and never overlaps passes.
type Scheduler struct {
	queue    *QueueManager
	network  NetworkSource
	exec     Executor
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	// newTicker is injectable for tests.
	newTicker func(time.Duration) (<-chan time.Time, func())

	enabled atomic.Bool

	// wake is signaled when automatic passes are re-enabled.
	wake chan struct{}

	mu         stdsync.Mutex
	lastResult SyncResult
	lastPassAt time.Time

	// Pending automatic resume set by PauseFor. Guarded by mu.
	resumeTimer *time.Timer
	resumeAt    time.Time
}

// NewScheduler returns an enabled scheduler. Call Run to start it.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	s := &Scheduler{
		queue:     opts.Queue,
		network:   opts.Network,
		exec:      opts.Executor,
		notifier:  notifier,
		interval:  interval,
		logger:    logger,
		nowFunc:   time.Now,
		newTicker: realTicker,
		wake:      make(chan struct{}, 1),
	}
	s.enabled.Store(true)

	return s
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// SetEnabled turns automatic passes on or off and cancels any timed resume.
// ForceSync works either way.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.stopResumeLocked()
	was := s.enabled.Swap(enabled)
	s.mu.Unlock()

	if enabled && !was {
		s.signalWake()
	}

	s.logger.Info("background sync toggled", slog.Bool("enabled", enabled))
}

// PauseFor disables automatic passes and re-enables them after d. It
// returns the time of the scheduled resume.
func (s *Scheduler) PauseFor(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopResumeLocked()
	s.enabled.Store(false)

	var timer *time.Timer

	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.resumeTimer != timer {
			s.mu.Unlock()
			return
		}

		s.resumeTimer = nil
		s.resumeAt = time.Time{}
		s.enabled.Store(true)
		s.mu.Unlock()

		s.signalWake()

		s.logger.Info("background sync resumed after pause")
	})

	s.resumeTimer = timer
	s.resumeAt = s.nowFunc().Add(d)

	s.logger.Info("background sync paused",
		slog.Duration("for", d),
		slog.Time("resume_at", s.resumeAt),
	)

	return s.resumeAt
}

// ResumeAt reports when a timed pause ends; zero when none is pending.
func (s *Scheduler) ResumeAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resumeAt
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) stopResumeLocked() {
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}

	s.resumeAt = time.Time{}
}

// Enabled reports whether automatic passes run.
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// LastResult returns the outcome and time of the most recent pass that
// touched at least one mutation.
func (s *Scheduler) LastResult() (SyncResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastResult, s.lastPassAt
}

// Run blocks until ctx is canceled. A pass runs at startup when online.
func (s *Scheduler) Run(ctx context.Context) error {
	statusCh, unsubscribe := s.network.Subscribe()
	defer unsubscribe()

	tick, stopTicker := s.newTicker(s.interval)
	defer stopTicker()

	// A pass runs for every reconnect, including one whose offline status
	// was overwritten in the subscription before it was read.
	seen := s.network.Reconnects()
	online := s.network.IsOnline()

	s.logger.Info("sync scheduler started",
		slog.Duration("interval", s.interval),
		slog.Bool("online", online),
	)

	if online {
		s.autoPass(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return nil

		case <-tick:
			if s.network.IsOnline() {
				s.autoPass(ctx, "interval")
			}

		case <-s.wake:
			if s.network.IsOnline() {
				s.autoPass(ctx, "resume")
			}

		case st, ok := <-statusCh:
			if !ok {
				return errors.New("sync: network status subscription closed")
			}

			gen := s.network.Reconnects()
			if gen == seen {
				continue
			}

			seen = gen

			if st.Online && s.network.IsOnline() {
				s.autoPass(ctx, "reconnect")
			}
		}
	}
}

func (s *Scheduler) autoPass(ctx context.Context, trigger string) {
	if !s.enabled.Load() {
		s.logger.Debug("sync pass skipped: disabled", slog.String("trigger", trigger))
		return
	}

	if _, err := s.runPass(ctx, trigger); err != nil && !errors.Is(err, ErrAlreadyProcessing) {
		s.logger.Warn("sync pass error",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	}
}

// ForceSync runs a pass now. It fails fast with ErrOffline without touching
// the queue, and with ErrAlreadyProcessing when a pass is running.
func (s *Scheduler) ForceSync(ctx context.Context) (SyncResult, error) {
	if !s.network.IsOnline() {
		return SyncResult{}, ErrOffline
	}

	return s.runPass(ctx, "manual")
}

func (s *Scheduler) runPass(ctx context.Context, trigger string) (SyncResult, error) {
	if s.queue.IsProcessing() {
		s.logger.Debug("sync pass skipped: already processing", slog.String("trigger", trigger))
		return SyncResult{}, ErrAlreadyProcessing
	}

	s.logger.Debug("sync pass triggered", slog.String("trigger", trigger))

	res, err := s.queue.ProcessSyncQueue(ctx, s.exec)
	if errors.Is(err, ErrAlreadyProcessing) {
		return res, err
	}

	if res.Total() > 0 {
		now := s.nowFunc()

		s.mu.Lock()
		s.lastResult = res
		s.lastPassAt = now
		s.mu.Unlock()

		for _, n := range Notifications(res, now) {
			s.notifier.Notify(ctx, n)
		}
	}

	return res, err
}
