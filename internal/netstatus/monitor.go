package netstatus

import (
	"context"
	"log/slog"
	"sync"
)

// Source reports connectivity changes. Watch blocks until ctx is canceled or
// the source fails, calling update with each new observation.
type Source interface {
	Watch(ctx context.Context, update func(Status)) error
}

// Prober takes a single observation without watching. Sources implement it
// so one-shot commands can seed a Monitor.
type Prober interface {
	Probe(ctx context.Context) (Status, error)
}

// Monitor holds the current Status and fans changes out to subscribers.
// Safe for concurrent use.
type Monitor struct {
	thresholds Thresholds
	logger     *slog.Logger

	mu     sync.RWMutex
	status Status
	subs   map[int]chan Status
	nextID int

	// reconnects counts offline to online transitions.
	reconnects uint64
}

// NewMonitor returns a monitor starting at initial.
func NewMonitor(initial Status, thresholds Thresholds, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	initial.Slow = thresholds.IsSlow(initial)

	return &Monitor{
		thresholds: thresholds,
		logger:     logger,
		status:     initial,
		subs:       make(map[int]chan Status),
	}
}

// Current returns the latest status.
func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.status
}

// IsOnline reports the latest connectivity.
func (m *Monitor) IsOnline() bool {
	return m.Current().Online
}

// IsSlowConnection reports whether the latest link is below the thresholds.
func (m *Monitor) IsSlowConnection() bool {
	return m.Current().Slow
}

// Reconnects returns the number of offline to online transitions so far.
// Subscribers compare it across deliveries to catch a reconnect whose
// offline status was overwritten before they read it.
func (m *Monitor) Reconnects() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.reconnects
}

// Subscribe returns a channel receiving every status change and a cancel
// function. The channel holds one value; a slow reader only sees the latest.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan Status, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Update records a new observation. Slow is recomputed from the thresholds.
// Subscribers are only notified when something changed.
func (m *Monitor) Update(s Status) {
	s.Slow = m.thresholds.IsSlow(s)

	m.mu.Lock()
	prev := m.status

	if prev == s {
		m.mu.Unlock()
		return
	}

	m.status = s

	if !prev.Online && s.Online {
		m.reconnects++
	}

	for _, ch := range m.subs {
		// Drop a stale unread value so the newest always lands.
		select {
		case <-ch:
		default:
		}

		ch <- s
	}
	m.mu.Unlock()

	switch {
	case prev.Online && !s.Online:
		m.logger.Info("connectivity lost")
	case !prev.Online && s.Online:
		m.logger.Info("connectivity restored", slog.Any("status", s))
	default:
		m.logger.Debug("link quality changed", slog.Any("status", s))
	}
}

// Run feeds the monitor from src until ctx is canceled.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	err := src.Watch(ctx, m.Update)
	if ctx.Err() != nil {
		return nil
	}

	return err
}
