// Package metrics provides the counters/timers sink injected into the sync
// engine and cache. Implementations must be safe for concurrent use.
package metrics

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Sink receives counter increments and duration samples.
type Sink interface {
	Count(name string, delta int64)
	Timing(name string, d time.Duration)
}

// Time starts a timer and returns a func recording the elapsed time:
//
//	defer metrics.Time(sink, "sync.pass")()
func Time(s Sink, name string) func() {
	start := time.Now()

	return func() { s.Timing(name, time.Since(start)) }
}

// Nop discards everything.
type Nop struct{}

// Count implements Sink.
func (Nop) Count(string, int64) {}

// Timing implements Sink.
func (Nop) Timing(string, time.Duration) {}

// LogSink writes every sample at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Count implements Sink.
func (l LogSink) Count(name string, delta int64) {
	l.Logger.Debug("metric", slog.String("name", name), slog.Int64("delta", delta))
}

// Timing implements Sink.
func (l LogSink) Timing(name string, d time.Duration) {
	l.Logger.Debug("metric", slog.String("name", name), slog.Duration("duration", d))
}

// Recorder keeps counters and timing aggregates in memory. The daemon
// exposes its Snapshot over the control API.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string]TimingStats
}

// TimingStats aggregates duration samples for one name.
type TimingStats struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
	Last  time.Duration `json:"last"`
}

// Mean returns the average sample, or zero with no samples.
func (t TimingStats) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}

	return t.Total / time.Duration(t.Count)
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]int64),
		timings:  make(map[string]TimingStats),
	}
}

// Count implements Sink.
func (r *Recorder) Count(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[name] += delta
}

// Timing implements Sink.
func (r *Recorder) Timing(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.timings[name]
	t.Count++
	t.Total += d
	t.Last = d

	if d > t.Max {
		t.Max = d
	}

	r.timings[name] = t
}

// Counter returns the current value of a counter.
func (r *Recorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counters[name]
}

// Snapshot is a point-in-time copy of a Recorder.
type Snapshot struct {
	Counters map[string]int64       `json:"counters"`
	Timings  map[string]TimingStats `json:"timings"`
}

// Names returns the counter names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.Counters))
}

// Snapshot copies the current state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Snapshot{
		Counters: maps.Clone(r.counters),
		Timings:  maps.Clone(r.timings),
	}
}

// Multi fans out to several sinks.
type Multi []Sink

// Count implements Sink.
func (m Multi) Count(name string, delta int64) {
	for _, s := range m {
		s.Count(name, delta)
	}
}

// Timing implements Sink.
func (m Multi) Timing(name string, d time.Duration) {
	for _, s := range m {
		s.Timing(name, d)
	}
}
