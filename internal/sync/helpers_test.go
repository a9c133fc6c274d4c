package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

var testSchema = store.Schema{
	Version: 1,
	Collections: []store.CollectionDef{
		{Name: "lots", Indexes: []store.IndexDef{{Name: "by_status", KeyPath: "status"}}},
		{Name: "orders"},
	},
}

// openStore opens a store at path and closes it on cleanup.
func openStore(t *testing.T, path string) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), store.Options{
		Path:   path,
		Schema: testSchema,
		Logger: testLogger(t),
	})
	if err != nil {
		t.Fatalf("store.Open(%q): %v", path, err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

// fakeNetwork is a switchable NetworkSource backed by a real Monitor.
type fakeNetwork struct {
	*netstatus.Monitor
}

func newFakeNetwork(online bool) *fakeNetwork {
	return &fakeNetwork{Monitor: netstatus.NewMonitor(netstatus.Status{Online: online}, netstatus.DefaultThresholds, nil)}
}

func (f *fakeNetwork) set(online bool) {
	f.Update(netstatus.Status{Online: online})
}

type testEnv struct {
	store *store.Store
	net   *fakeNetwork
	queue *QueueManager
	clock *fakeClock
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()

	st := openStore(t, filepath.Join(t.TempDir(), "local.db"))

	return newTestEnvWithStore(t, st, online)
}

func newTestEnvWithStore(t *testing.T, st *store.Store, online bool) *testEnv {
	t.Helper()

	net := newFakeNetwork(online)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}

	q := NewQueueManager(QueueOptions{
		Store:        st,
		Connectivity: net,
		Logger:       testLogger(t),
	})
	q.nowFunc = clock.Now

	return &testEnv{store: st, net: net, queue: q, clock: clock}
}

// fakeClock advances one millisecond per call so generated ids differ.
type fakeClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Millisecond)

	return c.now
}

// scriptedExecutor records calls and answers from a per-record script.
type scriptedExecutor struct {
	mu      stdsync.Mutex
	calls   []string
	answers map[string]func(m *store.QueuedMutation) (ExecResult, error)
	onCall  func(m *store.QueuedMutation)
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{answers: make(map[string]func(*store.QueuedMutation) (ExecResult, error))}
}

func (e *scriptedExecutor) on(recordID string, fn func(m *store.QueuedMutation) (ExecResult, error)) {
	e.answers[recordID] = fn
}

func (e *scriptedExecutor) Execute(_ context.Context, m *store.QueuedMutation) (ExecResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, m.RecordID)
	fn := e.answers[m.RecordID]
	hook := e.onCall
	e.mu.Unlock()

	if hook != nil {
		hook(m)
	}

	if fn == nil {
		return ExecResult{Success: true}, nil
	}

	return fn(m)
}

func (e *scriptedExecutor) recorded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.calls...)
}

func failWith(server store.Record) func(*store.QueuedMutation) (ExecResult, error) {
	return func(*store.QueuedMutation) (ExecResult, error) {
		return ExecResult{ServerData: server}, nil
	}
}

// recordingNotifier collects notifications.
type recordingNotifier struct {
	mu    stdsync.Mutex
	items []Notification
	count atomic.Int32
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, n)
	r.count.Add(1)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Notification(nil), r.items...)
}
