package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

func newTestWriter(t *testing.T, online bool) (*Writer, *testEnv, *memRepository) {
	t.Helper()

	env := newTestEnv(t, online)
	repo := newMemRepository()
	exec := NewRepositoryExecutor(map[string]Repository{"lots": repo}, testLogger(t))

	return NewWriter(env.queue, exec, env.store, env.net, testLogger(t)), env, repo
}

func TestWriter_OnlineExecutesImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, env, repo := newTestWriter(t, true)

	res, err := w.Write(ctx, MutationInput{
		Type: store.MutationCreate, Table: "lots", RecordID: "L1", Data: store.Record{"quantity": 10},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if res.Queued {
		t.Fatal("online write was queued")
	}

	if _, ok := repo.records["L1"]; !ok {
		t.Fatal("remote record not created")
	}

	local, err := env.store.GetByID(ctx, "lots", "L1")
	if err != nil {
		t.Fatalf("optimistic local copy missing: %v", err)
	}

	if local["version"] != float64(1) {
		t.Errorf("local copy = %v, want server fields merged in", local)
	}

	stats, _ := env.queue.Stats(ctx)
	if stats.Total() != 0 {
		t.Errorf("queue = %+v, want empty", stats)
	}
}

func TestWriter_OfflineQueuesAndUpdatesLocally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, env, repo := newTestWriter(t, false)

	if err := env.store.Put(ctx, "lots", store.Record{"id": "L1", "quantity": 10, "status": "open"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	res, err := w.Write(ctx, MutationInput{
		Type: store.MutationUpdate, Table: "lots", RecordID: "L1",
		Data: store.Record{"quantity": 5}, OriginalData: store.Record{"quantity": 10},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !res.Queued || res.MutationID == "" {
		t.Fatalf("offline write result = %+v, want queued", res)
	}

	if len(repo.records) != 0 {
		t.Fatal("remote touched while offline")
	}

	local, err := env.store.GetByID(ctx, "lots", "L1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	if local["quantity"] != float64(5) || local["status"] != "open" {
		t.Errorf("local = %v, want patched quantity and untouched status", local)
	}
}

func TestWriter_OnlineFailureFallsBackToQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, _, _ := newTestWriter(t, true)

	// Remote has no L9, so the update fails without server data.
	res, err := w.Write(ctx, MutationInput{
		Type: store.MutationUpdate, Table: "lots", RecordID: "L9", Data: store.Record{"quantity": 1},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !res.Queued {
		t.Fatal("failed online write was not queued")
	}
}

func TestWriter_OnlineConflictIsReturned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, env, repo := newTestWriter(t, true)
	repo.records["L1"] = store.Record{"id": "L1", "quantity": 7, "version": 2}

	_, err := w.Write(ctx, MutationInput{
		Type: store.MutationUpdate, Table: "lots", RecordID: "L1",
		Data:         store.Record{"quantity": 5, "version": 1},
		OriginalData: store.Record{"quantity": 10, "version": 1},
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want *ConflictError", err)
	}

	if !errors.Is(err, ErrStale) {
		t.Error("ConflictError does not match ErrStale")
	}

	if len(conflict.Fields) == 0 || conflict.Fields[0] != "quantity" {
		t.Errorf("fields = %v", conflict.Fields)
	}

	stats, _ := env.queue.Stats(ctx)
	if stats.Total() != 0 {
		t.Errorf("conflicting write was queued: %+v", stats)
	}
}

func TestWriter_DeleteRemovesLocalCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, env, _ := newTestWriter(t, false)

	if err := env.store.Put(ctx, "lots", store.Record{"id": "L1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := w.Write(ctx, MutationInput{Type: store.MutationDelete, Table: "lots", RecordID: "L1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := env.store.GetByID(ctx, "lots", "L1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("local record survived delete: %v", err)
	}
}

func TestWriter_UncachedTableStillQueues(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWriter(t, false)

	res, err := w.Write(context.Background(), MutationInput{
		Type: store.MutationCreate, Table: "reservations", Data: store.Record{"lot": "L1"},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !res.Queued {
		t.Fatal("write to uncached table not queued")
	}
}

func TestWriter_NumericKeyUpdatesSameLocalRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, env, _ := newTestWriter(t, false)

	if err := env.store.Put(ctx, "lots", store.Record{"id": 7, "quantity": 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := w.Write(ctx, MutationInput{
		Type:         store.MutationUpdate,
		Table:        "lots",
		RecordID:     "7",
		Data:         store.Record{"quantity": 2},
		OriginalData: store.Record{"id": 7, "quantity": 1},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	n, err := env.store.Count(ctx, "lots")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if n != 1 {
		t.Fatalf("Count = %d, want 1 (update must not create a string-keyed copy)", n)
	}

	local, err := env.store.GetByID(ctx, "lots", 7)
	if err != nil {
		t.Fatalf("GetByID(7): %v", err)
	}

	if local["quantity"] != float64(2) {
		t.Errorf("quantity = %v, want 2", local["quantity"])
	}
}
