package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
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

func testSchema() Schema {
	return Schema{
		Version: 1,
		Collections: []CollectionDef{
			{
				Name: "inventory",
				Indexes: []IndexDef{
					{Name: "by_sku", KeyPath: "sku", Unique: true},
					{Name: "by_warehouse", KeyPath: "location.warehouse"},
				},
			},
			{Name: "orders", KeyPath: "orderNo"},
		},
	}
}

// newTestStore opens a ready store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	return openTestStore(t, filepath.Join(t.TempDir(), "local.db"), testSchema())
}

func openTestStore(t *testing.T, path string, schema Schema) *Store {
	t.Helper()

	s, err := Open(context.Background(), Options{Path: path, Schema: schema, Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})

	return s
}

func TestStore_NotReadyBeforeInit(t *testing.T) {
	t.Parallel()

	s := New(Options{Path: filepath.Join(t.TempDir(), "x.db"), Schema: testSchema()})

	if s.Ready() {
		t.Fatal("Ready() = true before Init")
	}

	if _, err := s.GetAll(context.Background(), "inventory"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("GetAll before Init: got %v, want ErrNotReady", err)
	}

	if _, err := s.ListMutations(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("ListMutations before Init: got %v, want ErrNotReady", err)
	}
}

func TestStore_InitFailureLeavesStoreNotReady(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")

	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Parent "directory" is a regular file, so the data dir cannot be created.
	s, err := Open(context.Background(), Options{
		Path:   filepath.Join(blocker, "local.db"),
		Schema: testSchema(),
		Logger: testLogger(t),
	})
	if err == nil {
		t.Fatal("Open succeeded, want error")
	}

	if s == nil || s.Ready() {
		t.Fatal("want non-nil, not-ready store after failed Init")
	}

	if err := s.Put(context.Background(), "inventory", Record{"id": "a"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Put after failed Init: got %v, want ErrNotReady", err)
	}
}

func TestStore_InitIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	rec := Record{"id": "roll-1", "sku": "FAB-001", "quantity": 10}
	if err := s.Put(ctx, "inventory", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.GetByID(ctx, "inventory", "roll-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	if got["quantity"] != float64(10) {
		t.Errorf("quantity = %v, want 10", got["quantity"])
	}

	// Put replaces by key.
	rec["quantity"] = 7
	if err := s.Put(ctx, "inventory", rec); err != nil {
		t.Fatalf("Put replace: %v", err)
	}

	all, err := s.GetAll(ctx, "inventory")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}

	if len(all) != 1 || all[0]["quantity"] != float64(7) {
		t.Fatalf("GetAll = %v, want one record with quantity 7", all)
	}

	if err := s.DeleteByID(ctx, "inventory", "roll-1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}

	if _, err := s.GetByID(ctx, "inventory", "roll-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID after delete: got %v, want ErrNotFound", err)
	}

	// Deleting again is not an error.
	if err := s.DeleteByID(ctx, "inventory", "roll-1"); err != nil {
		t.Fatalf("DeleteByID missing: %v", err)
	}
}

func TestStore_CustomKeyPathAndNumericKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, "orders", Record{"orderNo": 42, "total": 3.5}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.GetByID(ctx, "orders", 42.0)
	if err != nil {
		t.Fatalf("GetByID(42.0): %v", err)
	}

	if got["total"] != 3.5 {
		t.Errorf("total = %v, want 3.5", got["total"])
	}
}

func TestStore_StringAndNumericKeysAreDistinct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, "inventory", Record{"id": "5", "sku": "string-key"}); err != nil {
		t.Fatalf("Put string key: %v", err)
	}

	if err := s.Put(ctx, "inventory", Record{"id": 5, "sku": "number-key"}); err != nil {
		t.Fatalf("Put numeric key: %v", err)
	}

	n, err := s.Count(ctx, "inventory")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	byString, err := s.GetByID(ctx, "inventory", "5")
	if err != nil {
		t.Fatalf("GetByID(\"5\"): %v", err)
	}

	if byString["sku"] != "string-key" {
		t.Errorf("GetByID(\"5\").sku = %v, want string-key", byString["sku"])
	}

	byNumber, err := s.GetByID(ctx, "inventory", 5.0)
	if err != nil {
		t.Fatalf("GetByID(5.0): %v", err)
	}

	if byNumber["sku"] != "number-key" {
		t.Errorf("GetByID(5.0).sku = %v, want number-key", byNumber["sku"])
	}

	if err := s.DeleteByID(ctx, "inventory", 5); err != nil {
		t.Fatalf("DeleteByID(5): %v", err)
	}

	if _, err := s.GetByID(ctx, "inventory", "5"); err != nil {
		t.Fatalf("string-keyed record gone after deleting numeric key: %v", err)
	}
}

func TestStore_UnsupportedKeyType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, "inventory", Record{"id": true}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Put bool key: got %v, want ErrMissingKey", err)
	}

	if _, err := s.GetByID(ctx, "inventory", true); err == nil {
		t.Fatal("GetByID(true): expected error")
	}
}

func TestRecord_GetSet(t *testing.T) {
	t.Parallel()

	r := Record{"id": "L1"}
	r.Set("meta.owner", "warehouse-a")

	got, ok := r.Get("meta.owner")
	if !ok || got != "warehouse-a" {
		t.Fatalf("Get(meta.owner) = %v, %v", got, ok)
	}

	if _, ok := r.Get("meta.missing"); ok {
		t.Error("Get(meta.missing) reported a value")
	}
}

func TestStore_KeysAreUnicodeNormalized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	if err := s.Put(ctx, "inventory", Record{"id": decomposed, "sku": "S1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.GetByID(ctx, "inventory", composed); err != nil {
		t.Fatalf("GetByID(composed): %v", err)
	}
}

func TestStore_PutManyIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	err := s.PutMany(ctx, "inventory", []Record{
		{"id": "a", "sku": "A"},
		{"sku": "no-key"},
	})
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("PutMany: got %v, want ErrMissingKey", err)
	}

	n, err := s.Count(ctx, "inventory")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if n != 0 {
		t.Fatalf("Count = %d after failed PutMany, want 0", n)
	}
}

func TestStore_GetByIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	recs := []Record{
		{"id": "a", "sku": "A", "location": map[string]any{"warehouse": "north"}},
		{"id": "b", "sku": "B", "location": map[string]any{"warehouse": "south"}},
		{"id": "c", "sku": "C", "location": map[string]any{"warehouse": "north"}},
		{"id": "d"},
	}

	if err := s.PutMany(ctx, "inventory", recs); err != nil {
		t.Fatalf("PutMany: %v", err)
	}

	north, err := s.GetByIndex(ctx, "inventory", "by_warehouse", "north")
	if err != nil {
		t.Fatalf("GetByIndex: %v", err)
	}

	if len(north) != 2 || north[0]["id"] != "a" || north[1]["id"] != "c" {
		t.Fatalf("GetByIndex(north) = %v, want a and c", north)
	}

	// Moving a record re-indexes it.
	if err := s.Put(ctx, "inventory", Record{"id": "a", "sku": "A", "location": map[string]any{"warehouse": "south"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	south, err := s.GetByIndex(ctx, "inventory", "by_warehouse", "south")
	if err != nil {
		t.Fatalf("GetByIndex: %v", err)
	}

	if len(south) != 2 {
		t.Fatalf("GetByIndex(south) = %d records, want 2", len(south))
	}

	if _, err := s.GetByIndex(ctx, "inventory", "by_color", "red"); !errors.Is(err, ErrUnknownIndex) {
		t.Fatalf("unknown index: got %v, want ErrUnknownIndex", err)
	}
}

func TestStore_UniqueIndexViolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, "inventory", Record{"id": "a", "sku": "DUP"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	err := s.Put(ctx, "inventory", Record{"id": "b", "sku": "DUP"})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("Put duplicate sku: got %v, want ErrUniqueViolation", err)
	}

	// Re-putting the same record with the same value is fine.
	if err := s.Put(ctx, "inventory", Record{"id": "a", "sku": "DUP", "quantity": 1}); err != nil {
		t.Fatalf("Put same record: %v", err)
	}
}

func TestStore_IndexValuesAreTypeTagged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutMany(ctx, "inventory", []Record{
		{"id": "a", "sku": "1"},
		{"id": "b", "sku": 1},
	}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}

	got, err := s.GetByIndex(ctx, "inventory", "by_sku", 1)
	if err != nil {
		t.Fatalf("GetByIndex: %v", err)
	}

	if len(got) != 1 || got[0]["id"] != "b" {
		t.Fatalf("GetByIndex(1) = %v, want only b", got)
	}
}

func TestStore_UnknownAndReservedCollections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetAll(ctx, "nope"); !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("GetAll(nope): got %v, want ErrUnknownCollection", err)
	}

	if err := s.Put(ctx, QueueCollection, Record{"id": "x"}); !errors.Is(err, ErrReservedCollection) {
		t.Fatalf("Put(sync_queue): got %v, want ErrReservedCollection", err)
	}

	bad := Schema{Version: 1, Collections: []CollectionDef{{Name: MetadataCollection}}}

	_, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "r.db"), Schema: bad, Logger: testLogger(t)})
	if !errors.Is(err, ErrReservedCollection) {
		t.Fatalf("Open with reserved name: got %v, want ErrReservedCollection", err)
	}
}

func TestStore_ClearStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutMany(ctx, "inventory", []Record{{"id": "a", "sku": "A"}, {"id": "b", "sku": "B"}}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}

	if err := s.Put(ctx, "orders", Record{"orderNo": "o1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.ClearStore(ctx, "inventory"); err != nil {
		t.Fatalf("ClearStore: %v", err)
	}

	if n, _ := s.Count(ctx, "inventory"); n != 0 {
		t.Errorf("inventory count = %d, want 0", n)
	}

	if n, _ := s.Count(ctx, "orders"); n != 1 {
		t.Errorf("orders count = %d, want 1 (other collections untouched)", n)
	}

	// Index entries go with the records: the unique sku is free again.
	if err := s.Put(ctx, "inventory", Record{"id": "z", "sku": "A"}); err != nil {
		t.Fatalf("Put after clear: %v", err)
	}
}

func TestStore_ReplaceAllStampsMetadata(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)
	s.nowFunc = func() time.Time { return now }

	if _, ok, err := s.GetLastSyncTime(ctx, "inventory"); err != nil || ok {
		t.Fatalf("GetLastSyncTime before refresh = ok %v err %v, want not found", ok, err)
	}

	if err := s.Put(ctx, "inventory", Record{"id": "stale", "sku": "OLD"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.ReplaceAll(ctx, "inventory", []Record{{"id": "n1", "sku": "N1"}, {"id": "n2", "sku": "N2"}}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	all, err := s.GetAll(ctx, "inventory")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}

	if len(all) != 2 || all[0]["id"] != "n1" {
		t.Fatalf("GetAll after ReplaceAll = %v", all)
	}

	ms, ok, err := s.GetLastSyncTime(ctx, "inventory")
	if err != nil || !ok {
		t.Fatalf("GetLastSyncTime: ok %v err %v", ok, err)
	}

	if ms != now.UnixMilli() {
		t.Errorf("lastSyncedAt = %d, want %d", ms, now.UnixMilli())
	}

	meta, err := s.ListSyncMetadata(ctx)
	if err != nil {
		t.Fatalf("ListSyncMetadata: %v", err)
	}

	if len(meta) != 1 || meta[0].RecordCount != 2 {
		t.Fatalf("ListSyncMetadata = %+v, want one entry with 2 records", meta)
	}
}

type rollRecord struct {
	ID       string  `json:"id"`
	SKU      string  `json:"sku"`
	Quantity float64 `json:"quantity"`
}

func TestStore_TypedHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	rolls := []rollRecord{{ID: "r1", SKU: "S1", Quantity: 5}, {ID: "r2", SKU: "S2", Quantity: 9}}
	if err := PutManyAs(ctx, s, "inventory", rolls); err != nil {
		t.Fatalf("PutManyAs: %v", err)
	}

	got, err := GetAllAs[rollRecord](ctx, s, "inventory")
	if err != nil {
		t.Fatalf("GetAllAs: %v", err)
	}

	if len(got) != 2 || got[1] != rolls[1] {
		t.Fatalf("GetAllAs = %+v, want %+v", got, rolls)
	}

	one, err := GetByIDAs[rollRecord](ctx, s, "inventory", "r1")
	if err != nil {
		t.Fatalf("GetByIDAs: %v", err)
	}

	if one != rolls[0] {
		t.Errorf("GetByIDAs = %+v, want %+v", one, rolls[0])
	}

	bySKU, err := GetByIndexAs[rollRecord](ctx, s, "inventory", "by_sku", "S2")
	if err != nil {
		t.Fatalf("GetByIndexAs: %v", err)
	}

	if len(bySKU) != 1 || bySKU[0].ID != "r2" {
		t.Errorf("GetByIndexAs = %+v, want r2", bySKU)
	}

	updated := rollRecord{ID: "r1", SKU: "S1", Quantity: 4}
	if err := PutAs(ctx, s, "inventory", updated); err != nil {
		t.Fatalf("PutAs: %v", err)
	}

	one, err = GetByIDAs[rollRecord](ctx, s, "inventory", "r1")
	if err != nil {
		t.Fatalf("GetByIDAs after PutAs: %v", err)
	}

	if one != updated {
		t.Errorf("GetByIDAs after PutAs = %+v, want %+v", one, updated)
	}
}
