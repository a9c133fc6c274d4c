package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openAt(t *testing.T, path string, schema Schema) (*Store, error) {
	t.Helper()

	s, err := Open(context.Background(), Options{Path: path, Schema: schema, Logger: testLogger(t)})
	t.Cleanup(func() { s.Close() })

	return s, err
}

func TestSchema_UpgradeAddsCollectionsAndBackfillsIndexes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	v1 := Schema{Version: 1, Collections: []CollectionDef{{Name: "inventory"}}}

	s, err := openAt(t, path, v1)
	if err != nil {
		t.Fatalf("Open v1: %v", err)
	}

	if err := s.PutMany(ctx, "inventory", []Record{
		{"id": "a", "color": "red"},
		{"id": "b", "color": "blue"},
		{"id": "c", "color": "red"},
	}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v2 := Schema{Version: 2, Collections: []CollectionDef{
		{Name: "inventory", Indexes: []IndexDef{{Name: "by_color", KeyPath: "color"}}},
		{Name: "customers"},
	}}

	s2, err := openAt(t, path, v2)
	if err != nil {
		t.Fatalf("Open v2: %v", err)
	}

	red, err := s2.GetByIndex(ctx, "inventory", "by_color", "red")
	if err != nil {
		t.Fatalf("GetByIndex: %v", err)
	}

	if len(red) != 2 {
		t.Fatalf("backfilled index returned %d records, want 2", len(red))
	}

	if err := s2.Put(ctx, "customers", Record{"id": "c1"}); err != nil {
		t.Fatalf("Put into new collection: %v", err)
	}
}

func TestSchema_UndeclaredCollectionsSurviveUpgrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := openAt(t, path, Schema{Version: 1, Collections: []CollectionDef{{Name: "legacy"}}})
	if err != nil {
		t.Fatalf("Open v1: %v", err)
	}

	if err := s.Put(ctx, "legacy", Record{"id": "keep"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s.Close()

	s2, err := openAt(t, path, Schema{Version: 2, Collections: []CollectionDef{{Name: "inventory"}}})
	if err != nil {
		t.Fatalf("Open v2: %v", err)
	}

	if _, err := s2.GetByID(ctx, "legacy", "keep"); err != nil {
		t.Fatalf("legacy record lost after upgrade: %v", err)
	}
}

func TestSchema_RejectsDowngrade(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.db")

	s, err := openAt(t, path, Schema{Version: 3})
	if err != nil {
		t.Fatalf("Open v3: %v", err)
	}

	s.Close()

	s2, err := openAt(t, path, Schema{Version: 2})
	if !errors.Is(err, ErrSchemaDowngrade) {
		t.Fatalf("Open v2 over v3: got %v, want ErrSchemaDowngrade", err)
	}

	if s2.Ready() {
		t.Error("store is ready after rejected downgrade")
	}
}

func TestSchema_RejectsChangeWithoutVersionBump(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.db")

	s, err := openAt(t, path, Schema{Version: 1, Collections: []CollectionDef{{Name: "inventory"}}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.Close()

	_, err = openAt(t, path, Schema{Version: 1, Collections: []CollectionDef{{Name: "inventory"}, {Name: "extra"}}})
	if !errors.Is(err, ErrSchemaChanged) {
		t.Fatalf("got %v, want ErrSchemaChanged", err)
	}
}

func TestSchema_RejectsRedefinition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.db")

	s, err := openAt(t, path, Schema{Version: 1, Collections: []CollectionDef{{Name: "inventory"}}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.Close()

	_, err = openAt(t, path, Schema{Version: 2, Collections: []CollectionDef{{Name: "inventory", KeyPath: "sku"}}})
	if !errors.Is(err, ErrSchemaConflict) {
		t.Fatalf("got %v, want ErrSchemaConflict", err)
	}
}

func TestSchema_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema Schema
	}{
		{"zero version", Schema{Version: 0}},
		{"empty collection name", Schema{Version: 1, Collections: []CollectionDef{{Name: ""}}}},
		{"duplicate collection", Schema{Version: 1, Collections: []CollectionDef{{Name: "a"}, {Name: "a"}}}},
		{"index without key path", Schema{Version: 1, Collections: []CollectionDef{{Name: "a", Indexes: []IndexDef{{Name: "i"}}}}}},
		{"duplicate index", Schema{Version: 1, Collections: []CollectionDef{{Name: "a", Indexes: []IndexDef{
			{Name: "i", KeyPath: "x"}, {Name: "i", KeyPath: "y"},
		}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.schema.validate(); err == nil {
				t.Fatal("validate() = nil, want error")
			}
		})
	}
}
