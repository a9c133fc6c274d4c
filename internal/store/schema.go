package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Names owned by the sync machinery. Schemas may not declare them and the
// generic record API refuses them.
const (
	QueueCollection    = "sync_queue"
	MetadataCollection = "sync_metadata"
)

const defaultKeyPath = "id"

const metaSchemaVersion = "schema_version"

// Schema is the declared set of user collections at a version. Every change
// to Collections must come with a higher Version; upgrades only ever add.
type Schema struct {
	Version     int
	Collections []CollectionDef
}

// CollectionDef declares one collection. KeyPath defaults to "id".
type CollectionDef struct {
	Name    string
	KeyPath string
	Indexes []IndexDef
}

// IndexDef declares a secondary index over a (possibly dotted) field path.
type IndexDef struct {
	Name    string
	KeyPath string
	Unique  bool
}

// collection is the resolved, persisted form of a CollectionDef.
type collection struct {
	name    string
	keyPath string
	indexes map[string]IndexDef
}

func isReserved(name string) bool {
	return name == QueueCollection || name == MetadataCollection
}

func (d CollectionDef) keyPath() string {
	if d.KeyPath == "" {
		return defaultKeyPath
	}

	return d.KeyPath
}

func (s Schema) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("store: schema version must be >= 1, got %d", s.Version)
	}

	seen := make(map[string]bool, len(s.Collections))

	for _, c := range s.Collections {
		if c.Name == "" {
			return fmt.Errorf("store: collection with empty name")
		}

		if isReserved(c.Name) {
			return fmt.Errorf("%w: %q", ErrReservedCollection, c.Name)
		}

		if seen[c.Name] {
			return fmt.Errorf("store: duplicate collection %q", c.Name)
		}

		seen[c.Name] = true

		idx := make(map[string]bool, len(c.Indexes))

		for _, i := range c.Indexes {
			if i.Name == "" || i.KeyPath == "" {
				return fmt.Errorf("store: collection %q: index needs a name and key path", c.Name)
			}

			if idx[i.Name] {
				return fmt.Errorf("store: collection %q: duplicate index %q", c.Name, i.Name)
			}

			idx[i.Name] = true
		}
	}

	return nil
}

// schemaDelta is what a declared schema adds on top of the persisted one.
type schemaDelta struct {
	collections []CollectionDef
	indexes     map[string][]IndexDef // existing collection -> new indexes
}

func (d schemaDelta) empty() bool {
	return len(d.collections) == 0 && len(d.indexes) == 0
}

// applySchema upgrades the persisted catalog to the declared schema and
// returns the resulting catalog. Collections persisted earlier but no longer
// declared are kept; nothing is ever dropped.
func applySchema(ctx context.Context, db *sql.DB, declared Schema, logger *slog.Logger) (map[string]*collection, error) {
	var catalog map[string]*collection

	err := withTx(ctx, db, func(tx *sql.Tx) error {
		persisted, err := readSchemaVersion(ctx, tx)
		if err != nil {
			return err
		}

		if declared.Version < persisted {
			return fmt.Errorf("%w: declared %d, persisted %d", ErrSchemaDowngrade, declared.Version, persisted)
		}

		current, err := loadCatalog(ctx, tx)
		if err != nil {
			return err
		}

		delta, err := diffSchema(current, declared)
		if err != nil {
			return err
		}

		if declared.Version == persisted {
			if !delta.empty() {
				return fmt.Errorf("%w: version %d", ErrSchemaChanged, declared.Version)
			}

			catalog = current

			return nil
		}

		if err := upgradeSchema(ctx, tx, declared.Version, delta); err != nil {
			return err
		}

		if err := writeSchemaVersion(ctx, tx, declared.Version); err != nil {
			return err
		}

		logger.Info("schema upgraded",
			slog.Int("from", persisted),
			slog.Int("to", declared.Version),
			slog.Int("new_collections", len(delta.collections)),
		)

		catalog, err = loadCatalog(ctx, tx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return catalog, nil
}

func diffSchema(current map[string]*collection, declared Schema) (schemaDelta, error) {
	delta := schemaDelta{indexes: make(map[string][]IndexDef)}

	for _, def := range declared.Collections {
		existing, ok := current[def.Name]
		if !ok {
			delta.collections = append(delta.collections, def)
			continue
		}

		if existing.keyPath != def.keyPath() {
			return delta, fmt.Errorf("%w: collection %q key path %q -> %q",
				ErrSchemaConflict, def.Name, existing.keyPath, def.keyPath())
		}

		for _, idx := range def.Indexes {
			old, ok := existing.indexes[idx.Name]
			if !ok {
				delta.indexes[def.Name] = append(delta.indexes[def.Name], idx)
				continue
			}

			if old.KeyPath != idx.KeyPath || old.Unique != idx.Unique {
				return delta, fmt.Errorf("%w: index %s.%s", ErrSchemaConflict, def.Name, idx.Name)
			}
		}
	}

	return delta, nil
}

func upgradeSchema(ctx context.Context, tx *sql.Tx, version int, delta schemaDelta) error {
	for _, def := range delta.collections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO collections (name, key_path, added_in) VALUES (?, ?, ?)`,
			def.Name, def.keyPath(), version); err != nil {
			return fmt.Errorf("store: creating collection %q: %w", def.Name, err)
		}

		for _, idx := range def.Indexes {
			if err := insertIndexDef(ctx, tx, def.Name, idx, version); err != nil {
				return err
			}
		}
	}

	// New indexes on existing collections need entries for records already
	// stored.
	for name, indexes := range delta.indexes {
		for _, idx := range indexes {
			if err := insertIndexDef(ctx, tx, name, idx, version); err != nil {
				return err
			}

			if err := backfillIndex(ctx, tx, name, idx); err != nil {
				return err
			}
		}
	}

	return nil
}

func insertIndexDef(ctx context.Context, tx *sql.Tx, coll string, idx IndexDef, version int) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collection_indexes (collection, name, key_path, is_unique, added_in)
		 VALUES (?, ?, ?, ?, ?)`,
		coll, idx.Name, idx.KeyPath, idx.Unique, version); err != nil {
		return fmt.Errorf("store: creating index %s.%s: %w", coll, idx.Name, err)
	}

	return nil
}

func backfillIndex(ctx context.Context, tx *sql.Tx, coll string, idx IndexDef) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, data FROM records WHERE collection = ?`, coll)
	if err != nil {
		return fmt.Errorf("store: backfilling index %s.%s: %w", coll, idx.Name, err)
	}

	type pending struct{ id, value string }

	var entries []pending

	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return fmt.Errorf("store: backfilling index %s.%s: %w", coll, idx.Name, err)
		}

		rec, err := decodeRecord([]byte(data))
		if err != nil {
			rows.Close()
			return err
		}

		if v, ok := indexValue(rec, idx.KeyPath); ok {
			entries = append(entries, pending{id: id, value: v})
		}
	}

	if err := rows.Close(); err != nil {
		return fmt.Errorf("store: backfilling index %s.%s: %w", coll, idx.Name, err)
	}

	c := &collection{name: coll, indexes: map[string]IndexDef{idx.Name: idx}}

	for _, e := range entries {
		if err := insertIndexEntry(ctx, tx, c, idx, e.id, e.value); err != nil {
			return err
		}
	}

	return nil
}

func readSchemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var raw string

	err := tx.QueryRowContext(ctx,
		`SELECT value FROM store_meta WHERE key = ?`, metaSchemaVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("store: reading schema version: %w", err)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("store: parsing schema version %q: %w", raw, err)
	}

	return v, nil
}

func writeSchemaVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaSchemaVersion, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("store: writing schema version: %w", err)
	}

	return nil
}

func loadCatalog(ctx context.Context, tx *sql.Tx) (map[string]*collection, error) {
	catalog := make(map[string]*collection)

	rows, err := tx.QueryContext(ctx, `SELECT name, key_path FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("store: loading collections: %w", err)
	}

	for rows.Next() {
		c := &collection{indexes: make(map[string]IndexDef)}
		if err := rows.Scan(&c.name, &c.keyPath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scanning collection: %w", err)
		}

		catalog[c.name] = c
	}

	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("store: loading collections: %w", err)
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT collection, name, key_path, is_unique FROM collection_indexes`)
	if err != nil {
		return nil, fmt.Errorf("store: loading indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			coll string
			idx  IndexDef
		)

		if err := rows.Scan(&coll, &idx.Name, &idx.KeyPath, &idx.Unique); err != nil {
			return nil, fmt.Errorf("store: scanning index: %w", err)
		}

		if c, ok := catalog[coll]; ok {
			c.indexes[idx.Name] = idx
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: loading indexes: %w", err)
	}

	return catalog, nil
}

// splitPath splits a dotted key path.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}
