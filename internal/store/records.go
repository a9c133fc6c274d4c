package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// GetAll returns every record in the collection, ordered by key.
func (s *Store) GetAll(ctx context.Context, coll string) ([]Record, error) {
	raw, err := s.getAllRaw(ctx, coll)
	if err != nil {
		return nil, err
	}

	return decodeAll(raw)
}

// GetByID returns the record with the given primary key, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, coll string, id any) (Record, error) {
	raw, err := s.getByIDRaw(ctx, coll, id)
	if err != nil {
		return nil, err
	}

	return decodeRecord(raw)
}

// GetByIndex returns records whose indexed field equals value.
func (s *Store) GetByIndex(ctx context.Context, coll, index string, value any) ([]Record, error) {
	raw, err := s.getByIndexRaw(ctx, coll, index, value)
	if err != nil {
		return nil, err
	}

	return decodeAll(raw)
}

// Put inserts or replaces a record by its primary key.
func (s *Store) Put(ctx context.Context, coll string, rec Record) error {
	return s.PutMany(ctx, coll, []Record{rec})
}

// PutMany upserts all records in one transaction. Either every record is
// written or none is.
func (s *Store) PutMany(ctx context.Context, coll string, recs []Record) error {
	db, c, err := s.lookup(coll)
	if err != nil {
		return err
	}

	if len(recs) == 0 {
		return nil
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		return s.putRecords(ctx, tx, c, recs)
	})
}

// ReplaceAll atomically clears the collection, writes recs, and stamps the
// collection's sync metadata with the current time.
func (s *Store) ReplaceAll(ctx context.Context, coll string, recs []Record) error {
	db, c, err := s.lookup(coll)
	if err != nil {
		return err
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, coll); err != nil {
			return fmt.Errorf("store: clearing %s: %w", coll, err)
		}

		if err := s.putRecords(ctx, tx, c, recs); err != nil {
			return err
		}

		return s.setLastSyncTime(ctx, tx, coll, len(recs))
	})
}

// DeleteByID removes one record. Deleting a missing key is not an error.
func (s *Store) DeleteByID(ctx context.Context, coll string, id any) error {
	db, _, err := s.lookup(coll)
	if err != nil {
		return err
	}

	key, err := storedKey(id)
	if err != nil {
		return fmt.Errorf("store: deleting %s/%v: %w", coll, id, err)
	}

	if _, err := db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, coll, key); err != nil {
		return fmt.Errorf("store: deleting %s/%v: %w", coll, id, err)
	}

	return nil
}

// ClearStore removes every record in the collection.
func (s *Store) ClearStore(ctx context.Context, coll string) error {
	db, _, err := s.lookup(coll)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, coll); err != nil {
		return fmt.Errorf("store: clearing %s: %w", coll, err)
	}

	s.logger.Debug("collection cleared", slog.String("collection", coll))

	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, coll string) (int, error) {
	db, _, err := s.lookup(coll)
	if err != nil {
		return 0, err
	}

	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, coll).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting %s: %w", coll, err)
	}

	return n, nil
}

func (s *Store) putRecords(ctx context.Context, tx *sql.Tx, c *collection, recs []Record) error {
	now := s.nowFunc().UnixMilli()

	for _, rec := range recs {
		id, err := recordKey(rec, c.keyPath)
		if err != nil {
			return fmt.Errorf("store: put %s: %w", c.name, err)
		}

		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(collection, id) DO UPDATE SET
			  data = excluded.data,
			  updated_at = excluded.updated_at`,
			c.name, id, string(data), now); err != nil {
			return fmt.Errorf("store: put %s/%s: %w", c.name, id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM record_index_entries WHERE collection = ? AND record_id = ?`,
			c.name, id); err != nil {
			return fmt.Errorf("store: reindexing %s/%s: %w", c.name, id, err)
		}

		for _, idx := range c.indexes {
			v, ok := indexValue(rec, idx.KeyPath)
			if !ok {
				continue
			}

			if err := insertIndexEntry(ctx, tx, c, idx, id, v); err != nil {
				return err
			}
		}
	}

	return nil
}

func insertIndexEntry(ctx context.Context, tx *sql.Tx, c *collection, idx IndexDef, id, value string) error {
	if idx.Unique {
		var other string

		err := tx.QueryRowContext(ctx,
			`SELECT record_id FROM record_index_entries
			 WHERE collection = ? AND index_name = ? AND value = ? AND record_id <> ?
			 LIMIT 1`,
			c.name, idx.Name, value, id).Scan(&other)

		switch {
		case err == nil:
			return fmt.Errorf("%w: %s.%s already used by %q", ErrUniqueViolation, c.name, idx.Name, other)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("store: checking %s.%s: %w", c.name, idx.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO record_index_entries (collection, index_name, value, record_id)
		 VALUES (?, ?, ?, ?)`,
		c.name, idx.Name, value, id); err != nil {
		return fmt.Errorf("store: indexing %s.%s: %w", c.name, idx.Name, err)
	}

	return nil
}

func (s *Store) getAllRaw(ctx context.Context, coll string) ([][]byte, error) {
	db, _, err := s.lookup(coll)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection = ? ORDER BY id`, coll)
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", coll, err)
	}

	return scanData(rows, coll)
}

func (s *Store) getByIDRaw(ctx context.Context, coll string, id any) ([]byte, error) {
	db, _, err := s.lookup(coll)
	if err != nil {
		return nil, err
	}

	key, err := storedKey(id)
	if err != nil {
		return nil, fmt.Errorf("store: reading %s/%v: %w", coll, id, err)
	}

	var data string

	err = db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND id = ?`, coll, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%v", ErrNotFound, coll, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading %s/%v: %w", coll, id, err)
	}

	return []byte(data), nil
}

func (s *Store) getByIndexRaw(ctx context.Context, coll, index string, value any) ([][]byte, error) {
	db, c, err := s.lookup(coll)
	if err != nil {
		return nil, err
	}

	if _, ok := c.indexes[index]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, coll, index)
	}

	encoded, ok := encodeIndexValue(value)
	if !ok {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT r.data FROM record_index_entries e
		 JOIN records r ON r.collection = e.collection AND r.id = e.record_id
		 WHERE e.collection = ? AND e.index_name = ? AND e.value = ?
		 ORDER BY r.id`,
		coll, index, encoded)
	if err != nil {
		return nil, fmt.Errorf("store: querying %s.%s: %w", coll, index, err)
	}

	return scanData(rows, coll)
}

func scanData(rows *sql.Rows, coll string) ([][]byte, error) {
	defer rows.Close()

	var out [][]byte

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scanning %s: %w", coll, err)
		}

		out = append(out, []byte(data))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s: %w", coll, err)
	}

	return out, nil
}

func decodeAll(raw [][]byte) ([]Record, error) {
	out := make([]Record, 0, len(raw))

	for _, data := range raw {
		r, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, nil
}

// GetAllAs is GetAll decoding each record into T.
func GetAllAs[T any](ctx context.Context, s *Store, coll string) ([]T, error) {
	raw, err := s.getAllRaw(ctx, coll)
	if err != nil {
		return nil, err
	}

	return decodeAllAs[T](raw)
}

// GetByIDAs is GetByID decoding into T.
func GetByIDAs[T any](ctx context.Context, s *Store, coll string, id any) (T, error) {
	var out T

	raw, err := s.getByIDRaw(ctx, coll, id)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("store: decoding %s/%v: %w", coll, id, err)
	}

	return out, nil
}

// GetByIndexAs is GetByIndex decoding each record into T.
func GetByIndexAs[T any](ctx context.Context, s *Store, coll, index string, value any) ([]T, error) {
	raw, err := s.getByIndexRaw(ctx, coll, index, value)
	if err != nil {
		return nil, err
	}

	return decodeAllAs[T](raw)
}

// PutAs encodes a typed value to a record and writes it.
func PutAs[T any](ctx context.Context, s *Store, coll string, value T) error {
	rec, err := ToRecord(value)
	if err != nil {
		return err
	}

	return s.Put(ctx, coll, rec)
}

// PutManyAs encodes typed values to records and writes them atomically.
func PutManyAs[T any](ctx context.Context, s *Store, coll string, values []T) error {
	recs := make([]Record, 0, len(values))

	for i := range values {
		rec, err := ToRecord(values[i])
		if err != nil {
			return err
		}

		recs = append(recs, rec)
	}

	return s.PutMany(ctx, coll, recs)
}

// ToRecord converts any JSON-encodable value to a Record.
func ToRecord(v any) (Record, error) {
	if r, ok := v.(Record); ok {
		return r, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encoding value: %w", err)
	}

	return decodeRecord(data)
}

func decodeAllAs[T any](raw [][]byte) ([]T, error) {
	out := make([]T, 0, len(raw))

	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("store: decoding record: %w", err)
		}

		out = append(out, v)
	}

	return out, nil
}
