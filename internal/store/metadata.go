package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncMetadata records when a collection was last refreshed from the remote.
type SyncMetadata struct {
	StoreName    string `json:"storeName"`
	LastSyncedAt int64  `json:"lastSyncedAt"` // unix milliseconds
	RecordCount  int    `json:"recordCount"`
}

// LastSynced returns LastSyncedAt as a time.Time.
func (m SyncMetadata) LastSynced() time.Time {
	return time.UnixMilli(m.LastSyncedAt)
}

// GetLastSyncTime returns the last refresh time of coll in unix milliseconds.
// ok is false when the collection was never refreshed.
func (s *Store) GetLastSyncTime(ctx context.Context, coll string) (ms int64, ok bool, err error) {
	meta, err := s.GetSyncMetadata(ctx, coll)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return meta.LastSyncedAt, true, nil
}

// GetSyncMetadata returns the metadata row for coll, or ErrNotFound.
func (s *Store) GetSyncMetadata(ctx context.Context, coll string) (SyncMetadata, error) {
	db, err := s.handle()
	if err != nil {
		return SyncMetadata{}, err
	}

	m := SyncMetadata{StoreName: coll}

	err = db.QueryRowContext(ctx,
		`SELECT last_synced_at, record_count FROM sync_metadata WHERE store_name = ?`,
		coll).Scan(&m.LastSyncedAt, &m.RecordCount)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncMetadata{}, fmt.Errorf("%w: sync metadata for %s", ErrNotFound, coll)
	}

	if err != nil {
		return SyncMetadata{}, fmt.Errorf("store: reading sync metadata for %s: %w", coll, err)
	}

	return m, nil
}

// SetLastSyncTime stamps coll with the current time and record count.
func (s *Store) SetLastSyncTime(ctx context.Context, coll string, recordCount int) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		return s.setLastSyncTime(ctx, tx, coll, recordCount)
	})
}

// ListSyncMetadata returns metadata for every refreshed collection.
func (s *Store) ListSyncMetadata(ctx context.Context) ([]SyncMetadata, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT store_name, last_synced_at, record_count FROM sync_metadata ORDER BY store_name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing sync metadata: %w", err)
	}
	defer rows.Close()

	var out []SyncMetadata

	for rows.Next() {
		var m SyncMetadata
		if err := rows.Scan(&m.StoreName, &m.LastSyncedAt, &m.RecordCount); err != nil {
			return nil, fmt.Errorf("store: scanning sync metadata: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing sync metadata: %w", err)
	}

	return out, nil
}

func (s *Store) setLastSyncTime(ctx context.Context, tx *sql.Tx, coll string, recordCount int) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_metadata (store_name, last_synced_at, record_count) VALUES (?, ?, ?)
		 ON CONFLICT(store_name) DO UPDATE SET
		  last_synced_at = excluded.last_synced_at,
		  record_count = excluded.record_count`,
		coll, s.nowFunc().UnixMilli(), recordCount); err != nil {
		return fmt.Errorf("store: writing sync metadata for %s: %w", coll, err)
	}

	return nil
}
