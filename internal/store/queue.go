package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MutationType is the kind of change a queued mutation replays.
type MutationType string

// Mutation types.
const (
	MutationCreate MutationType = "CREATE"
	MutationUpdate MutationType = "UPDATE"
	MutationDelete MutationType = "DELETE"
)

// Valid reports whether t is a known mutation type.
func (t MutationType) Valid() bool {
	switch t {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}

	return false
}

// MutationStatus is the lifecycle state of a queued mutation. Successful
// mutations are deleted, so there is no "done" state.
type MutationStatus string

// Mutation statuses.
const (
	StatusPending    MutationStatus = "pending"
	StatusProcessing MutationStatus = "processing"
	StatusFailed     MutationStatus = "failed"
	StatusConflict   MutationStatus = "conflict"
)

// QueuedMutation is one durable, ordered change awaiting replay against the
// remote backend.
type QueuedMutation struct {
	ID           string         `json:"id"`
	Type         MutationType   `json:"type"`
	Table        string         `json:"table"`
	RecordID     string         `json:"recordId"`
	Data         Record         `json:"data"`
	OriginalData Record         `json:"originalData,omitempty"`
	CreatedAt    int64          `json:"createdAt"` // unix milliseconds
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"lastError,omitempty"`
	Status       MutationStatus `json:"status"`
}

const sqlSelectMutation = `SELECT id, type, table_name, record_id, data, original_data,
	created_at, attempts, last_error, status FROM sync_queue`

// Queue rows with equal created_at keep insertion order via rowid.
const sqlOrderMutations = ` ORDER BY created_at, rowid`

// InsertMutation persists m. If m.ID is already taken a numeric suffix is
// appended until it is unique; m.ID is updated in place.
func (s *Store) InsertMutation(ctx context.Context, m *QueuedMutation) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	data, err := encodeRecord(m.Data)
	if err != nil {
		return err
	}

	original, err := encodeOptional(m.OriginalData)
	if err != nil {
		return err
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		id, err := uniqueMutationID(ctx, tx, m.ID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_queue (id, type, table_name, record_id, data, original_data,
			 created_at, attempts, last_error, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(m.Type), m.Table, m.RecordID, string(data), original,
			m.CreatedAt, m.Attempts, nullString(m.LastError), string(m.Status)); err != nil {
			return fmt.Errorf("store: inserting mutation %s: %w", id, err)
		}

		m.ID = id

		return nil
	})
}

func uniqueMutationID(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	id := base

	for n := 2; ; n++ {
		var exists int

		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sync_queue WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return id, nil
		}

		if err != nil {
			return "", fmt.Errorf("store: checking mutation id %s: %w", id, err)
		}

		id = base + "_" + strconv.Itoa(n)
	}
}

// GetMutation returns one queued mutation, or ErrNotFound.
func (s *Store) GetMutation(ctx context.Context, id string) (*QueuedMutation, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, sqlSelectMutation+` WHERE id = ?`, id)

	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mutation %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return m, nil
}

// ListMutations returns mutations with any of the given statuses (all when
// none are given) ordered oldest first.
func (s *Store) ListMutations(ctx context.Context, statuses ...MutationStatus) ([]QueuedMutation, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	query := sqlSelectMutation
	args := make([]any, 0, len(statuses))

	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}

		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}

	return queryMutations(ctx, db, query+sqlOrderMutations, args...)
}

// ListMutationsByTable returns every mutation targeting table, oldest first.
func (s *Store) ListMutationsByTable(ctx context.Context, table string) ([]QueuedMutation, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	return queryMutations(ctx, db, sqlSelectMutation+` WHERE table_name = ?`+sqlOrderMutations, table)
}

// UpdateMutation writes m's status, attempts, last error, payload and
// baseline, but only if the row is still in status from. A lost race returns
// ErrInvalidTransition.
func (s *Store) UpdateMutation(ctx context.Context, m *QueuedMutation, from MutationStatus) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	data, err := encodeRecord(m.Data)
	if err != nil {
		return err
	}

	original, err := encodeOptional(m.OriginalData)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, attempts = ?, last_error = ?, data = ?, original_data = ?
		 WHERE id = ? AND status = ?`,
		string(m.Status), m.Attempts, nullString(m.LastError), string(data), original,
		m.ID, string(from))
	if err != nil {
		return fmt.Errorf("store: updating mutation %s: %w", m.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: updating mutation %s rows affected: %w", m.ID, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: mutation %s not %s", ErrInvalidTransition, m.ID, from)
	}

	return nil
}

// DeleteMutation removes a mutation. It reports whether a row was removed.
func (s *Store) DeleteMutation(ctx context.Context, id string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: deleting mutation %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: deleting mutation %s rows affected: %w", id, err)
	}

	return rows > 0, nil
}

// ClearQueue removes every queued mutation and returns how many were removed.
func (s *Store) ClearQueue(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, fmt.Errorf("store: clearing queue: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clearing queue rows affected: %w", err)
	}

	return n, nil
}

// ResetMutations moves every mutation in status from back to pending and
// returns how many moved. When clearAttempts is set the attempt counter and
// last error are reset too.
func (s *Store) ResetMutations(ctx context.Context, from MutationStatus, clearAttempts bool) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	query := `UPDATE sync_queue SET status = 'pending' WHERE status = ?`
	if clearAttempts {
		query = `UPDATE sync_queue SET status = 'pending', attempts = 0, last_error = NULL WHERE status = ?`
	}

	result, err := db.ExecContext(ctx, query, string(from))
	if err != nil {
		return 0, fmt.Errorf("store: resetting %s mutations: %w", from, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: resetting %s mutations rows affected: %w", from, err)
	}

	return int(n), nil
}

// CountMutations returns queue depth per status. Absent statuses map to zero.
func (s *Store) CountMutations(ctx context.Context) (map[MutationStatus]int, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	counts := map[MutationStatus]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusFailed:     0,
		StatusConflict:   0,
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: counting mutations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scanning mutation count: %w", err)
		}

		counts[MutationStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: counting mutations: %w", err)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*QueuedMutation, error) {
	var (
		m         QueuedMutation
		typ       string
		status    string
		data      string
		original  sql.NullString
		lastError sql.NullString
	)

	if err := row.Scan(&m.ID, &typ, &m.Table, &m.RecordID, &data, &original,
		&m.CreatedAt, &m.Attempts, &lastError, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning mutation: %w", err)
	}

	m.Type = MutationType(typ)
	m.Status = MutationStatus(status)
	m.LastError = lastError.String

	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}

	m.Data = rec

	if original.Valid {
		m.OriginalData, err = decodeRecord([]byte(original.String))
		if err != nil {
			return nil, err
		}
	}

	return &m, nil
}

func queryMutations(ctx context.Context, db *sql.DB, query string, args ...any) ([]QueuedMutation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing mutations: %w", err)
	}
	defer rows.Close()

	var out []QueuedMutation

	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing mutations: %w", err)
	}

	return out, nil
}

func encodeOptional(r Record) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}

	raw, err := encodeRecord(r)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
