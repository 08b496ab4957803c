package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/database"
)

// SQLiteStore is a Store and EventLog backed by the node database.
// The kv and event_log tables must exist (see db.Migrate).
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE namespace = ? AND key = ?", namespace, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", namespace, key, err)
	}
	return v, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE namespace = ? AND key = ?", namespace, key,
	); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("clearing %s: %w", namespace, err)
	}
	return nil
}

// Keys implements Store.
func (s *SQLiteStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM kv WHERE namespace = ? ORDER BY key", namespace)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}
	return keys, nil
}

// AppendEvent implements EventLog.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO event_log (id, kind, gpio, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Kind, e.GPIO, e.Detail, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM event_log WHERE id NOT IN (
			SELECT id FROM event_log ORDER BY rowid DESC LIMIT ?
		)`, MaxEvents,
	); err != nil {
		return fmt.Errorf("trimming event log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event: %w", err)
	}
	return nil
}

// RecentEvents implements EventLog.
func (s *SQLiteStore) RecentEvents(ctx context.Context, n int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, gpio, detail, created_at FROM event_log
		ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.GPIO, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}
