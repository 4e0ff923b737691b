package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrQuotaExceeded is returned when a write would exceed a configured quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Get returns the value stored under key. found is false if the key is absent.
func (s *Store) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set replaces the value stored under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("set %q: %w: value is %d bytes, limit %d", key, ErrQuotaExceeded, len(value), s.maxValueBytes)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set %q: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	if s.maxTotalBytes > 0 {
		var others int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv WHERE key != ?`, key,
		).Scan(&others)
		if err != nil {
			return fmt.Errorf("set %q: measure usage: %w", key, err)
		}
		if others+int64(len(value)) > s.maxTotalBytes {
			return fmt.Errorf("set %q: %w: %d bytes in use, limit %d", key, ErrQuotaExceeded, others+int64(len(value)), s.maxTotalBytes)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set %q: commit: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Keys returns every key starting with prefix, in byte order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, ?) = ?
		ORDER BY key COLLATE BINARY ASC
	`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Size returns the total byte length of values under prefix.
func (s *Store) Size(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv
		WHERE substr(key, 1, ?) = ?
	`, utf8.RuneCountInString(prefix), prefix).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("measure %q: %w", prefix, err)
	}
	return total, nil
}
