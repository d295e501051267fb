package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by GetSystemKV when k has no stored value.
var ErrKeyNotFound = errors.New("store: key not found")

// GetSystemKV reads the value stored under k from system_kv (spec.md §3,
// used for the index profile stamp and session metadata).
func (s *Store) GetSystemKV(ctx context.Context, k string) (string, error) {
	var v string

	err := s.db.QueryRowContext(ctx, `SELECT v FROM system_kv WHERE k = ?`, k).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}

	if err != nil {
		return "", fmt.Errorf("store: get_system_kv: %w", err)
	}

	return v, nil
}

// SetSystemKV durably stores v under k, overwriting any existing value.
func (s *Store) SetSystemKV(ctx context.Context, k, v string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v
	`, k, v)
	if err != nil {
		return fmt.Errorf("store: set_system_kv: %w", err)
	}

	return nil
}

// DeleteSystemKV removes the value stored under k, if any.
func (s *Store) DeleteSystemKV(ctx context.Context, k string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM system_kv WHERE k = ?`, k)
	if err != nil {
		return fmt.Errorf("store: delete_system_kv: %w", err)
	}

	return nil
}
