package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCheckpointNotFound is returned by GetSessionCheckpoint when no
// checkpoint exists for the given session URI.
var ErrCheckpointNotFound = errors.New("store: session checkpoint not found")

// GetSessionCheckpoint reads the last stored checkpoint for sessionURI, used
// to resume or archive a session (spec.md §3 Lifecycles: "Session").
func (s *Store) GetSessionCheckpoint(ctx context.Context, sessionURI string) (string, error) {
	var checkpoint string

	err := s.db.QueryRowContext(ctx, `
		SELECT checkpoint FROM session_checkpoints WHERE session_uri = ?
	`, sessionURI).Scan(&checkpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCheckpointNotFound
	}

	if err != nil {
		return "", fmt.Errorf("store: get_session_checkpoint: %w", err)
	}

	return checkpoint, nil
}

// SetSessionCheckpoint durably stores checkpoint for sessionURI.
func (s *Store) SetSessionCheckpoint(ctx context.Context, sessionURI, checkpoint string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_checkpoints (session_uri, checkpoint, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_uri) DO UPDATE SET checkpoint = excluded.checkpoint, updated_at = excluded.updated_at
	`, sessionURI, checkpoint, now.Unix())
	if err != nil {
		return fmt.Errorf("store: set_session_checkpoint: %w", err)
	}

	return nil
}

// DeleteSessionCheckpoint removes the checkpoint row for sessionURI, called
// on session delete.
func (s *Store) DeleteSessionCheckpoint(ctx context.Context, sessionURI string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_checkpoints WHERE session_uri = ?`, sessionURI)
	if err != nil {
		return fmt.Errorf("store: delete_session_checkpoint: %w", err)
	}

	return nil
}
