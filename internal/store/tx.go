package store

import (
	"context"
	"database/sql"
	"fmt"
)

// applyFn performs the SQL-side effect of a single walOp inside tx.
type applyFn func(ctx context.Context, tx *sql.Tx, op walOp) error

// withWALTx durably commits ops: it writes the encoded ops to the WAL file
// and fsyncs it, applies each op to SQLite inside one transaction, commits,
// then truncates the WAL. If the process dies between the WAL fsync and the
// truncate, recoverWAL replays the committed body on the next Open (spec.md
// §4.3 crash safety).
func (s *Store) withWALTx(ctx context.Context, ops []walOp, apply applyFn) error {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	flock, err := s.locker.Lock(ctx, s.lockPath)
	if err != nil {
		return fmt.Errorf("lock wal: %w", err)
	}
	defer flock.Close()

	body, err := encodeWalBody(ops)
	if err != nil {
		return err
	}

	if _, err := s.walFile.Seek(0, 0); err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}

	if _, err := s.walFile.Write(body); err != nil {
		return fmt.Errorf("write wal: %w", err)
	}

	if err := s.walFile.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}

	if err := s.applyOpsToSQLite(ctx, ops, apply); err != nil {
		return err
	}

	return truncateWal(s.walFile)
}

func (s *Store) applyOpsToSQLite(ctx context.Context, ops []walOp, apply applyFn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, op := range ops {
		if err := apply(ctx, tx, op); err != nil {
			return fmt.Errorf("apply %s: %w", op.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	committed = true

	return nil
}

// recoverWAL replays any WAL body left behind by a crash between the fsync
// and the truncate in withWALTx. Must be called under walMu, before any
// caller-visible operation, per spec.md §4.3. It also takes the cross-process
// flock so a concurrently starting process cannot replay the same WAL body
// twice.
func (s *Store) recoverWAL(ctx context.Context) error {
	flock, err := s.locker.Lock(ctx, s.lockPath)
	if err != nil {
		return fmt.Errorf("lock wal for recovery: %w", err)
	}
	defer flock.Close()

	state, body, err := readWalState(s.walFile)
	if err != nil {
		return err
	}

	switch state {
	case walEmpty:
		return nil
	case walUncommitted:
		return truncateWal(s.walFile)
	case walCommitted:
		ops, err := decodeWalBody(body)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWALReplay, err)
		}

		if err := s.applyOpsToSQLite(ctx, ops, s.applyWALOp); err != nil {
			return fmt.Errorf("%w: %w", ErrWALReplay, err)
		}

		return truncateWal(s.walFile)
	default:
		return fmt.Errorf("unknown wal state %d", state)
	}
}
