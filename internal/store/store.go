// Package store implements the State Store (spec.md §4.3): a single
// embedded SQLite database holding the outbox, search-doc snapshots,
// index-state checkpoints, request/trace logs, system key-value pairs,
// session checkpoints, and reconcile-run records, with a JSON WAL guarding
// multi-row commits against crashes.
//
// Adapted from the teacher's pkg/mddb engine (WAL format, SQLite pragmas,
// flock-based cross-process locking), generalized from a single documents
// table to the eight tables AxiomMe needs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/axiomorient/axiomme/internal/scopedfs"
)

// Store is the State Store. A Store is safe for concurrent use: readers use
// the database's own MVCC-like WAL-mode concurrency, writers serialize via
// walMu (the mu field is not locked by any Store method) (spec.md §5: readers don't block
// writers for already-committed reads while a write is in flight is handled
// by SQLite's WAL journal mode; the additional walMu only serializes the
// WAL-protected commit path itself). Because dbPath can be opened by more
// than one process (separate CLI invocations against the same state
// database), walMu alone is not enough: withWALTx also takes locker's
// cross-process flock on lockPath before touching the WAL file, mirroring
// the teacher's lock-ordering rule (mu before flock, so goroutines block on
// the cheap in-process mutex before any of them reach the kernel) (spec.md
// §4.3 "writers serialize at the file level").
type Store struct {
	db      *sql.DB
	fs      scopedfs.FS
	walFile scopedfs.File
	walPath string

	locker   *scopedfs.Locker
	lockPath string

	walMu sync.Mutex
	mu    sync.RWMutex
}

// Open opens (creating if necessary) the State Store rooted at dbPath, whose
// WAL sidecar file lives at dbPath+".wal". It recovers any WAL left behind
// by a prior crash, then ensures the schema exists, forcing a full reindex
// signal (ErrReindexRequired) if the schema/profile fingerprint changed.
func Open(ctx context.Context, fsys scopedfs.FS, dbPath string, stamp IndexProfileStamp) (*Store, error) {
	if err := fsys.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := openSqlite(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	// spec.md "Persisted state layout" requires 0600 on POSIX; the
	// mattn/go-sqlite3 driver creates the file itself (honoring the
	// process umask), so chmod it explicitly rather than rely on umask.
	// On Windows os.Chmod only toggles the read-only attribute, which is
	// harmless here.
	if err := os.Chmod(dbPath, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: chmod db: %w", err)
	}

	walPath := dbPath + ".wal"

	walFile, err := fsys.OpenFile(walPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	lockPath := dbPath + ".lock"

	s := &Store{
		db:       db,
		fs:       fsys,
		walFile:  walFile,
		walPath:  walPath,
		locker:   scopedfs.NewLocker(fsys),
		lockPath: lockPath,
	}

	if err := s.recoverWAL(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	changed, err := ensureSchema(ctx, db, stamp)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	if changed {
		return s, ErrReindexRequired
	}

	return s, nil
}

// ErrReindexRequired is returned (alongside a usable *Store) by Open when the
// schema or IndexProfileStamp fingerprint changed since the last run,
// signaling that the caller must run a full reindex before serving reads.
var ErrReindexRequired = fmt.Errorf("store: reindex required")

// Close releases the database handle and WAL file descriptor.
func (s *Store) Close() error {
	var errs []error

	if s.walFile != nil {
		if err := s.walFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close wal: %w", err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}

	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}

	return joined
}

// applyWALOp dispatches a single WAL-logged op to its SQL-side effect.
// Registered per op kind by the outbox/searchdocs files.
func (s *Store) applyWALOp(ctx context.Context, tx *sql.Tx, op walOp) error {
	handler, ok := walApplyHandlers[op.Kind]
	if !ok {
		return fmt.Errorf("unknown wal op kind %q", op.Kind)
	}

	return handler(ctx, tx, op.Payload)
}

type walApplyHandler func(ctx context.Context, tx *sql.Tx, payload []byte) error

var walApplyHandlers = map[walOpKind]walApplyHandler{}

func registerWALHandler(kind walOpKind, h walApplyHandler) {
	walApplyHandlers[kind] = h
}
