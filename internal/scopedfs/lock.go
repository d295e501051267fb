package scopedfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrWouldBlock is returned by TryLock/TryRLock when the lock is held by
	// another process, or by the ctx-bound variants when ctx is done before
	// the lock is acquired.
	ErrWouldBlock = errors.New("lock would block")

	// errInodeMismatch is an internal sentinel indicating the lock file was
	// replaced between open and flock. Callers should retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// Locker provides file-based locking using flock(2). The State Store uses it
// to guard its WAL checkpoint across processes (spec.md §4.3 "writers
// serialize at the file level"); see store.withWALTx and store.recoverWAL.
//
// flock locks an inode, not a pathname, so Locker verifies the inode at path
// still matches the locked descriptor before declaring success; see
// inodeMatchesPath.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker over fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs, flock: syscall.Flock}
}

// Lock represents a held file lock. Call Close to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the underlying file descriptor. Close is
// idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, syscall.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return nil
}

type lockType int

const (
	sharedLock    lockType = syscall.LOCK_SH
	exclusiveLock lockType = syscall.LOCK_EX
)

// Lock acquires an exclusive lock on path, blocking until ctx is done or the
// lock is acquired. If the file or its parent directories do not exist, they
// are created lazily. The lock is held on the inode currently at path, even
// if path is replaced while the lock is being acquired.
func (l *Locker) Lock(ctx context.Context, path string) (*Lock, error) {
	return l.lockPolling(ctx, path, exclusiveLock)
}

// RLock acquires a shared (read) lock on path, blocking until ctx is done or
// the lock is acquired. Multiple processes can hold shared locks
// simultaneously; a shared lock blocks exclusive locks and vice versa.
func (l *Locker) RLock(ctx context.Context, path string) (*Lock, error) {
	return l.lockPolling(ctx, path, sharedLock)
}

// TryLock attempts to acquire an exclusive lock without blocking, returning
// ErrWouldBlock immediately if another process holds it.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.tryOnce(path, exclusiveLock)
}

// TryRLock attempts to acquire a shared lock without blocking.
func (l *Locker) TryRLock(path string) (*Lock, error) {
	return l.tryOnce(path, sharedLock)
}

// tryOnce makes a single non-blocking acquisition attempt on path.
func (l *Locker) tryOnce(path string, lt lockType) (*Lock, error) {
	file, err := l.openLockFile(path, openFlagForLockType(lt))
	if err != nil {
		return nil, fmt.Errorf("opening lockfile: %w", err)
	}

	if err := l.acquire(file, path, lt); err != nil {
		_ = file.Close()
		return nil, err
	}

	return &Lock{file: file, flock: l.flock}, nil
}

// lockPolling acquires a lock using non-blocking flock with exponential
// backoff (1ms to 25ms), bounded by ctx. A ctx with no deadline and that is
// never canceled behaves like a single non-blocking attempt only if it is
// already done; otherwise it polls until canceled.
func (l *Locker) lockPolling(ctx context.Context, path string, lt lockType) (*Lock, error) {
	openFlag := openFlagForLockType(lt)
	backoff := time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrWouldBlock, ctx.Err())
		default:
		}

		file, err := l.openLockFile(path, openFlag)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, lt)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		retryable := errors.Is(err, ErrWouldBlock) || errors.Is(err, errInodeMismatch)
		if !retryable {
			return nil, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrWouldBlock, ctx.Err())
		case <-timer.C:
		}

		if backoff < 25*time.Millisecond {
			backoff *= 2
			if backoff > 25*time.Millisecond {
				backoff = 25 * time.Millisecond
			}
		}
	}
}

// acquire attempts to flock file non-blocking and verify the inode at path
// still matches. On failure the file is unlocked (if needed) but not closed.
func (l *Locker) acquire(file File, path string, lt lockType) error {
	fd := int(file.Fd())
	flags := int(lt) | syscall.LOCK_NB

	if err := flockRetryEINTR(l.flock, fd, flags); err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}

		return err
	}

	match, err := l.inodeMatchesPath(path, file)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, syscall.LOCK_UN)

		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, syscall.LOCK_UN)
		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

func (l *Locker) openLockFile(path string, flag int) (File, error) {
	f, err := l.fs.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath guards against the lock file being replaced (rename,
// delete+recreate) during the open-to-flock window. See the teacher's
// internal/fs.Locker.inodeMatchesPath for the full race description this
// defends against.
func (l *Locker) inodeMatchesPath(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

func openFlagForLockType(lt lockType) int {
	if lt == sharedLock {
		return os.O_RDONLY
	}

	return os.O_RDWR
}

// flockRetryEINTR wraps flock, retrying on EINTR up to a fixed cap.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}
