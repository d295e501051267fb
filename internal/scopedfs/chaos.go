package scopedfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities for Chaos. Each rate is
// a float64 from 0.0 (never) to 1.0 (always); the zero value disables all
// injection. This is a condensed sibling of the teacher's pkg/fs.ChaosConfig,
// trimmed to five fault classes: open, write, sync, rename, and read. No
// test in this module uses Chaos.
type ChaosConfig struct {
	// OpenFailRate controls how often Open/Create/OpenFile fail.
	OpenFailRate float64
	// WriteFailRate controls how often File.Write fails entirely.
	WriteFailRate float64
	// SyncFailRate controls how often File.Sync fails, modeling a delayed
	// write error surfacing at fsync time after a successful Write.
	SyncFailRate float64
	// RenameFailRate controls how often FS.Rename fails, modeling the
	// finalize-rename step of ingest (spec.md §4.6) losing a race with disk
	// pressure or a crash.
	RenameFailRate float64
	// ReadFailRate controls how often File.Read and FS.ReadFile fail.
	ReadFailRate float64
}

// ChaosStats counts faults injected so far.
type ChaosStats struct {
	OpenFails   int64
	WriteFails  int64
	SyncFails   int64
	RenameFails int64
	ReadFails   int64
}

// chaosError marks an error as intentionally injected by Chaos so tests can
// tell injected failures apart from genuine filesystem errors.
type chaosError struct{ Err error }

func (e *chaosError) Error() string { return "chaos: " + e.Err.Error() }
func (e *chaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err was injected by Chaos.
func IsChaosErr(err error) bool {
	var injected *chaosError
	return errors.As(err, &injected)
}

// Chaos wraps an FS and injects random failures, for testing the queue's
// backoff/dead-letter path and the editor-save rollback path under
// crash-like conditions, without simulating a full filesystem.
type Chaos struct {
	fs     FS
	config ChaosConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	disabled atomic.Bool

	openFails   atomic.Int64
	writeFails  atomic.Int64
	syncFails   atomic.Int64
	renameFails atomic.Int64
	readFails   atomic.Int64
}

// NewChaos wraps fs with fault injection configured by cfg. seed makes the
// injected fault sequence reproducible across test runs.
func NewChaos(fsys FS, cfg ChaosConfig, seed uint64) *Chaos {
	return &Chaos{
		fs:     fsys,
		config: cfg,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetDisabled toggles fault injection. When disabled, every call passes
// through to the wrapped FS.
func (c *Chaos) SetDisabled(disabled bool) { c.disabled.Store(disabled) }

// Stats returns a snapshot of injected-fault counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:   c.openFails.Load(),
		WriteFails:  c.writeFails.Load(),
		SyncFails:   c.syncFails.Load(),
		RenameFails: c.renameFails.Load(),
		ReadFails:   c.readFails.Load(),
	}
}

func (c *Chaos) roll(rate float64) bool {
	if c.disabled.Load() || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func pathErr(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

func (c *Chaos) Open(path string) (File, error) {
	if c.roll(c.config.OpenFailRate) {
		c.openFails.Add(1)
		return nil, pathErr("open", path, syscall.EIO)
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, c: c, path: path}, nil
}

func (c *Chaos) Create(path string) (File, error) {
	if c.roll(c.config.OpenFailRate) {
		c.openFails.Add(1)
		return nil, pathErr("open", path, syscall.ENOSPC)
	}

	f, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, c: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.roll(c.config.OpenFailRate) {
		c.openFails.Add(1)

		errno := syscall.EIO
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
			errno = syscall.ENOSPC
		}

		return nil, pathErr("open", path, errno)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, c: c, path: path}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.roll(c.config.ReadFailRate) {
		c.readFails.Add(1)
		return nil, pathErr("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	if c.roll(c.config.WriteFailRate) {
		c.writeFails.Add(1)
		return pathErr("write", path, syscall.ENOSPC)
	}

	return c.fs.WriteFile(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) { return c.fs.ReadDir(path) }

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.fs.MkdirAll(path, perm) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) { return c.fs.Stat(path) }

func (c *Chaos) Lstat(path string) (os.FileInfo, error) { return c.fs.Lstat(path) }

func (c *Chaos) Exists(path string) (bool, error) { return c.fs.Exists(path) }

func (c *Chaos) Remove(path string) error { return c.fs.Remove(path) }

func (c *Chaos) RemoveAll(path string) error { return c.fs.RemoveAll(path) }

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.roll(c.config.RenameFailRate) {
		c.renameFails.Add(1)
		return &chaosError{Err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EIO}}
	}

	return c.fs.Rename(oldpath, newpath)
}

var _ FS = (*Chaos)(nil)

// chaosFile wraps an open File, injecting write/sync/read failures.
type chaosFile struct {
	f    File
	c    *Chaos
	path string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	if cf.c.roll(cf.c.config.ReadFailRate) {
		cf.c.readFails.Add(1)
		return 0, pathErr("read", cf.path, syscall.EIO)
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	if cf.c.roll(cf.c.config.WriteFailRate) {
		cf.c.writeFails.Add(1)
		return 0, pathErr("write", cf.path, syscall.ENOSPC)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error { return cf.f.Close() }

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) { return cf.f.Seek(offset, whence) }

func (cf *chaosFile) Fd() uintptr { return cf.f.Fd() }

func (cf *chaosFile) Stat() (os.FileInfo, error) { return cf.f.Stat() }

func (cf *chaosFile) Sync() error {
	if cf.c.roll(cf.c.config.SyncFailRate) {
		cf.c.syncFails.Add(1)
		return pathErr("sync", cf.path, syscall.EIO)
	}

	return cf.f.Sync()
}

func (cf *chaosFile) Chmod(mode os.FileMode) error { return cf.f.Chmod(mode) }

var _ File = (*chaosFile)(nil)

// errShortWrite mirrors io.ErrShortWrite for callers that special-case it.
var errShortWrite = fmt.Errorf("chaos: %w", io.ErrShortWrite)
