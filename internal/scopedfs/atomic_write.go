package scopedfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrDirSync indicates the parent directory could not be synced after a
// rename. The new file is in place but durability is not guaranteed.
var ErrDirSync = errors.New("dir sync")

// AtomicWriter writes files atomically: temp file in the same directory,
// fsync, rename over the target, then fsync the parent directory. This is
// the mechanism behind FS.atomic_write (spec.md §4.2); the ingest
// pipeline's finalize step uses Scoped.Rename, not AtomicWriter.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter over fs. Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("scopedfs: fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// WriteOptions configures Write behavior.
type WriteOptions struct {
	// SyncDir controls whether the parent directory is synced after rename.
	SyncDir bool
	// Perm specifies file permissions; must be non-zero.
	Perm os.FileMode
}

// DefaultOptions returns the default write options (sync dir, mode 0o644).
func (*AtomicWriter) DefaultOptions() WriteOptions {
	return WriteOptions{SyncDir: true, Perm: 0o644}
}

// Write writes data from r to path atomically and durably.
func (w *AtomicWriter) Write(path string, r io.Reader, opts WriteOptions) error {
	if r == nil {
		panic("scopedfs: reader is nil")
	}

	if path == "" {
		return errors.New("scopedfs: path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("scopedfs: opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("scopedfs: invalid path %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createTempFile(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	cleanup := func() error {
		return errors.Join(closeFile(tmpPath, tmpFile), removeIfExists(w.fs, tmpPath))
	}

	if chmodErr := tmpFile.Chmod(opts.Perm); chmodErr != nil {
		return errors.Join(fmt.Errorf("chmod temp file %q: %w", tmpPath, chmodErr), cleanup())
	}

	if _, copyErr := io.Copy(tmpFile, r); copyErr != nil {
		return errors.Join(fmt.Errorf("write temp file %q: %w", tmpPath, copyErr), cleanup())
	}

	if syncErr := tmpFile.Sync(); syncErr != nil {
		return errors.Join(fmt.Errorf("sync temp file %q: %w", tmpPath, syncErr), cleanup())
	}

	if renameErr := w.fs.Rename(tmpPath, path); renameErr != nil {
		return errors.Join(fmt.Errorf("rename: %w", renameErr), cleanup())
	}

	cleanupErr := cleanup()

	if opts.SyncDir {
		if err := fsyncDir(w.fs, dir); err != nil {
			return errors.Join(err, cleanupErr)
		}
	}

	return nil
}

// WriteBytes is a convenience wrapper over Write using DefaultOptions.
func (w *AtomicWriter) WriteBytes(path string, data []byte) error {
	return w.Write(path, bytesReader(data), w.DefaultOptions())
}

func bytesReader(b []byte) io.Reader { return &byteSliceReader{b: b} }

type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}

	n := copy(p, r.b[r.pos:])
	r.pos += n

	return n, nil
}

const maxTempFileAttempts = 10000

var tempFileCounter atomic.Uint64

func createTempFile(fsys FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range maxTempFileAttempts {
		seq := tempFileCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fsys FS, dirPath string) error {
	dirFd, err := fsys.Open(dirPath)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	if syncErr == nil {
		return closeFile(dirPath, dirFd)
	}

	return errors.Join(ErrDirSync, fmt.Errorf("%q: %w", dirPath, syncErr), closeFile(dirPath, dirFd))
}

func closeFile(path string, file File) error {
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %q: %w", path, err)
	}

	return nil
}

func removeIfExists(fsys FS, path string) error {
	err := fsys.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
