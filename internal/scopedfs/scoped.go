package scopedfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/uri"
)

// Entry describes one item returned by List.
type Entry struct {
	URI   uri.AxiomUri
	IsDir bool
}

// WriteOrigin distinguishes a write issued by the system path (the queue
// runner, the reindex pipeline) from one issued on behalf of an external
// caller, since uri.ScopePolicy.SystemOnly scopes (queue) only accept the
// former (spec.md §4.2, Failure taxonomy: PermissionDenied).
type WriteOrigin int

const (
	// OriginUser marks a write requested on behalf of an external caller.
	OriginUser WriteOrigin = iota
	// OriginSystem marks a write issued by AxiomMe's own pipeline/queue code.
	OriginSystem
)

// Scoped resolves AxiomUri values to paths under a root directory and
// enforces the scope policy and symlink-safety invariants of spec.md §4.2 on
// top of a plain FS.
type Scoped struct {
	fs      FS
	writer  *AtomicWriter
	baseDir string
}

// NewScoped creates a Scoped filesystem rooted at baseDir. baseDir must be an
// absolute, already-existing directory.
func NewScoped(fs FS, baseDir string) *Scoped {
	return &Scoped{fs: fs, writer: NewAtomicWriter(fs), baseDir: filepath.Clean(baseDir)}
}

// Resolve maps u to an absolute on-disk path under the root, without
// touching the filesystem. It fails closed: any resolved path that is not
// baseDir itself or a descendant of it is a SecurityViolation.
func (s *Scoped) Resolve(u uri.AxiomUri) (string, error) {
	rel := filepath.Join(string(u.Scope()), filepath.Join(u.Segments()...))
	full := filepath.Join(s.baseDir, rel)

	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", axerr.New(axerr.CodeSecurityViolation, "resolve", errors.New("path escapes root"), axerr.WithURI(u.String()))
	}

	return full, nil
}

// Read reads the full contents addressed by u, rejecting a symlink that
// resolves outside the root.
func (s *Scoped) Read(_ context.Context, u uri.AxiomUri) ([]byte, error) {
	path, err := s.Resolve(u)
	if err != nil {
		return nil, err
	}

	if err := s.rejectEscapingSymlink(path, u); err != nil {
		return nil, err
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, s.wrapIOErr("read", u, err)
	}

	return data, nil
}

// Write performs a direct (non-atomic) write of data to the path addressed
// by u, after checking scope policy and tier-artifact protection.
func (s *Scoped) Write(_ context.Context, u uri.AxiomUri, data []byte, origin WriteOrigin) error {
	path, err := s.checkWritable(u, origin)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return axerr.New(axerr.CodeInternalError, "write", err, axerr.WithURI(u.String()))
	}

	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return s.wrapIOErr("write", u, err)
	}

	return nil
}

// AtomicWrite writes data to a sibling temp file, fsyncs it, then renames it
// over the target (spec.md §4.2 atomic_write).
func (s *Scoped) AtomicWrite(_ context.Context, u uri.AxiomUri, data []byte, origin WriteOrigin) error {
	path, err := s.checkWritable(u, origin)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return axerr.New(axerr.CodeInternalError, "atomic_write", err, axerr.WithURI(u.String()))
	}

	if err := s.writer.WriteBytes(path, data); err != nil {
		return s.wrapIOErr("atomic_write", u, err)
	}

	return nil
}

// Rename moves the content at from to to, enforcing write policy on to.
func (s *Scoped) Rename(_ context.Context, from, to uri.AxiomUri, origin WriteOrigin) error {
	fromPath, err := s.Resolve(from)
	if err != nil {
		return err
	}

	toPath, err := s.checkWritable(to, origin)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(toPath), 0o755); err != nil {
		return axerr.New(axerr.CodeInternalError, "rename", err, axerr.WithURI(to.String()))
	}

	if err := s.fs.Rename(fromPath, toPath); err != nil {
		return s.wrapIOErr("rename", to, err)
	}

	return nil
}

// Remove deletes the content at u. If recursive is false and u addresses a
// non-empty directory, Remove fails.
func (s *Scoped) Remove(_ context.Context, u uri.AxiomUri, recursive bool, origin WriteOrigin) error {
	path, err := s.checkWritable(u, origin)
	if err != nil {
		return err
	}

	if recursive {
		err = s.fs.RemoveAll(path)
	} else {
		err = s.fs.Remove(path)
	}

	if err != nil {
		return s.wrapIOErr("remove", u, err)
	}

	return nil
}

// Mkdir creates the directory addressed by u, including any missing
// parents.
func (s *Scoped) Mkdir(_ context.Context, u uri.AxiomUri, origin WriteOrigin) error {
	path, err := s.checkWritable(u, origin)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path, 0o755); err != nil {
		return s.wrapIOErr("mkdir", u, err)
	}

	return nil
}

// List returns entries directly under u. If recursive, it descends into
// subdirectories, skipping symlinks per spec.md §4.2. If includeHidden is
// false, dotfile entries are omitted.
func (s *Scoped) List(_ context.Context, u uri.AxiomUri, recursive, includeHidden bool) ([]Entry, error) {
	rootPath, err := s.Resolve(u)
	if err != nil {
		return nil, err
	}

	var entries []Entry

	var walk func(dirPath string, dirURI uri.AxiomUri) error

	walk = func(dirPath string, dirURI uri.AxiomUri) error {
		items, err := s.fs.ReadDir(dirPath)
		if err != nil {
			return s.wrapIOErr("list", dirURI, err)
		}

		sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })

		for _, item := range items {
			name := item.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				continue
			}

			childPath := filepath.Join(dirPath, name)

			lst, err := s.fs.Lstat(childPath)
			if err != nil {
				return s.wrapIOErr("list", dirURI, err)
			}

			if lst.Mode()&os.ModeSymlink != 0 {
				continue
			}

			childURI, err := dirURI.Child(name)
			if err != nil {
				continue
			}

			isDir := item.IsDir()
			entries = append(entries, Entry{URI: childURI, IsDir: isDir})

			if isDir && recursive {
				if err := walk(childPath, childURI); err != nil {
					return err
				}
			}
		}

		return nil
	}

	if err := walk(rootPath, u); err != nil {
		return nil, err
	}

	return entries, nil
}

// ResolveForWrite runs the same policy/boundary checks AtomicWrite does and
// returns the resolved on-disk path without writing anything, so a caller
// that needs to plug in its own write mechanism (the editor commit path's
// github.com/natefinch/atomic single-file replace, spec.md §4.6) still goes
// through scope-policy and symlink-escape enforcement first.
func (s *Scoped) ResolveForWrite(u uri.AxiomUri, origin WriteOrigin) (string, error) {
	path, err := s.checkWritable(u, origin)
	if err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", axerr.New(axerr.CodeInternalError, "resolve_for_write", err, axerr.WithURI(u.String()))
	}

	return path, nil
}

// checkWritable resolves u, enforces uri.ScopePolicy (including the
// SystemOnly/queue carve-out) and tier-artifact protection, and rejects an
// escaping symlink at the target path.
func (s *Scoped) checkWritable(u uri.AxiomUri, origin WriteOrigin) (string, error) {
	policy := uri.PolicyFor(u.Scope())

	if policy.SystemOnly && origin != OriginSystem {
		return "", axerr.New(axerr.CodePermissionDenied, "write", errors.New("scope is system-only"), axerr.WithURI(u.String()))
	}

	if !policy.SystemOnly && !policy.WritableByUser && origin == OriginUser {
		return "", axerr.New(axerr.CodePermissionDenied, "write", errors.New("scope is not writable"), axerr.WithURI(u.String()))
	}

	if uri.IsTierArtifact(u.Name()) {
		return "", axerr.New(axerr.CodeForbiddenTarget, "write", errors.New("tier artifacts are read-only"), axerr.WithURI(u.String()))
	}

	path, err := s.Resolve(u)
	if err != nil {
		return "", err
	}

	if err := s.rejectEscapingSymlink(path, u); err != nil {
		return "", err
	}

	return path, nil
}

// rejectEscapingSymlink returns SecurityViolation if path itself is a
// symlink whose target resolves outside baseDir. Only the final path entry
// is checked; symlinked ancestor directories are not examined. A
// not-yet-existing path is not an error here.
func (s *Scoped) rejectEscapingSymlink(path string, u uri.AxiomUri) error {
	lst, err := s.fs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return s.wrapIOErr("stat", u, err)
	}

	if lst.Mode()&os.ModeSymlink == 0 {
		return nil
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return axerr.New(axerr.CodeSecurityViolation, "resolve", err, axerr.WithURI(u.String()))
	}

	if target != s.baseDir && !strings.HasPrefix(target, s.baseDir+string(filepath.Separator)) {
		return axerr.New(axerr.CodeSecurityViolation, "resolve", errors.New("symlink escapes root"), axerr.WithURI(u.String()))
	}

	return nil
}

func (s *Scoped) wrapIOErr(op string, u uri.AxiomUri, err error) error {
	if os.IsNotExist(err) {
		return axerr.New(axerr.CodeNotFound, op, err, axerr.WithURI(u.String()))
	}

	if os.IsPermission(err) {
		return axerr.New(axerr.CodePermissionDenied, op, err, axerr.WithURI(u.String()))
	}

	return axerr.New(axerr.CodeInternalError, op, err, axerr.WithURI(u.String()))
}
