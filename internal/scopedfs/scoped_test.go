package scopedfs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/uri"
)

func newScoped(t *testing.T) (*scopedfs.Scoped, string) {
	t.Helper()

	dir := t.TempDir()

	return scopedfs.NewScoped(scopedfs.NewReal(), dir), dir
}

func TestScoped_AtomicWrite_ThenRead(t *testing.T) {
	t.Parallel()

	s, _ := newScoped(t)
	u, err := uri.New(uri.ScopeResources, "notes", "a.md")
	require.NoError(t, err)

	require.NoError(t, s.AtomicWrite(context.Background(), u, []byte("hello"), scopedfs.OriginUser))

	got, err := s.Read(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestScoped_Write_RejectsSystemOnlyScopeFromUser(t *testing.T) {
	t.Parallel()

	s, _ := newScoped(t)
	u, err := uri.New(uri.ScopeQueue, "evt-1.json")
	require.NoError(t, err)

	err = s.Write(context.Background(), u, []byte("{}"), scopedfs.OriginUser)
	require.Error(t, err)

	var axErr *axerr.Error
	require.ErrorAs(t, err, &axErr)
	require.Equal(t, axerr.CodePermissionDenied, axErr.Code)
}

func TestScoped_Write_AllowsSystemOnlyScopeFromSystem(t *testing.T) {
	t.Parallel()

	s, _ := newScoped(t)
	u, err := uri.New(uri.ScopeQueue, "evt-1.json")
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), u, []byte("{}"), scopedfs.OriginSystem))
}

func TestScoped_Write_RejectsTierArtifact(t *testing.T) {
	t.Parallel()

	s, _ := newScoped(t)
	u, err := uri.New(uri.ScopeResources, "topic.abstract.md")
	require.NoError(t, err)

	err = s.Write(context.Background(), u, []byte("x"), scopedfs.OriginUser)
	require.Error(t, err)

	var axErr *axerr.Error
	require.ErrorAs(t, err, &axErr)
	require.Equal(t, axerr.CodeForbiddenTarget, axErr.Code)
}

func TestScoped_Resolve_StaysUnderBaseDir(t *testing.T) {
	t.Parallel()

	s, dir := newScoped(t)
	u, err := uri.New(uri.ScopeResources, "a.md")
	require.NoError(t, err)

	path, err := s.Resolve(u)
	require.NoError(t, err)
	require.True(t, path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)))
}

func TestScoped_Read_RejectsSymlinkEscapingRoot(t *testing.T) {
	t.Parallel()

	s, dir := newScoped(t)

	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.md")
	require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0o644))

	linkPath := filepath.Join(dir, string(uri.ScopeResources))
	require.NoError(t, os.MkdirAll(linkPath, 0o755))
	require.NoError(t, os.Symlink(outsideFile, filepath.Join(linkPath, "a.md")))

	u, err := uri.New(uri.ScopeResources, "a.md")
	require.NoError(t, err)

	_, err = s.Read(context.Background(), u)
	require.Error(t, err)

	var axErr *axerr.Error
	require.ErrorAs(t, err, &axErr)
	require.Equal(t, axerr.CodeSecurityViolation, axErr.Code)
}

func TestScoped_List_SkipsSymlinkEntries(t *testing.T) {
	t.Parallel()

	s, dir := newScoped(t)

	root, err := uri.New(uri.ScopeResources)
	require.NoError(t, err)

	a, err := uri.New(uri.ScopeResources, "a.md")
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), a, []byte("a"), scopedfs.OriginUser))

	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.md")
	require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outsideFile, filepath.Join(dir, string(uri.ScopeResources), "link.md")))

	entries, err := s.List(context.Background(), root, false, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.md", entries[0].URI.Name())
}
