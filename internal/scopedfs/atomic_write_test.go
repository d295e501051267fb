package scopedfs_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/scopedfs"
)

func TestAtomicWriter_WriteBytes_CreatesFileWithContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "final.txt")

	writer := scopedfs.NewAtomicWriter(scopedfs.NewReal())
	require.NoError(t, writer.WriteBytes(target, []byte("hello world")))

	got, err := scopedfs.NewReal().ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestAtomicWriter_Write_NoTempFileLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "doc.md")

	writer := scopedfs.NewAtomicWriter(scopedfs.NewReal())
	require.NoError(t, writer.Write(target, strings.NewReader("content"), writer.DefaultOptions()))

	entries, err := scopedfs.NewReal().ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "doc.md", entries[0].Name())
}

func TestAtomicWriter_Write_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "doc.md")

	writer := scopedfs.NewAtomicWriter(scopedfs.NewReal())
	require.NoError(t, writer.WriteBytes(target, []byte("v1")))
	require.NoError(t, writer.WriteBytes(target, []byte("v2, longer content")))

	got, err := scopedfs.NewReal().ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v2, longer content", string(got))
}

func TestAtomicWriter_Write_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	writer := scopedfs.NewAtomicWriter(scopedfs.NewReal())
	err := writer.Write("", strings.NewReader("x"), writer.DefaultOptions())
	require.Error(t, err)
}
