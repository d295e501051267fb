package scopedfs_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/scopedfs"
)

func TestLocker_TryLock_BlocksSecondExclusiveHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.md.lock")
	locker := scopedfs.NewLocker(scopedfs.NewReal())

	first, err := locker.TryLock(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = locker.TryLock(path)
	require.ErrorIs(t, err, scopedfs.ErrWouldBlock)
}

func TestLocker_Close_ReleasesLockForNextHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.md.lock")
	locker := scopedfs.NewLocker(scopedfs.NewReal())

	first, err := locker.TryLock(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := locker.TryLock(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestLocker_Lock_ReturnsErrWouldBlockWhenContextExpires(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.md.lock")
	locker := scopedfs.NewLocker(scopedfs.NewReal())

	held, err := locker.TryLock(path)
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, path)
	require.ErrorIs(t, err, scopedfs.ErrWouldBlock)
}

func TestLocker_RLock_AllowsMultipleReaders(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.md.lock")
	locker := scopedfs.NewLocker(scopedfs.NewReal())

	r1, err := locker.TryRLock(path)
	require.NoError(t, err)
	defer r1.Close()

	r2, err := locker.TryRLock(path)
	require.NoError(t, err)
	defer r2.Close()
}
