package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openWalFile(t *testing.T, path string) *os.File {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	t.Cleanup(func() { _ = f.Close() })

	return f
}

func TestEncodeDecodeWalBody_RoundTrips(t *testing.T) {
	t.Parallel()

	ops := []walOp{
		{Kind: walOpEnqueue, Payload: json.RawMessage(`{"event_id":"e1"}`)},
		{Kind: walOpUpsertDoc, Payload: json.RawMessage(`{"uri":"axiom://resources/a.md"}`)},
	}

	body, err := encodeWalBody(ops)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wal")
	f := openWalFile(t, path)

	_, err = f.Write(body)
	require.NoError(t, err)

	state, gotBody, err := readWalState(f)
	require.NoError(t, err)
	require.Equal(t, walCommitted, state)

	gotOps, err := decodeWalBody(gotBody)
	require.NoError(t, err)
	require.Len(t, gotOps, 2)
	require.Equal(t, walOpEnqueue, gotOps[0].Kind)
	require.Equal(t, walOpUpsertDoc, gotOps[1].Kind)
}

func TestReadWalState_EmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wal")
	f := openWalFile(t, path)

	state, body, err := readWalState(f)
	require.NoError(t, err)
	require.Equal(t, walEmpty, state)
	require.Nil(t, body)
}

func TestReadWalState_TornWriteIsUncommitted(t *testing.T) {
	t.Parallel()

	ops := []walOp{{Kind: walOpEnqueue, Payload: json.RawMessage(`{}`)}}

	body, err := encodeWalBody(ops)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wal")
	f := openWalFile(t, path)

	// Simulate a crash mid-write: only the first half of the body landed.
	_, err = f.Write(body[:len(body)/2])
	require.NoError(t, err)

	state, _, err := readWalState(f)
	require.NoError(t, err)
	require.Equal(t, walUncommitted, state)
}

func TestReadWalState_ChecksumMismatchIsCorrupt(t *testing.T) {
	t.Parallel()

	ops := []walOp{{Kind: walOpEnqueue, Payload: json.RawMessage(`{"event_id":"e1"}`)}}

	body, err := encodeWalBody(ops)
	require.NoError(t, err)

	// Flip a byte in the body portion (before the footer) to break the CRC.
	body[0] ^= 0xFF

	path := filepath.Join(t.TempDir(), "wal")
	f := openWalFile(t, path)

	_, err = f.Write(body)
	require.NoError(t, err)

	_, _, err = readWalState(f)
	require.ErrorIs(t, err, ErrWALCorrupt)
}

func TestTruncateWal_ResetsToEmpty(t *testing.T) {
	t.Parallel()

	ops := []walOp{{Kind: walOpEnqueue, Payload: json.RawMessage(`{}`)}}

	body, err := encodeWalBody(ops)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wal")
	f := openWalFile(t, path)

	_, err = f.Write(body)
	require.NoError(t, err)
	require.NoError(t, truncateWal(f))

	state, _, err := readWalState(f)
	require.NoError(t, err)
	require.Equal(t, walEmpty, state)
}
