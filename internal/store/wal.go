package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"syscall"

	"github.com/axiomorient/axiomme/internal/scopedfs"
)

// The WAL footer format (magic, body length + complement, CRC32C + complement)
// is adapted verbatim from the teacher's mddb.wal — it already implements
// exactly spec.md §4.3's crash-recovery invariant ("a worker that dies...
// on restart... retries them") for an arbitrary committed-or-not body.
const (
	walMagic      = "AXWAL001"
	walFooterSize = 32
)

var walCRC32C = crc32.MakeTable(crc32.Castagnoli)

// ErrWALCorrupt indicates the WAL file has an invalid structure or checksum.
// This is a permanent failure: the WAL is JSON, so manual inspection and
// deletion (followed by reindex) is the recovery path.
var ErrWALCorrupt = errors.New("store: wal corrupt")

// ErrWALReplay indicates WAL replay failed for a reason that may be
// transient (disk full, permission error). The WAL body itself was not
// corrupt.
var ErrWALReplay = errors.New("store: wal replay")

type walState uint8

const (
	walEmpty walState = iota
	walUncommitted
	walCommitted
)

// walOpKind enumerates the mutation kinds the WAL can carry. Only the two
// multi-row, crash-sensitive commit paths named in spec.md §4.3 go through
// the WAL: outbox enqueue and search-doc upsert/prune.
type walOpKind string

const (
	walOpEnqueue    walOpKind = "enqueue"
	walOpUpsertDoc  walOpKind = "upsert_search_doc"
	walOpPruneByURI walOpKind = "prune_by_uri_prefix"
)

// walOp is one WAL-logged mutation. Payload carries the kind-specific
// arguments as JSON so a single generic footer/checksum format covers every
// op kind.
type walOp struct {
	Kind    walOpKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// readWalState inspects the WAL file to determine whether it holds a
// committed body, an uncommitted (torn) write, or nothing at all.
func readWalState(file scopedfs.File) (walState, []byte, error) {
	info, err := file.Stat()
	if err != nil {
		return walEmpty, nil, fmt.Errorf("stat wal: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return walEmpty, nil, nil
	}

	if size < walFooterSize {
		return walUncommitted, nil, nil
	}

	footer := make([]byte, walFooterSize)

	if _, err := file.Seek(size-walFooterSize, io.SeekStart); err != nil {
		return walEmpty, nil, fmt.Errorf("seek wal: %w", err)
	}

	if _, err := io.ReadFull(file, footer); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return walUncommitted, nil, nil
		}

		return walEmpty, nil, fmt.Errorf("read wal footer: %w", err)
	}

	if string(footer[:8]) != walMagic {
		return walUncommitted, nil, nil
	}

	bodyLen := binary.LittleEndian.Uint64(footer[8:16])
	bodyLenInv := binary.LittleEndian.Uint64(footer[16:24])

	if ^bodyLen != bodyLenInv {
		return walUncommitted, nil, nil
	}

	crc := binary.LittleEndian.Uint32(footer[24:28])
	crcInv := binary.LittleEndian.Uint32(footer[28:32])

	if ^crc != crcInv {
		return walUncommitted, nil, nil
	}

	if bodyLen > math.MaxInt64 || int64(bodyLen) > size-walFooterSize {
		return walUncommitted, nil, nil
	}

	body := make([]byte, bodyLen)

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return walEmpty, nil, fmt.Errorf("seek wal: %w", err)
	}

	if _, err := io.ReadFull(file, body); err != nil {
		return walEmpty, nil, fmt.Errorf("read wal body: %w", err)
	}

	if checksum := crc32.Checksum(body, walCRC32C); checksum != crc {
		return walCommitted, nil, fmt.Errorf("%w: stored %d, actual %d", ErrWALCorrupt, crc, checksum)
	}

	return walCommitted, body, nil
}

func encodeWalBody(ops []walOp) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return nil, fmt.Errorf("encode wal op: %w", err)
		}
	}

	body := buf.Bytes()

	footer := make([]byte, walFooterSize)
	copy(footer[:8], walMagic)

	bodyLen := uint64(len(body))
	binary.LittleEndian.PutUint64(footer[8:16], bodyLen)
	binary.LittleEndian.PutUint64(footer[16:24], ^bodyLen)

	crc := crc32.Checksum(body, walCRC32C)
	binary.LittleEndian.PutUint32(footer[24:28], crc)
	binary.LittleEndian.PutUint32(footer[28:32], ^crc)

	return append(body, footer...), nil
}

func decodeWalBody(body []byte) ([]walOp, error) {
	var ops []walOp

	dec := json.NewDecoder(bytes.NewReader(body))

	for {
		var op walOp

		if err := dec.Decode(&op); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("decode wal op: %w", err)
		}

		ops = append(ops, op)
	}

	return ops, nil
}

func truncateWal(file scopedfs.File) error {
	fd := file.Fd()

	if err := syscall.Ftruncate(int(fd), 0); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}

	return nil
}
