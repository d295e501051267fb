package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/uri"
)

// editableExtensions is the closed set of extensions save_document accepts
// (spec.md §4.6 "Editor save" step 1).
var editableExtensions = map[string]bool{
	".md":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
}

// EditorLock is the in-process exclusive guard around save+reindex+rollback
// (spec.md §3 "EditorSession", §5 "Editor commit"). A sync.Mutex is
// sufficient: the invariant is single-process exclusivity, not cross-process
// locking (that is scopedfs.Locker's job, for the WAL).
type EditorLock struct {
	mu sync.Mutex
}

// TryAcquire attempts to take the lock without blocking.
func (l *EditorLock) TryAcquire() bool { return l.mu.TryLock() }

// Release releases a previously acquired lock.
func (l *EditorLock) Release() { l.mu.Unlock() }

// SaveDocumentRequest is save_document's input (spec.md §4.6, §6).
type SaveDocumentRequest struct {
	URI          uri.AxiomUri
	NewContent   []byte
	ExpectedETag string // empty means no etag guard
}

// SaveDocumentResult is save_document's output (spec.md §4.6 step 7).
type SaveDocumentResult struct {
	NewETag       string
	UpdatedAt     time.Time
	SaveMS        int64
	ReindexMS     int64
	TotalMS       int64
	ContentBytes  int
	ReindexedRoot string
}

// SaveDocument implements the editor commit protocol: validate target,
// acquire the editor lock, guard etag, atomic_write, synchronous targeted
// reindex, compensating rollback on reindex failure (spec.md §4.6 "Editor
// save").
func (p *Pipeline) SaveDocument(ctx context.Context, req SaveDocumentRequest, now time.Time) (SaveDocumentResult, error) {
	start := now

	if err := validateEditableTarget(req.URI); err != nil {
		return SaveDocumentResult{}, err
	}

	if !p.editorLock.TryAcquire() {
		return SaveDocumentResult{}, axerr.New(axerr.CodeLocked, "save_document", errors.New("editor busy"), axerr.WithURI(req.URI.String()))
	}
	defer p.editorLock.Release()

	previous, readErr := p.FS.Read(ctx, req.URI)
	existed := true

	if readErr != nil {
		if !axerr.Is(readErr, axerr.CodeNotFound) {
			return SaveDocumentResult{}, readErr
		}

		existed = false
		previous = nil
	}

	if existed || req.ExpectedETag != "" {
		currentETag := etagOf(previous)
		if req.ExpectedETag != "" && req.ExpectedETag != currentETag {
			return SaveDocumentResult{}, axerr.New(axerr.CodeConflict, "save_document", errors.New("etag mismatch"), axerr.WithURI(req.URI.String()))
		}
	}

	saveStart := time.Now()

	if err := p.atomicReplace(req.URI, req.NewContent); err != nil {
		return SaveDocumentResult{}, err
	}

	saveMS := time.Since(saveStart).Milliseconds()

	reindexRoot, ok := req.URI.Parent()
	if !ok {
		reindexRoot = req.URI
	}

	reindexStart := time.Now()

	_, reindexErr := p.ReindexURITree(ctx, reindexRoot, now)

	reindexMS := time.Since(reindexStart).Milliseconds()

	if reindexErr != nil {
		return SaveDocumentResult{}, p.rollback(ctx, req.URI, previous, existed, reindexRoot, now, reindexErr)
	}

	return SaveDocumentResult{
		NewETag:       etagOf(req.NewContent),
		UpdatedAt:     now,
		SaveMS:        saveMS,
		ReindexMS:     reindexMS,
		TotalMS:       time.Since(start).Milliseconds(),
		ContentBytes:  len(req.NewContent),
		ReindexedRoot: reindexRoot.String(),
	}, nil
}

// rollback restores previous content (or removes a file that did not exist
// before the failed save) and re-reindexes so the durable/memory projection
// matches what is actually on disk, then surfaces both outcomes (spec.md
// §4.6 step 6, §9 "Compensating rollback").
func (p *Pipeline) rollback(ctx context.Context, u uri.AxiomUri, previous []byte, existed bool, reindexRoot uri.AxiomUri, now time.Time, cause error) error {
	var rollbackErrs []string

	if existed {
		if err := p.atomicReplace(u, previous); err != nil {
			rollbackErrs = append(rollbackErrs, err.Error())
		}
	} else if err := p.FS.Remove(ctx, u, false, scopedfs.OriginUser); err != nil {
		rollbackErrs = append(rollbackErrs, err.Error())
	}

	if _, err := p.ReindexURITree(ctx, reindexRoot, now); err != nil {
		rollbackErrs = append(rollbackErrs, err.Error())
	}

	detail := "rollback_applied=true"
	if len(rollbackErrs) > 0 {
		detail = "rollback_applied=true rollback_errors=" + strings.Join(rollbackErrs, "; ")
	}

	return axerr.New(axerr.CodeInternalError, "save_document", errors.New(detail+": "+cause.Error()), axerr.WithURI(u.String()))
}

// atomicReplace writes data to the path addressed by u using
// github.com/natefinch/atomic, after running the same scope-policy and
// symlink checks scopedfs.AtomicWrite enforces (spec.md §9 "Compensating
// rollback" uses this same primitive for both the forward write and the
// restore write).
func (p *Pipeline) atomicReplace(u uri.AxiomUri, data []byte) error {
	path, err := p.FS.ResolveForWrite(u, scopedfs.OriginUser)
	if err != nil {
		return err
	}

	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return axerr.New(axerr.CodeInternalError, "atomic_replace", err, axerr.WithURI(u.String()))
	}

	return nil
}

func validateEditableTarget(u uri.AxiomUri) error {
	ext := strings.ToLower(path.Ext(u.Name()))
	if !editableExtensions[ext] {
		return axerr.New(axerr.CodeValidationFailed, "save_document",
			fmt.Errorf("unsupported extension %q", ext), axerr.WithURI(u.String()))
	}

	return nil
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
