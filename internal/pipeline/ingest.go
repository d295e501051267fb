package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/store"
	"github.com/axiomorient/axiomme/internal/uri"
)

// AddResourceRequest is add_resource's input (spec.md §4.6 "Ingest
// contract").
type AddResourceRequest struct {
	Source        string // absolute OS path to a file or directory
	TargetRoot    uri.AxiomUri
	SessionID     string
	Wait          bool
	Timeout       time.Duration
	MarkdownOnly  bool
	IncludeHidden bool
	ExcludeGlob   string
}

// AddResourceResult is add_resource's output.
type AddResourceResult struct {
	StagedCount   int
	FinalizedRoot string
	EnqueuedCount int
	Drained       bool
	QueueStatus   map[store.Lane]store.LaneStatus
}

// Ingest implements add_resource: stage the external source into a temp
// subtree, atomically finalize-rename it into target_root, enqueue
// reindex/semantic events per affected parent subtree, and optionally drain
// the queue synchronously (spec.md §4.6 "Ingest contract").
func (p *Pipeline) Ingest(ctx context.Context, req AddResourceRequest, now time.Time) (AddResourceResult, error) {
	if err := validateIngestTarget(req.TargetRoot); err != nil {
		return AddResourceResult{}, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	stagingRoot, err := uri.New(uri.Scope("temp"), "ingest", sessionID)
	if err != nil {
		return AddResourceResult{}, axerr.New(axerr.CodeInvalidURI, "add_resource", err)
	}

	info, err := os.Lstat(req.Source)
	if err != nil {
		return AddResourceResult{}, axerr.New(axerr.CodeInternalError, "add_resource", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return AddResourceResult{}, axerr.New(axerr.CodeSecurityViolation, "add_resource", errors.New("source is a symlink"))
	}

	staged, finalName, err := p.stageSource(ctx, req, stagingRoot, info)
	if err != nil {
		return AddResourceResult{}, err
	}

	finalizedRoot, err := p.finalizeInto(ctx, stagingRoot, req.TargetRoot, finalName, info.IsDir())
	if err != nil {
		return AddResourceResult{}, err
	}

	affectedParents := affectedParentSet(finalizedRoot, staged)

	enqueued := 0

	for _, parent := range affectedParents {
		eventID := newSessionID()

		payload, marshalErr := json.Marshal(map[string]string{"parent_uri": parent})
		if marshalErr != nil {
			return AddResourceResult{}, axerr.New(axerr.CodeInternalError, "add_resource", marshalErr)
		}

		if err := p.Store.Enqueue(ctx, eventID, "reindex_subtree", store.LaneSemantic, string(payload), now); err != nil {
			return AddResourceResult{}, err
		}

		enqueued++
	}

	result := AddResourceResult{
		StagedCount:   len(staged),
		FinalizedRoot: finalizedRoot.String(),
		EnqueuedCount: enqueued,
	}

	if !req.Wait {
		return result, nil
	}

	drained, status, err := p.drainWithTimeout(ctx, req.Timeout, now)
	if err != nil {
		return result, err
	}

	result.Drained = drained
	result.QueueStatus = status

	if !drained {
		return result, axerr.New(axerr.CodeConflict, "add_resource", errors.New("queue did not drain within timeout"))
	}

	return result, nil
}

// drainWithTimeout repeatedly reindexes due outbox events synchronously
// (without a full queue.Runner) until none remain or timeout elapses, per
// spec.md §4.6 step 5 ("drain the queue synchronously (bounded replay) or
// until timeout").
func (p *Pipeline) drainWithTimeout(ctx context.Context, timeout time.Duration, now time.Time) (bool, map[store.Lane]store.LaneStatus, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		status, err := p.Store.AggregateStatus(ctx, now)
		if err != nil {
			return false, nil, err
		}

		pending := false

		for _, s := range status {
			if s.NewTotal > 0 || s.Processing > 0 {
				pending = true
			}
		}

		if !pending {
			return true, status, nil
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false, status, nil
		}

		events, err := p.Store.FetchDue(ctx, store.LaneSemantic, 16, now)
		if err != nil {
			return false, nil, err
		}

		if len(events) == 0 {
			return true, status, nil
		}

		for _, ev := range events {
			if err := p.dispatchReindexEvent(ctx, ev, now); err != nil {
				if markErr := p.Store.MarkDeadLetter(ctx, ev.EventID, err.Error(), now); markErr != nil {
					return false, nil, markErr
				}

				continue
			}

			if err := p.Store.MarkDone(ctx, ev.EventID, now); err != nil {
				return false, nil, err
			}
		}
	}
}

func (p *Pipeline) dispatchReindexEvent(ctx context.Context, ev store.QueueEvent, now time.Time) error {
	var body struct {
		ParentURI string `json:"parent_uri"`
	}

	if err := json.Unmarshal([]byte(ev.Payload), &body); err != nil {
		return err
	}

	parent, err := uri.Parse(body.ParentURI)
	if err != nil {
		return err
	}

	_, err = p.ReindexURITree(ctx, parent, now)

	return err
}

// stageSource copies req.Source into the temp staging subtree, skipping
// symlinks and excluded/hidden entries (spec.md §4.6 step 2).
func (p *Pipeline) stageSource(ctx context.Context, req AddResourceRequest, stagingRoot uri.AxiomUri, srcInfo os.FileInfo) ([]string, string, error) {
	var staged []string

	finalName := filepath.Base(req.Source)

	if srcInfo.IsDir() {
		err := filepath.Walk(req.Source, func(srcPath string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if fi.Mode()&os.ModeSymlink != 0 {
				if fi.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			rel, err := filepath.Rel(req.Source, srcPath)
			if err != nil {
				return err
			}

			if rel == "." {
				return nil
			}

			if !req.IncludeHidden && isHiddenRel(rel) {
				if fi.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			if req.ExcludeGlob != "" {
				if matched, _ := filepath.Match(req.ExcludeGlob, filepath.Base(rel)); matched {
					if fi.IsDir() {
						return filepath.SkipDir
					}

					return nil
				}
			}

			if fi.IsDir() {
				return nil
			}

			if req.MarkdownOnly && filepath.Ext(rel) != ".md" {
				return nil
			}

			target, err := childFromRelPath(stagingRoot, rel)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(srcPath)
			if err != nil {
				return err
			}

			if err := p.FS.Write(ctx, target, data, scopedfs.OriginSystem); err != nil {
				return err
			}

			staged = append(staged, target.String())

			return nil
		})
		if err != nil {
			return nil, "", axerr.New(axerr.CodeInternalError, "add_resource", err)
		}

		sort.Strings(staged)

		return staged, finalName, nil
	}

	data, err := os.ReadFile(req.Source)
	if err != nil {
		return nil, "", axerr.New(axerr.CodeInternalError, "add_resource", err)
	}

	target, err := stagingRoot.Child(finalName)
	if err != nil {
		return nil, "", axerr.New(axerr.CodeInvalidURI, "add_resource", err)
	}

	if err := p.FS.Write(ctx, target, data, scopedfs.OriginSystem); err != nil {
		return nil, "", err
	}

	staged = append(staged, target.String())

	return staged, finalName, nil
}

// finalizeInto renames the staged subtree from stagingRoot into targetRoot,
// preserving structure for a directory source or the filename for a file
// source (spec.md §4.6 step 3).
func (p *Pipeline) finalizeInto(ctx context.Context, stagingRoot, targetRoot uri.AxiomUri, finalName string, sourceWasDir bool) (uri.AxiomUri, error) {
	if sourceWasDir {
		dest, err := targetRoot.Child(finalName)
		if err != nil {
			return uri.AxiomUri{}, axerr.New(axerr.CodeInvalidURI, "add_resource", err)
		}

		if err := p.FS.Rename(ctx, stagingRoot, dest, scopedfs.OriginSystem); err != nil {
			return uri.AxiomUri{}, err
		}

		return dest, nil
	}

	src, err := stagingRoot.Child(finalName)
	if err != nil {
		return uri.AxiomUri{}, axerr.New(axerr.CodeInvalidURI, "add_resource", err)
	}

	dest, err := targetRoot.Child(finalName)
	if err != nil {
		return uri.AxiomUri{}, axerr.New(axerr.CodeInvalidURI, "add_resource", err)
	}

	if err := p.FS.Rename(ctx, src, dest, scopedfs.OriginSystem); err != nil {
		return uri.AxiomUri{}, err
	}

	return dest, nil
}

// affectedParentSet returns the deduplicated, sorted set of parent URIs that
// must be re-reindexed after finalize: the finalized root itself, plus each
// staged entry's parent directory if different.
func affectedParentSet(finalizedRoot uri.AxiomUri, staged []string) []string {
	set := map[string]struct{}{finalizedRoot.String(): {}}

	for _, s := range staged {
		u, err := uri.Parse(s)
		if err != nil {
			continue
		}

		if parent, ok := u.Parent(); ok {
			set[parent.String()] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func childFromRelPath(root uri.AxiomUri, rel string) (uri.AxiomUri, error) {
	cur := root

	for _, seg := range splitRel(rel) {
		next, err := cur.Child(seg)
		if err != nil {
			return uri.AxiomUri{}, err
		}

		cur = next
	}

	return cur, nil
}

func splitRel(rel string) []string {
	clean := filepath.ToSlash(filepath.Clean(rel))

	var segs []string

	for _, seg := range strings.Split(clean, "/") {
		if seg == "" || seg == "." {
			continue
		}

		segs = append(segs, seg)
	}

	return segs
}

func isHiddenRel(rel string) bool {
	for _, seg := range splitRel(rel) {
		if len(seg) > 0 && seg[0] == '.' {
			return true
		}
	}

	return false
}

func validateIngestTarget(target uri.AxiomUri) error {
	if target.IsZero() {
		return axerr.New(axerr.CodeInvalidURI, "add_resource", errors.New("target_root is required"))
	}

	policy := uri.PolicyFor(target.Scope())
	if !policy.WritableByUser {
		return axerr.New(axerr.CodePermissionDenied, "add_resource", errors.New("target_root scope is not writable"), axerr.WithURI(target.String()))
	}

	return nil
}

func newSessionID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}
