// Package reconcile implements drift detection and repair between the
// filesystem, the durable search_docs projection, and the in-memory index
// (spec.md §4.7 "reconcile_state").
package reconcile

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/axiomorient/axiomme/internal/index"
	"github.com/axiomorient/axiomme/internal/pipeline"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/store"
	"github.com/axiomorient/axiomme/internal/uri"
)

// DriftClass is the closed set of drift kinds reconcile_state detects
// (spec.md §4.7 step 2).
type DriftClass string

const (
	// DriftMissingOnDisk is a search_docs/index entry with no backing file.
	DriftMissingOnDisk DriftClass = "missing_on_disk"
	// DriftMissingInIndex is a file present on disk absent from search_docs.
	DriftMissingInIndex DriftClass = "missing_in_index"
	// DriftStaleContent is a file whose on-disk content hash no longer
	// matches the durable projection. Content-hash comparison only covers
	// the untruncated case: a SearchDoc row with Truncated=true cannot be
	// compared byte-for-byte against the live file's full hash, so such rows
	// are skipped by the comparison: they are never reported as stale and
	// never reindexed by it.
	DriftStaleContent DriftClass = "stale_content"
)

// Finding is one piece of drift evidence.
type Finding struct {
	URI   string
	Class DriftClass
}

// Reconciler compares filesystem state against the durable/memory
// projections for a set of scopes and optionally repairs drift.
type Reconciler struct {
	FS       *scopedfs.Scoped
	Store    *store.Store
	Index    *index.Index
	Pipeline *pipeline.Pipeline
}

// New constructs a Reconciler over already-open components.
func New(fs *scopedfs.Scoped, st *store.Store, idx *index.Index, pl *pipeline.Pipeline) *Reconciler {
	return &Reconciler{FS: fs, Store: st, Index: idx, Pipeline: pl}
}

// Report summarizes one reconcile_state invocation.
type Report struct {
	RunID    string
	Findings []Finding
	Fixed    int
}

// Reconcile inventories each scope's filesystem subtree, compares it against
// search_docs and the in-memory index, computes drift, and (unless dryRun)
// repairs it: prunes missing-on-disk entries, and synchronously reindexes
// (through the pipeline) the parent subtree of each stale-content or
// missing-in-index file; no outbox event is enqueued. Every invocation is
// recorded in
// reconcile_runs (spec.md §4.7 steps 1-3).
func (r *Reconciler) Reconcile(ctx context.Context, scopes []uri.Scope, dryRun bool, maxDriftSample int, now time.Time) (Report, error) {
	runID := newRunID(now)

	scopeNames := make([]string, 0, len(scopes))
	for _, s := range scopes {
		scopeNames = append(scopeNames, string(s))
	}

	if err := r.Store.StartReconcileRun(ctx, runID, dryRun, scopeNames, now); err != nil {
		return Report{}, err
	}

	var allFindings []Finding

	for _, scope := range scopes {
		findings, err := r.reconcileScope(ctx, scope, dryRun, now)
		if err != nil {
			_ = r.Store.FinishReconcileRun(ctx, runID, len(allFindings), 0, store.ReconcileRunFailed, now)
			return Report{}, err
		}

		allFindings = append(allFindings, findings...)
	}

	sampled := allFindings
	if maxDriftSample > 0 && len(sampled) > maxDriftSample {
		sampled = sampled[:maxDriftSample]
	}

	fixed := 0
	if !dryRun {
		fixed = len(allFindings)
	}

	if err := r.Store.FinishReconcileRun(ctx, runID, len(allFindings), fixed, store.ReconcileRunCompleted, now); err != nil {
		return Report{}, err
	}

	return Report{RunID: runID, Findings: sampled, Fixed: fixed}, nil
}

func (r *Reconciler) reconcileScope(ctx context.Context, scope uri.Scope, dryRun bool, now time.Time) ([]Finding, error) {
	root, err := uri.New(scope)
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]bool)

	entries, err := r.FS.List(ctx, root, true, false)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir {
			onDisk[e.URI.String()] = true
		}
	}

	docs, err := r.Store.LoadAllSearchDocs(ctx)
	if err != nil {
		return nil, err
	}

	var findings []Finding

	seenInDocs := make(map[string]bool)

	for _, doc := range docs {
		if !uri.PathPrefixMatch(doc.URI, root.String()) && doc.URI != root.String() {
			continue
		}

		seenInDocs[doc.URI] = true

		if !doc.IsLeaf {
			continue
		}

		if !onDisk[doc.URI] {
			findings = append(findings, Finding{URI: doc.URI, Class: DriftMissingOnDisk})

			if !dryRun {
				if err := r.Store.PruneByURIPrefix(ctx, doc.URI); err != nil {
					return nil, err
				}

				r.Index.Remove(doc.URI)
			}

			continue
		}

		if doc.Truncated {
			continue
		}

		u, parseErr := uri.Parse(doc.URI)
		if parseErr != nil {
			continue
		}

		content, readErr := r.FS.Read(ctx, u)
		if readErr != nil {
			continue
		}

		if hashOf(content) != hashOf([]byte(doc.Content)) {
			findings = append(findings, Finding{URI: doc.URI, Class: DriftStaleContent})

			if !dryRun {
				if parent, ok := u.Parent(); ok {
					if _, err := r.Pipeline.ReindexURITree(ctx, parent, now); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for diskURI := range onDisk {
		if seenInDocs[diskURI] {
			continue
		}

		findings = append(findings, Finding{URI: diskURI, Class: DriftMissingInIndex})

		if !dryRun {
			u, parseErr := uri.Parse(diskURI)
			if parseErr != nil {
				continue
			}

			parent, ok := u.Parent()
			if !ok {
				parent = root
			}

			if _, err := r.Pipeline.ReindexURITree(ctx, parent, now); err != nil {
				return nil, err
			}
		}
	}

	return findings, nil
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newRunID(now time.Time) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)

	return now.UTC().Format("20060102T150405") + "-" + hex.EncodeToString(buf)
}
