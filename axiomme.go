// Package axiomme wires the URI/scope model, the Scoped Filesystem, the
// State Store, the in-memory Index, the ingest/reindex/editor Pipeline, the
// Queue Runner, and the Reconciler into the Runtime that implements
// spec.md §6's Core API.
package axiomme

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/index"
	"github.com/axiomorient/axiomme/internal/ovpack"
	"github.com/axiomorient/axiomme/internal/pipeline"
	"github.com/axiomorient/axiomme/internal/queue"
	"github.com/axiomorient/axiomme/internal/reconcile"
	"github.com/axiomorient/axiomme/internal/retrieval"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/store"
	"github.com/axiomorient/axiomme/internal/uri"
)

// Runtime is the top-level AxiomMe handle, owning every wired component
// (spec.md §2 "System Overview": the core composes leaves-first).
type Runtime struct {
	Config Config

	FS         *scopedfs.Scoped
	Store      *store.Store
	Index      *index.Index
	Pipeline   *pipeline.Pipeline
	Queue      *queue.Runner
	Reconciler *reconcile.Reconciler
}

// reindexSubtreePayload mirrors the payload internal/pipeline.Ingest enqueues
// under event_type "reindex_subtree".
type reindexSubtreePayload struct {
	ParentURI string `json:"parent_uri"`
}

// allExternalScopes lists the external scopes a fresh or fingerprint-changed
// store must rebuild from disk (spec.md §3: internal scopes temp/queue hold
// no user-facing documents to index).
var allExternalScopes = []uri.Scope{uri.ScopeResources, uri.ScopeUser, uri.ScopeAgent, uri.ScopeSession}

// Open initializes a Runtime rooted at cfg.BaseDir: it opens the Scoped
// Filesystem, the State Store (recovering any WAL left by a prior crash),
// rebuilds the in-memory index from search_docs (or does a full reindex if
// the schema/profile fingerprint changed), and registers the queue dispatch
// handler for reindex events (spec.md §6 "initialize(root)").
func Open(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, axerr.New(axerr.CodeValidationFailed, "initialize", err)
	}

	real := scopedfs.NewReal()
	fs := scopedfs.NewScoped(real, cfg.BaseDir)

	dbPath := filepath.Join(cfg.BaseDir, ".axiomme_state.sqlite3")

	stamp := store.IndexProfileStamp{
		SearchStackVersion: cfg.SearchStackVersion,
		EmbedderProvider:   cfg.EmbedderProvider,
		EmbedderVersion:    cfg.EmbedderVersion,
		EmbedderDim:        cfg.EmbedderDim,
		VectorBackend:      cfg.VectorBackend,
	}

	st, err := store.Open(ctx, real, dbPath, stamp)
	reindexRequired := errors.Is(err, store.ErrReindexRequired)

	if err != nil && !reindexRequired {
		return nil, axerr.New(axerr.CodeInternalError, "initialize", err)
	}

	idx := index.New()

	if !reindexRequired {
		docs, loadErr := st.LoadAllSearchDocs(ctx)
		if loadErr != nil {
			_ = st.Close()
			return nil, axerr.New(axerr.CodeInternalError, "initialize", loadErr)
		}

		for _, doc := range docs {
			idx.Upsert(docToRecord(doc))
		}
	}

	pl := pipeline.New(fs, st, idx)

	if reindexRequired {
		for _, scope := range allExternalScopes {
			root, rootErr := uri.New(scope)
			if rootErr != nil {
				continue
			}

			if _, reindexErr := pl.ReindexURITree(ctx, root, time.Now()); reindexErr != nil && !axerr.Is(reindexErr, axerr.CodeNotFound) {
				_ = st.Close()
				return nil, axerr.New(axerr.CodeInternalError, "initialize", reindexErr)
			}
		}
	}

	qr := queue.New(st)
	qr.Register("reindex_subtree", func(ctx context.Context, ev store.QueueEvent, now time.Time) error {
		var body reindexSubtreePayload
		if err := json.Unmarshal([]byte(ev.Payload), &body); err != nil {
			return axerr.New(axerr.CodeValidationFailed, "queue_dispatch", err)
		}

		parent, err := uri.Parse(body.ParentURI)
		if err != nil {
			return axerr.New(axerr.CodeInvalidURI, "queue_dispatch", err)
		}

		_, err = pl.ReindexURITree(ctx, parent, now)

		return err
	})

	rec := reconcile.New(fs, st, idx, pl)

	return &Runtime{
		Config:     cfg,
		FS:         fs,
		Store:      st,
		Index:      idx,
		Pipeline:   pl,
		Queue:      qr,
		Reconciler: rec,
	}, nil
}

// Close releases the State Store's handles.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

func docToRecord(doc store.SearchDoc) index.Record {
	return index.Record{
		URI:       doc.URI,
		ParentURI: doc.ParentURI,
		IsLeaf:    doc.IsLeaf,
		Name:      doc.Name,
		Depth:     doc.Depth,
		Mime:      doc.Mime,
		Tags:      doc.Tags,
		Abstract:  doc.Abstract,
		Content:   doc.Content,
		Truncated: doc.Truncated,
		UpdatedAt: doc.UpdatedAt.Unix(),
	}
}

// AddResource implements add_resource (spec.md §6), logging the operation to
// request_logs.
func (r *Runtime) AddResource(ctx context.Context, req pipeline.AddResourceRequest, now time.Time) (pipeline.AddResourceResult, error) {
	requestID := newRequestID()

	result, err := r.Pipeline.Ingest(ctx, req, now)

	r.logRequest(ctx, requestID, "add_resource", req.TargetRoot.String(), now, err)

	return result, err
}

// Ls implements ls (spec.md §6).
func (r *Runtime) Ls(ctx context.Context, u uri.AxiomUri, recursive bool) ([]scopedfs.Entry, error) {
	return r.FS.List(ctx, u, recursive, false)
}

// Read implements read (spec.md §6).
func (r *Runtime) Read(ctx context.Context, u uri.AxiomUri) ([]byte, error) {
	return r.FS.Read(ctx, u)
}

// SaveDocument implements save_document (spec.md §6), logging the operation
// to request_logs.
func (r *Runtime) SaveDocument(ctx context.Context, req pipeline.SaveDocumentRequest, now time.Time) (pipeline.SaveDocumentResult, error) {
	requestID := newRequestID()

	result, err := r.Pipeline.SaveDocument(ctx, req, now)

	r.logRequest(ctx, requestID, "save_document", req.URI.String(), now, err)

	return result, err
}

// Find implements find (spec.md §6), recording a trace row linked to the
// request log.
func (r *Runtime) Find(ctx context.Context, req retrieval.Request, now time.Time) retrieval.FindResult {
	requestID := newRequestID()

	result := retrieval.Find(r.Index, req, now)

	r.logRequest(ctx, requestID, "find", req.TargetURI, now, nil)
	r.logTrace(ctx, requestID, result, now)

	return result
}

// Search implements search (spec.md §6): identical to Find, but the request
// is expected to already carry session hints (req.SessionHints) folded in by
// the caller.
func (r *Runtime) Search(ctx context.Context, req retrieval.Request, now time.Time) retrieval.FindResult {
	requestID := newRequestID()

	result := retrieval.Find(r.Index, req, now)

	r.logRequest(ctx, requestID, "search", req.TargetURI, now, nil)
	r.logTrace(ctx, requestID, result, now)

	return result
}

// ExportOVPack implements export_ovpack (spec.md §6).
func (r *Runtime) ExportOVPack(ctx context.Context, root uri.AxiomUri, destPath string) (ovpack.ExportResult, error) {
	return ovpack.ExportOVPack(ctx, r.FS, root, destPath)
}

// ImportOVPack implements import_ovpack (spec.md §6).
func (r *Runtime) ImportOVPack(ctx context.Context, srcPath string, force bool) (ovpack.ImportResult, error) {
	return ovpack.ImportOVPack(ctx, r.FS, srcPath, force)
}

// QueueStatus implements queue.status() (spec.md §6).
func (r *Runtime) QueueStatus(ctx context.Context, now time.Time) (map[store.Lane]store.LaneStatus, error) {
	return r.Store.AggregateStatus(ctx, now)
}

// QueueReplay implements the runner's replay(limit) mode.
func (r *Runtime) QueueReplay(ctx context.Context, limit int, now time.Time) (queue.Cycle, error) {
	return r.Queue.Replay(ctx, limit, now)
}

// QueueWork implements the runner's work(iterations, sleep_ms, limit) mode.
func (r *Runtime) QueueWork(ctx context.Context, iterations int, sleep time.Duration, limit int) (queue.Cycle, error) {
	return r.Queue.Work(ctx, iterations, sleep, limit, time.Now)
}

// QueueDaemon implements the runner's daemon(max_cycles, idle_cycles,
// sleep_ms) mode.
func (r *Runtime) QueueDaemon(ctx context.Context, maxCycles, idleCycles int, sleep time.Duration) (queue.Cycle, error) {
	return r.Queue.Daemon(ctx, maxCycles, idleCycles, sleep, time.Now)
}

// Reconcile implements reconcile_state (spec.md §6, §4.7).
func (r *Runtime) Reconcile(ctx context.Context, scopes []uri.Scope, dryRun bool, maxDriftSample int, now time.Time) (reconcile.Report, error) {
	return r.Reconciler.Reconcile(ctx, scopes, dryRun, maxDriftSample, now)
}

func (r *Runtime) logRequest(ctx context.Context, requestID, operation, targetURI string, startedAt time.Time, opErr error) {
	status := "ok"
	if opErr != nil {
		status = "error"
	}

	_ = r.Store.InsertRequestLog(ctx, store.RequestLog{
		RequestID:  requestID,
		Operation:  operation,
		StartedAt:  startedAt,
		DurationMs: time.Since(startedAt).Milliseconds(),
		StatusCode: status,
		URI:        targetURI,
	})
}

func (r *Runtime) logTrace(ctx context.Context, requestID string, result retrieval.FindResult, now time.Time) {
	plan, err := json.Marshal(result.QueryPlan.Notes)
	if err != nil {
		plan = []byte("[]")
	}

	_ = r.Store.InsertTrace(ctx, store.TraceRecord{
		TraceID:       result.Trace.TraceID,
		RequestID:     requestID,
		QueryPlan:     string(plan),
		StopReason:    result.Trace.StopReason,
		ExploredNodes: result.Trace.ExploredNodes,
		CreatedAt:     now,
	})
}

func newRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}
