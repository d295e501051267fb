// Package pipeline wires scopedfs, store, mdscan, and index together to
// implement ingest, reindex, and editor-save (spec.md §4.6).
package pipeline

import (
	"context"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/index"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/store"
	"github.com/axiomorient/axiomme/internal/uri"
)

// Pipeline bundles the components a reindex/ingest/editor-save operation
// needs.
type Pipeline struct {
	FS    *scopedfs.Scoped
	Store *store.Store
	Index *index.Index

	editorLock EditorLock
}

// New constructs a Pipeline over already-open components.
func New(fs *scopedfs.Scoped, st *store.Store, idx *index.Index) *Pipeline {
	return &Pipeline{FS: fs, Store: st, Index: idx}
}

// ReindexReport summarizes one reindex_uri_tree call.
type ReindexReport struct {
	VisitedCount int
	PrunedCount  int
}

// ReindexURITree walks the filesystem subtree rooted at parent
// deterministically (sorted, symlinks skipped), derives an IndexRecord per
// entry, and upserts it into the durable search_docs table then the
// in-memory index, in that write order (spec.md §4.6 "Reindex" steps 1-2).
func (p *Pipeline) ReindexURITree(ctx context.Context, parent uri.AxiomUri, now time.Time) (ReindexReport, error) {
	entries, err := p.FS.List(ctx, parent, true, false)
	if err != nil {
		return ReindexReport{}, err
	}

	report := ReindexReport{}

	parentByURI := make(map[string]string, len(entries))

	for _, e := range entries {
		parentURI := parent.String()

		if parentSeg, ok := e.URI.Parent(); ok {
			parentURI = parentSeg.String()
		}

		parentByURI[e.URI.String()] = parentURI
	}

	for _, e := range entries {
		doc, rec, raw, err := p.buildRecordForURI(ctx, e.URI, parentByURI[e.URI.String()], !e.IsDir, now)
		if err != nil {
			return report, err
		}

		if err := p.upsertOne(ctx, doc, rec, raw, now); err != nil {
			return report, err
		}

		report.VisitedCount++
	}

	if err := p.Store.SetSystemKV(ctx, "index_state:"+parent.String(), now.Format(time.RFC3339Nano)); err != nil {
		return report, err
	}

	return report, nil
}

// buildRecordForURI loads content (if leaf) and builds both the durable
// SearchDoc projection and the in-memory Record, sharing derivation so they
// never drift (spec.md invariant 1). It also returns the untruncated raw
// bytes read from disk: exact-key fingerprinting (spec.md §4.4 invariant 4,
// §8 boundary case 6) must see the full source so its bounded tail-window
// scan can still reach trailing headings beyond indexTruncationCap, even
// though the stored/indexed Content is truncated.
func (p *Pipeline) buildRecordForURI(ctx context.Context, u uri.AxiomUri, parentURI string, isLeaf bool, now time.Time) (store.SearchDoc, index.Record, []byte, error) {
	name := u.Name()

	var content, abstract string

	var raw []byte

	truncated := false

	if isLeaf {
		var err error

		raw, err = p.FS.Read(ctx, u)
		if err != nil {
			return store.SearchDoc{}, index.Record{}, nil, err
		}

		if len(raw) > indexTruncationCap {
			content = string(raw[:indexTruncationCap])
			truncated = true
		} else {
			content = string(raw)
		}
	}

	depth := len(u.Segments())

	doc := store.SearchDoc{
		URI:       u.String(),
		ParentURI: parentURI,
		IsLeaf:    isLeaf,
		Name:      name,
		Depth:     depth,
		Mime:      mimeForName(name),
		Tags:      nil,
		Abstract:  abstract,
		Content:   content,
		Truncated: truncated,
		UpdatedAt: now,
	}

	rec := index.Record{
		URI:       u.String(),
		ParentURI: parentURI,
		IsLeaf:    isLeaf,
		Name:      name,
		Depth:     depth,
		Mime:      doc.Mime,
		Tags:      nil,
		Abstract:  abstract,
		Content:   content,
		Truncated: truncated,
		UpdatedAt: now.Unix(),
	}

	return doc, rec, raw, nil
}

// upsertOne writes durable first, then memory (spec.md §4.6 "write-order
// preserved: durable first, then memory"). raw is the untruncated content
// read from disk (nil for non-leaf entries); the index builds exact-key
// fingerprints from it rather than from rec.Content so truncation never
// starves the tail-heading appendix scan.
func (p *Pipeline) upsertOne(ctx context.Context, doc store.SearchDoc, rec index.Record, raw []byte, now time.Time) error {
	if err := p.Store.UpsertSearchDoc(ctx, doc, now); err != nil {
		return axerr.New(axerr.CodeInternalError, "reindex_uri_tree", err, axerr.WithURI(doc.URI))
	}

	p.Index.UpsertWithRawContent(rec, raw)

	return nil
}

const indexTruncationCap = 32768

func mimeForName(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}

	if t := mime.TypeByExtension(ext); t != "" {
		return stripMimeParams(t)
	}

	switch strings.ToLower(ext) {
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}

func stripMimeParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		return strings.TrimSpace(t[:i])
	}

	return t
}
