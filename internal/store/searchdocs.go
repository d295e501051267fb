package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SearchDoc is the durable projection of an IndexRecord (spec.md §3),
// sufficient to rebuild the in-memory index on startup.
type SearchDoc struct {
	URI       string
	ParentURI string
	IsLeaf    bool
	Name      string
	Depth     int
	Mime      string
	Tags      []string
	Abstract  string
	Content   string
	Truncated bool
	UpdatedAt time.Time
}

type upsertDocPayload struct {
	URI       string   `json:"uri"`
	ParentURI string   `json:"parent_uri"`
	IsLeaf    bool     `json:"is_leaf"`
	Name      string   `json:"name"`
	Depth     int      `json:"depth"`
	Mime      string   `json:"mime"`
	Tags      []string `json:"tags"`
	Abstract  string   `json:"abstract"`
	Content   string   `json:"content"`
	Truncated bool     `json:"truncated"`
	NowUnix   int64    `json:"now_unix"`
}

func init() {
	registerWALHandler(walOpUpsertDoc, func(ctx context.Context, tx *sql.Tx, raw []byte) error {
		var p upsertDocPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode upsert_search_doc payload: %w", err)
		}

		leaf := 0
		if p.IsLeaf {
			leaf = 1
		}

		truncated := 0
		if p.Truncated {
			truncated = 1
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_docs (uri, parent_uri, is_leaf, name, depth, mime, tags, abstract, content, truncated, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET
				parent_uri = excluded.parent_uri,
				is_leaf = excluded.is_leaf,
				name = excluded.name,
				depth = excluded.depth,
				mime = excluded.mime,
				tags = excluded.tags,
				abstract = excluded.abstract,
				content = excluded.content,
				truncated = excluded.truncated,
				updated_at = excluded.updated_at
		`, p.URI, nullableParent(p.ParentURI), leaf, p.Name, p.Depth, p.Mime, strings.Join(p.Tags, ","),
			p.Abstract, p.Content, truncated, p.NowUnix)
		if err != nil {
			return fmt.Errorf("upsert search_docs: %w", err)
		}

		return nil
	})

	registerWALHandler(walOpPruneByURI, func(ctx context.Context, tx *sql.Tx, raw []byte) error {
		var p prunePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode prune_by_uri_prefix payload: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			DELETE FROM search_docs WHERE uri = ? OR uri LIKE ? ESCAPE '\'
		`, p.Prefix, escapeLikePrefix(p.Prefix)+"/%")
		if err != nil {
			return fmt.Errorf("prune search_docs: %w", err)
		}

		return nil
	})
}

type prunePayload struct {
	Prefix string `json:"prefix"`
}

func nullableParent(parent string) any {
	if parent == "" {
		return nil
	}

	return parent
}

// escapeLikePrefix escapes SQL LIKE metacharacters in prefix so it can be
// used with an ESCAPE '\' clause.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}

// UpsertSearchDoc durably stores doc, replacing any existing row for the
// same URI (spec.md §4.3 upsert_search_doc).
func (s *Store) UpsertSearchDoc(ctx context.Context, doc SearchDoc, now time.Time) error {
	p := upsertDocPayload{
		URI: doc.URI, ParentURI: doc.ParentURI, IsLeaf: doc.IsLeaf, Name: doc.Name, Depth: doc.Depth,
		Mime: doc.Mime, Tags: doc.Tags, Abstract: doc.Abstract, Content: doc.Content, Truncated: doc.Truncated,
		NowUnix: now.Unix(),
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode upsert_search_doc: %w", err)
	}

	return s.withWALTx(ctx, []walOp{{Kind: walOpUpsertDoc, Payload: raw}}, s.applyWALOp)
}

// PruneByURIPrefix durably deletes the row for prefix and every row whose
// URI is a descendant of it (spec.md §4.3 prune_by_uri_prefix).
func (s *Store) PruneByURIPrefix(ctx context.Context, prefix string) error {
	raw, err := json.Marshal(prunePayload{Prefix: prefix})
	if err != nil {
		return fmt.Errorf("store: encode prune_by_uri_prefix: %w", err)
	}

	return s.withWALTx(ctx, []walOp{{Kind: walOpPruneByURI, Payload: raw}}, s.applyWALOp)
}

// LoadAllSearchDocs loads every search-doc row, used to rebuild the
// in-memory index on startup (spec.md §4.3 load_all_search_docs).
func (s *Store) LoadAllSearchDocs(ctx context.Context) ([]SearchDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, parent_uri, is_leaf, name, depth, mime, tags, abstract, content, truncated, updated_at
		FROM search_docs
	`)
	if err != nil {
		return nil, fmt.Errorf("store: load_all_search_docs: %w", err)
	}
	defer rows.Close()

	var docs []SearchDoc

	for rows.Next() {
		var (
			d         SearchDoc
			parent    sql.NullString
			leaf      int
			tags      string
			truncated int
			updated   int64
		)

		if err := rows.Scan(&d.URI, &parent, &leaf, &d.Name, &d.Depth, &d.Mime, &tags, &d.Abstract, &d.Content, &truncated, &updated); err != nil {
			return nil, fmt.Errorf("store: load_all_search_docs: scan: %w", err)
		}

		d.ParentURI = parent.String
		d.IsLeaf = leaf != 0
		d.Truncated = truncated != 0
		d.UpdatedAt = time.Unix(updated, 0)

		if tags != "" {
			d.Tags = strings.Split(tags, ",")
		}

		docs = append(docs, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load_all_search_docs: rows: %w", err)
	}

	return docs, nil
}
