package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// schemaDDL creates the eight State Store tables named in spec.md §3/§4.3.
// Unlike the teacher's mddb (one extensible "documents" table built with a
// SQLSchema column builder), every AxiomMe table has a fixed, already-known
// shape, so the DDL is written directly rather than through a generic
// builder — see DESIGN.md.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS outbox (
	event_id     TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	lane         TEXT NOT NULL CHECK (lane IN ('semantic','embedding')),
	payload      TEXT NOT NULL,
	status       TEXT NOT NULL CHECK (status IN ('New','Processing','Done','DeadLetter')),
	attempts     INTEGER NOT NULL DEFAULT 0,
	next_due_at  INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	last_error   TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(lane, status, next_due_at);

CREATE TABLE IF NOT EXISTS search_docs (
	uri          TEXT PRIMARY KEY,
	parent_uri   TEXT,
	is_leaf      INTEGER NOT NULL,
	name         TEXT NOT NULL,
	depth        INTEGER NOT NULL,
	mime         TEXT NOT NULL,
	tags         TEXT NOT NULL DEFAULT '',
	abstract     TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	truncated    INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_docs_parent ON search_docs(parent_uri);

CREATE TABLE IF NOT EXISTS index_state (
	uri_prefix      TEXT PRIMARY KEY,
	last_reindexed  INTEGER NOT NULL,
	profile_stamp   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS request_logs (
	request_id    TEXT PRIMARY KEY,
	operation     TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	status_code   TEXT NOT NULL,
	uri           TEXT
);

CREATE TABLE IF NOT EXISTS traces (
	trace_id        TEXT PRIMARY KEY,
	request_id      TEXT NOT NULL,
	query_plan      TEXT NOT NULL DEFAULT '',
	stop_reason     TEXT NOT NULL DEFAULT '',
	explored_nodes  INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_request ON traces(request_id);

CREATE TABLE IF NOT EXISTS system_kv (
	k  TEXT PRIMARY KEY,
	v  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_checkpoints (
	session_uri  TEXT PRIMARY KEY,
	checkpoint   TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reconcile_runs (
	run_id        TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER,
	dry_run       INTEGER NOT NULL,
	scopes        TEXT NOT NULL,
	drift_found   INTEGER NOT NULL DEFAULT 0,
	drift_fixed   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL CHECK (status IN ('Running','Completed','Failed'))
);
`

// schemaFingerprint hashes the DDL together with the current IndexProfileStamp
// (spec.md §3) so that a change to either the table shape or the embedder/
// vector-backend configuration forces a full reindex on Open, per spec.md
// §4.3 ("Schema-fingerprint-triggered reindex").
func schemaFingerprint(stamp IndexProfileStamp) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(schemaDDL))
	_, _ = h.Write([]byte(stamp.String()))

	// PRAGMA user_version is a signed 32-bit integer; mask off the sign bit so
	// the stored fingerprint is always representable.
	return int(h.Sum32() & 0x7fffffff)
}

// ensureSchema creates the tables if missing and reports whether a
// previously stored fingerprint (schema shape + IndexProfileStamp) differs
// from the current one, which forces a full reindex (spec.md §4.3, §9
// IndexProfileStamp invariant). A fresh database, which has no stored
// fingerprint yet, gets the current one stamped and reports no change.
func ensureSchema(ctx context.Context, db *sql.DB, stamp IndexProfileStamp) (fingerprintChanged bool, err error) {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return false, fmt.Errorf("create schema: %w", err)
	}

	want := schemaFingerprint(stamp)

	got, err := storedSchemaVersion(ctx, db)
	if err != nil {
		return false, err
	}

	if got == want {
		return false, nil
	}

	if err := setSchemaVersion(ctx, db, want); err != nil {
		return false, err
	}

	return got != 0, nil
}

// IndexProfileStamp identifies the embedder/vector-backend configuration
// active when records were indexed (spec.md §3). A mismatch against the
// stamp stored at Open time forces a full reindex.
type IndexProfileStamp struct {
	SearchStackVersion string
	EmbedderProvider   string
	EmbedderVersion    string
	EmbedderDim        int
	VectorBackend      string
}

// String renders a stable, order-independent representation used only for
// fingerprinting.
func (s IndexProfileStamp) String() string {
	return fmt.Sprintf("v=%s;provider=%s;ever=%s;dim=%d;backend=%s",
		s.SearchStackVersion, s.EmbedderProvider, s.EmbedderVersion, s.EmbedderDim, s.VectorBackend)
}
