package store

import (
	"context"
	"fmt"
	"time"
)

// RequestLog is one row of spec.md §3's RequestLog entity.
type RequestLog struct {
	RequestID  string
	Operation  string
	StartedAt  time.Time
	DurationMs int64
	StatusCode string
	URI        string
}

// TraceRecord is one row of spec.md §3's TraceRecord entity, carrying the
// retrieval-specific fields the DRR engine emits (query_plan notes,
// stop_reason, explored_nodes).
type TraceRecord struct {
	TraceID       string
	RequestID     string
	QueryPlan     string
	StopReason    string
	ExploredNodes int
	CreatedAt     time.Time
}

// InsertRequestLog records one completed operation.
func (s *Store) InsertRequestLog(ctx context.Context, rl RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (request_id, operation, started_at, duration_ms, status_code, uri)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rl.RequestID, rl.Operation, rl.StartedAt.Unix(), rl.DurationMs, rl.StatusCode, nullableParent(rl.URI))
	if err != nil {
		return fmt.Errorf("store: insert_request_log: %w", err)
	}

	return nil
}

// InsertTrace records one retrieval trace, linked to its request log row.
func (s *Store) InsertTrace(ctx context.Context, tr TraceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (trace_id, request_id, query_plan, stop_reason, explored_nodes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.TraceID, tr.RequestID, tr.QueryPlan, tr.StopReason, tr.ExploredNodes, tr.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: insert_trace: %w", err)
	}

	return nil
}

// PruneLogsByURIPrefix deletes request_logs rows whose uri starts with
// prefix, used by session delete (spec.md §3 Lifecycles: "delete removes...
// all prefixed index and request-log rows").
func (s *Store) PruneLogsByURIPrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM request_logs WHERE uri = ? OR uri LIKE ? ESCAPE '\'
	`, prefix, escapeLikePrefix(prefix)+"/%")
	if err != nil {
		return fmt.Errorf("store: prune_logs_by_uri_prefix: %w", err)
	}

	return nil
}
