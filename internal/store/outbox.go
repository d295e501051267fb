package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Lane partitions outbox events, per spec.md §3.
type Lane string

const (
	LaneSemantic  Lane = "semantic"
	LaneEmbedding Lane = "embedding"
)

// EventStatus is the closed set of QueueEvent status values (spec.md §3).
type EventStatus string

const (
	StatusNew        EventStatus = "New"
	StatusProcessing EventStatus = "Processing"
	StatusDone       EventStatus = "Done"
	StatusDeadLetter EventStatus = "DeadLetter"
)

// QueueEvent mirrors spec.md §3's QueueEvent entity.
type QueueEvent struct {
	EventID   string
	EventType string
	Lane      Lane
	Payload   string
	Status    EventStatus
	Attempts  int
	NextDueAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	LastError string
}

// LeaseWindow is how long a Processing row may go without an update before
// it is considered stranded (a worker died mid-processing) and reclaimed by
// the next ReclaimStranded call (queue.Runner.Replay makes one before each
// pass; FetchDue itself does not reclaim). Fixed at 90s; see SPEC_FULL.md §4.3
// and DESIGN.md (Open Question 1).
const LeaseWindow = 90 * time.Second

// MaxAttempts bounds outbox retries before an event transitions to
// DeadLetter (spec.md §4.3 "Retry/backoff").
const MaxAttempts = 8

// BackoffBase is the base duration in the deterministic exponential backoff
// formula base * 2^(attempts-1), clamped to BackoffCap.
const BackoffBase = 2 * time.Second

// BackoffCap is the maximum backoff delay between retries.
const BackoffCap = 30 * time.Minute

// Backoff computes the deterministic retry delay for the given attempt
// count (1-indexed), clamped to BackoffCap.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	shift := attempts - 1
	if shift > 32 {
		return BackoffCap
	}

	d := BackoffBase * time.Duration(math.Pow(2, float64(shift)))
	if d > BackoffCap || d <= 0 {
		return BackoffCap
	}

	return d
}

type enqueuePayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Lane      Lane   `json:"lane"`
	Payload   string `json:"payload"`
	NowUnix   int64  `json:"now_unix"`
}

func init() {
	registerWALHandler(walOpEnqueue, func(ctx context.Context, tx *sql.Tx, raw []byte) error {
		var p enqueuePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode enqueue payload: %w", err)
		}

		now := p.NowUnix
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (event_id, event_type, lane, payload, status, attempts, next_due_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, p.EventID, p.EventType, string(p.Lane), p.Payload, string(StatusNew), now, now, now)
		if err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}

		return nil
	})
}

// Enqueue inserts a new outbox event with status New, durably (spec.md
// §4.3 enqueue).
func (s *Store) Enqueue(ctx context.Context, eventID, eventType string, lane Lane, payload string, now time.Time) error {
	p := enqueuePayload{EventID: eventID, EventType: eventType, Lane: lane, Payload: payload, NowUnix: now.Unix()}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode enqueue: %w", err)
	}

	return s.withWALTx(ctx, []walOp{{Kind: walOpEnqueue, Payload: raw}}, s.applyWALOp)
}

// ReclaimStranded transitions any Processing row whose updated_at is older
// than LeaseWindow back to New, so fetch_due can retry it (spec.md §4.3
// crash safety: "a worker that dies while Processing leaves the row in
// Processing; on restart the worker reclaims...").
func (s *Store) ReclaimStranded(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-LeaseWindow).Unix()

	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`, string(StatusNew), now.Unix(), string(StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: reclaim stranded: %w", err)
	}

	n, _ := res.RowsAffected()

	return n, nil
}

// FetchDue selects up to limit New (or reclaimed) events in lane whose
// next_due_at has arrived, atomically marking them Processing and bumping
// attempts (spec.md §4.3 fetch_due). Rows are claimed in
// (next_due_at asc, event_id asc) order, so two runs over an identical
// outbox state claim events in the same sequence (spec.md §5).
func (s *Store) FetchDue(ctx context.Context, lane Lane, limit int, now time.Time) ([]QueueEvent, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: fetch_due: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, lane, payload, status, attempts, next_due_at, created_at, updated_at, last_error
		FROM outbox
		WHERE lane = ? AND status = ? AND next_due_at <= ?
		ORDER BY next_due_at ASC, event_id ASC
		LIMIT ?
	`, string(lane), string(StatusNew), now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: fetch_due: select: %w", err)
	}

	var events []QueueEvent

	for rows.Next() {
		var (
			e           QueueEvent
			laneStr     string
			statusStr   string
			nextDue     int64
			createdUnix int64
			updatedUnix int64
			lastErr     sql.NullString
		)

		if err := rows.Scan(&e.EventID, &e.EventType, &laneStr, &e.Payload, &statusStr, &e.Attempts,
			&nextDue, &createdUnix, &updatedUnix, &lastErr); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("store: fetch_due: scan: %w", err)
		}

		e.Lane = Lane(laneStr)
		e.Status = EventStatus(statusStr)
		e.NextDueAt = time.Unix(nextDue, 0)
		e.CreatedAt = time.Unix(createdUnix, 0)
		e.UpdatedAt = time.Unix(updatedUnix, 0)
		e.LastError = lastErr.String

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: fetch_due: rows: %w", err)
	}

	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("store: fetch_due: %w", err)
	}

	for i := range events {
		events[i].Attempts++
		events[i].Status = StatusProcessing
		events[i].UpdatedAt = now

		_, err := tx.ExecContext(ctx, `
			UPDATE outbox SET status = ?, attempts = ?, updated_at = ? WHERE event_id = ?
		`, string(StatusProcessing), events[i].Attempts, now.Unix(), events[i].EventID)
		if err != nil {
			return nil, fmt.Errorf("store: fetch_due: claim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: fetch_due: commit: %w", err)
	}

	committed = true

	return events, nil
}

// MarkDone transitions eventID to Done (spec.md §4.3).
func (s *Store) MarkDone(ctx context.Context, eventID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, updated_at = ? WHERE event_id = ?
	`, string(StatusDone), now.Unix(), eventID)
	if err != nil {
		return fmt.Errorf("store: mark_done: %w", err)
	}

	return checkAffected(res, "mark_done")
}

func checkAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}

	if n == 0 {
		return fmt.Errorf("store: %s: %w", op, errEventNotFound)
	}

	return nil
}

// MarkRequeue transitions eventID back to New with next_due_at pushed out by
// backoff, recording errMsg (spec.md §4.3 mark_requeue).
func (s *Store) MarkRequeue(ctx context.Context, eventID string, backoff time.Duration, errMsg string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, next_due_at = ?, updated_at = ?, last_error = ? WHERE event_id = ?
	`, string(StatusNew), now.Add(backoff).Unix(), now.Unix(), errMsg, eventID)
	if err != nil {
		return fmt.Errorf("store: mark_requeue: %w", err)
	}

	return checkAffected(res, "mark_requeue")
}

// MarkDeadLetter transitions eventID to the terminal DeadLetter status
// (spec.md §4.3 mark_dead_letter).
func (s *Store) MarkDeadLetter(ctx context.Context, eventID string, errMsg string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, updated_at = ?, last_error = ? WHERE event_id = ?
	`, string(StatusDeadLetter), now.Unix(), errMsg, eventID)
	if err != nil {
		return fmt.Errorf("store: mark_dead_letter: %w", err)
	}

	return checkAffected(res, "mark_dead_letter")
}

// LaneStatus aggregates per-lane counters (spec.md §4.3 aggregate_status).
type LaneStatus struct {
	Lane       Lane
	NewTotal   int64
	NewDue     int64
	Processing int64
	Processed  int64
	ErrorCount int64
	LastErrors []string
}

// AggregateStatus returns per-lane counters for every lane present in the
// outbox (spec.md §4.3 aggregate_status).
func (s *Store) AggregateStatus(ctx context.Context, now time.Time) (map[Lane]LaneStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lane,
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS new_total,
		       SUM(CASE WHEN status = ? AND next_due_at <= ? THEN 1 ELSE 0 END) AS new_due,
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS processing,
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS processed,
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS error_count
		FROM outbox
		GROUP BY lane
	`, string(StatusNew), string(StatusNew), now.Unix(), string(StatusProcessing), string(StatusDone), string(StatusDeadLetter))
	if err != nil {
		return nil, fmt.Errorf("store: aggregate_status: %w", err)
	}
	defer rows.Close()

	out := map[Lane]LaneStatus{}

	for rows.Next() {
		var (
			laneStr                                             string
			newTotal, newDue, processing, processed, errorCount int64
		)

		if err := rows.Scan(&laneStr, &newTotal, &newDue, &processing, &processed, &errorCount); err != nil {
			return nil, fmt.Errorf("store: aggregate_status: scan: %w", err)
		}

		ls := LaneStatus{
			Lane: Lane(laneStr), NewTotal: newTotal, NewDue: newDue,
			Processing: processing, Processed: processed, ErrorCount: errorCount,
		}

		errs, err := s.recentErrors(ctx, Lane(laneStr), 5)
		if err != nil {
			return nil, err
		}

		ls.LastErrors = errs
		out[Lane(laneStr)] = ls
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: aggregate_status: rows: %w", err)
	}

	return out, nil
}

func (s *Store) recentErrors(ctx context.Context, lane Lane, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT last_error FROM outbox
		WHERE lane = ? AND status = ? AND last_error IS NOT NULL AND last_error != ''
		ORDER BY updated_at DESC
		LIMIT ?
	`, string(lane), string(StatusDeadLetter), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent_errors: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("store: recent_errors: scan: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

var errEventNotFound = errors.New("store: event not found")
