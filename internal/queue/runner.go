// Package queue implements the outbox Queue Runner (spec.md §4.7): replay,
// work, and daemon loops that claim due events from the state store and
// dispatch them by event_type.
//
// The runner is deliberately decoupled from internal/pipeline: handlers are
// registered by the caller (the root Runtime) rather than imported directly,
// so a reindex dispatch doesn't force a pipeline->queue->pipeline cycle.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/store"
)

// Handler processes one claimed event's payload. A Handler should return a
// retryable error (wrapped with axerr) for transient failures (IO, state
// conflicts) and a non-retryable error for permanent ones; see
// classifyAndApply for how the distinction is used.
type Handler func(ctx context.Context, ev store.QueueEvent, now time.Time) error

// Runner dispatches due outbox events to registered handlers (spec.md §4.7
// "Queue Runner").
type Runner struct {
	Store *store.Store

	handlers map[string]Handler
}

// New constructs a Runner over an already-open Store.
func New(st *store.Store) *Runner {
	return &Runner{Store: st, handlers: make(map[string]Handler)}
}

// Register associates eventType with h. A later Register for the same
// eventType replaces the previous handler.
func (r *Runner) Register(eventType string, h Handler) {
	r.handlers = cloneAndSet(r.handlers, eventType, h)
}

func cloneAndSet(m map[string]Handler, k string, v Handler) map[string]Handler {
	out := make(map[string]Handler, len(m)+1)
	for key, val := range m {
		out[key] = val
	}

	out[k] = v

	return out
}

// Cycle summarizes one fetch-dispatch pass.
type Cycle struct {
	Claimed    int
	Done       int
	Requeued   int
	DeadLetter int
}

// Replay performs a single bounded pass over due events in both lanes,
// dispatching up to limit events per lane (spec.md §4.7 "replay(limit)").
func (r *Runner) Replay(ctx context.Context, limit int, now time.Time) (Cycle, error) {
	if _, err := r.Store.ReclaimStranded(ctx, now); err != nil {
		return Cycle{}, err
	}

	var total Cycle

	for _, lane := range []store.Lane{store.LaneSemantic, store.LaneEmbedding} {
		c, err := r.replayLane(ctx, lane, limit, now)
		if err != nil {
			return total, err
		}

		total.Claimed += c.Claimed
		total.Done += c.Done
		total.Requeued += c.Requeued
		total.DeadLetter += c.DeadLetter
	}

	return total, nil
}

func (r *Runner) replayLane(ctx context.Context, lane store.Lane, limit int, now time.Time) (Cycle, error) {
	events, err := r.Store.FetchDue(ctx, lane, limit, now)
	if err != nil {
		return Cycle{}, err
	}

	var c Cycle

	c.Claimed = len(events)

	for _, ev := range events {
		if err := r.dispatchOne(ctx, ev, now); err != nil {
			outcome, classErr := r.classifyAndApply(ctx, ev, err, now)
			if classErr != nil {
				return c, classErr
			}

			switch outcome {
			case outcomeRequeued:
				c.Requeued++
			case outcomeDeadLetter:
				c.DeadLetter++
			}

			continue
		}

		if err := r.Store.MarkDone(ctx, ev.EventID, now); err != nil {
			return c, err
		}

		c.Done++
	}

	return c, nil
}

func (r *Runner) dispatchOne(ctx context.Context, ev store.QueueEvent, now time.Time) error {
	h, ok := r.handlers[ev.EventType]
	if !ok {
		return axerr.New(axerr.CodeValidationFailed, "queue_dispatch", errors.New("no handler registered for event_type "+ev.EventType), axerr.WithURI(ev.EventID))
	}

	return h(ctx, ev, now)
}

type outcome int

const (
	outcomeRequeued outcome = iota
	outcomeDeadLetter
)

// classifyAndApply decides retry vs dead-letter for a dispatch failure
// (spec.md §4.7: "on retryable error mark New with deterministic backoff and
// bounded max attempts; on exhausted attempts mark DeadLetter"). A
// Conflict-classified error is never retried: it signals the event is
// permanently unsatisfiable (e.g. a target that no longer exists).
func (r *Runner) classifyAndApply(ctx context.Context, ev store.QueueEvent, cause error, now time.Time) (outcome, error) {
	if axerr.Is(cause, axerr.CodeConflict) || axerr.Is(cause, axerr.CodeValidationFailed) || ev.Attempts >= store.MaxAttempts {
		if err := r.Store.MarkDeadLetter(ctx, ev.EventID, cause.Error(), now); err != nil {
			return outcomeDeadLetter, err
		}

		return outcomeDeadLetter, nil
	}

	backoff := store.Backoff(ev.Attempts)
	if err := r.Store.MarkRequeue(ctx, ev.EventID, backoff, cause.Error(), now); err != nil {
		return outcomeRequeued, err
	}

	return outcomeRequeued, nil
}

// Work runs a finite loop of up to iterations replay passes, sleeping
// after each pass that claimed events, and terminates early once an
// iteration claims nothing (spec.md §4.7 "work(iterations, sleep_ms, limit)").
func (r *Runner) Work(ctx context.Context, iterations int, sleep time.Duration, limit int, now func() time.Time) (Cycle, error) {
	var total Cycle

	for i := 0; i < iterations; i++ {
		c, err := r.Replay(ctx, limit, now())
		if err != nil {
			return total, err
		}

		total.Claimed += c.Claimed
		total.Done += c.Done
		total.Requeued += c.Requeued
		total.DeadLetter += c.DeadLetter

		if c.Claimed == 0 {
			return total, nil
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return total, nil
}

// Daemon runs replay passes until maxCycles is reached or idleCycles
// consecutive passes claim nothing, whichever comes first (spec.md §4.7
// "daemon(max_cycles, idle_cycles, sleep_ms)").
func (r *Runner) Daemon(ctx context.Context, maxCycles, idleCycles int, sleep time.Duration, now func() time.Time) (Cycle, error) {
	var total Cycle

	idle := 0

	const defaultDaemonLimit = 64

	for cycle := 0; cycle < maxCycles; cycle++ {
		c, err := r.Replay(ctx, defaultDaemonLimit, now())
		if err != nil {
			return total, err
		}

		total.Claimed += c.Claimed
		total.Done += c.Done
		total.Requeued += c.Requeued
		total.DeadLetter += c.DeadLetter

		if c.Claimed == 0 {
			idle++
			if idle >= idleCycles {
				return total, nil
			}
		} else {
			idle = 0
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return total, nil
}
