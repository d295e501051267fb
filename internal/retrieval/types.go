// Package retrieval implements the deterministic retrieval engine (DRR):
// planner, identifier fast-path, global leaf baseline, budgeted frontier
// expansion, and finalize/sort/truncate, producing a FindResult over an
// in-memory index (spec.md §4.5).
package retrieval

import "github.com/axiomorient/axiomme/internal/index"

// Budget bounds how much work a single Find call may perform.
type Budget struct {
	MaxMS    int64
	MaxNodes int
	MaxDepth int
}

// Query is one normalized retrieval request within a Find call.
type Query struct {
	Text   string
	Scopes []string // value-sorted, deduplicated by the planner
}

// Request is the full input to Find (spec.md §4.5 "Inputs").
type Request struct {
	Queries        []Query
	TargetURI      string
	SessionHints   []string
	Limit          int
	ScoreThreshold *float64
	MinMatchTokens *int
	Filter         index.Filter
	Budget         Budget
}

// ContextHit is one ranked retrieval result, carrying enough of the
// underlying record to render without a second index lookup.
type ContextHit struct {
	URI      string
	IsLeaf   bool
	Depth    int
	Name     string
	Abstract string
	Score    float64
	Source   string // "identifier" | "baseline" | "expansion"
}

// HitBuckets are derived views over QueryResults, grouped by top-level
// scope, never an independent source of truth (spec.md §4.5).
type HitBuckets struct {
	Memories  []int
	Resources []int
	Skills    []int
}

// QueryPlan records the planner's normalized queries and any notes emitted
// along the way (backend_policy, typed_edge_enrichment, OM-hint counts).
type QueryPlan struct {
	Queries []Query
	Notes   []string
}

// Trace records engine execution metadata for observability (spec.md
// §4.5 step 4 "stop reason").
type Trace struct {
	TraceID       string
	ExploredNodes int
	ElapsedMS     int64
	StopReason    string
}

// FindResult is the full output of Find (spec.md §4.5 "Outputs").
type FindResult struct {
	QueryResults []ContextHit
	HitBuckets   HitBuckets
	QueryPlan    QueryPlan
	Trace        Trace
}
