package retrieval

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/axiomorient/axiomme/internal/index"
)

const defaultBaselineSize = 50

// Find runs the deterministic retrieval engine over idx (spec.md §4.5).
func Find(idx *index.Index, req Request, now time.Time) FindResult {
	start := now

	plan := buildPlan(req)

	cutoffs := index.Cutoffs{}
	if req.ScoreThreshold != nil {
		cutoffs.ScoreThreshold = *req.ScoreThreshold
		cutoffs.HasScoreFloor = true
	}

	if req.MinMatchTokens != nil {
		cutoffs.MinMatchTokens = *req.MinMatchTokens
	}

	target := index.Target{PathPrefix: req.TargetURI}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultBaselineSize
	}

	budget := req.Budget
	if budget.MaxNodes <= 0 {
		budget.MaxNodes = 500
	}

	if budget.MaxDepth <= 0 {
		budget.MaxDepth = 8
	}

	// Step 2: identifier fast-path. trace_id is allocated only once this
	// branch is bypassed (spec.md §4.5 step 2).
	if len(plan.Queries) == 1 {
		if rec, ok := identifierMatch(idx, idx.All(), plan.Queries[0].Text, req.TargetURI); ok {
			if passesCutoffs(idx, rec.URI, cutoffs, plan.Queries[0].Text, 1.0) {
				hit := hitFromRecord(rec, 1.0, "identifier")
				results := []ContextHit{hit}

				return FindResult{
					QueryResults: results,
					HitBuckets:   buildBuckets(results),
					QueryPlan:    plan,
					Trace:        Trace{StopReason: "identifier_fast_path"},
				}
			}
		}
	}

	traceID := newTraceID()

	merged := make(map[string]ContextHit)

	// Step 3: global leaf baseline.
	for _, q := range plan.Queries {
		baseline := idx.Search(q.Text, target, defaultBaselineSize, cutoffs, start)
		for _, sr := range baseline {
			upsertBest(merged, hitFromScored(idx, sr, "baseline"))
		}
	}

	// Step 4: budgeted frontier expansion from baseline roots.
	exploredNodes := 0
	stopReason := "exhausted"

	visited := make(map[string]struct{})

	var frontier []string
	for uri := range merged {
		frontier = append(frontier, uri)
	}

	depth := 0

	for len(frontier) > 0 && depth < budget.MaxDepth {
		var next []string

		for _, uri := range frontier {
			if exploredNodes >= budget.MaxNodes {
				stopReason = "max_nodes"

				break
			}

			if budget.MaxMS > 0 && elapsedMS(start) >= budget.MaxMS {
				stopReason = "max_ms"

				break
			}

			if _, ok := visited[uri]; ok {
				continue
			}

			visited[uri] = struct{}{}
			exploredNodes++

			for _, child := range idx.ChildrenOf(uri) {
				if !child.IsLeaf {
					next = append(next, child.URI)

					continue
				}

				rec, ok := idx.Get(child.URI)
				if !ok {
					continue
				}

				for _, q := range plan.Queries {
					overlap := idx.TokenOverlapCount(child.URI, queryTokensFor(q.Text))
					if cutoffs.MinMatchTokens > 0 && overlap < cutoffs.MinMatchTokens {
						continue
					}

					score := 0.5 + 0.1*float64(overlap)
					if cutoffs.HasScoreFloor && score < cutoffs.ScoreThreshold {
						continue
					}

					upsertBest(merged, hitFromRecord(rec, score, "expansion"))
				}
			}
		}

		frontier = next
		depth++

		if exploredNodes >= budget.MaxNodes {
			stopReason = "max_nodes"

			break
		}
	}

	if depth >= budget.MaxDepth && stopReason == "exhausted" {
		stopReason = "max_depth"
	}

	// Step 6: finalize, sort, truncate.
	results := finalize(merged, limit)

	elapsed := time.Since(start)

	return FindResult{
		QueryResults: results,
		HitBuckets:   buildBuckets(results),
		QueryPlan:    plan,
		Trace: Trace{
			TraceID:       traceID,
			ExploredNodes: exploredNodes,
			ElapsedMS:     elapsed.Milliseconds(),
			StopReason:    stopReason,
		},
	}
}

func passesCutoffs(idx *index.Index, uri string, cutoffs index.Cutoffs, query string, score float64) bool {
	if cutoffs.HasScoreFloor && score < cutoffs.ScoreThreshold {
		return false
	}

	if cutoffs.MinMatchTokens > 0 {
		overlap := idx.TokenOverlapCount(uri, queryTokensFor(query))
		if overlap < cutoffs.MinMatchTokens {
			return false
		}
	}

	return true
}

func hitFromRecord(rec index.Record, score float64, source string) ContextHit {
	return ContextHit{
		URI:      rec.URI,
		IsLeaf:   rec.IsLeaf,
		Depth:    rec.Depth,
		Name:     rec.Name,
		Abstract: rec.Abstract,
		Score:    score,
		Source:   source,
	}
}

func hitFromScored(idx *index.Index, sr index.ScoredRecord, source string) ContextHit {
	rec, _ := idx.Get(sr.URI)

	return ContextHit{
		URI:      sr.URI,
		IsLeaf:   sr.IsLeaf,
		Depth:    sr.Depth,
		Name:     rec.Name,
		Abstract: rec.Abstract,
		Score:    sr.Score,
		Source:   source,
	}
}

// upsertBest keeps the max score per URI without cloning ContextHit during
// the merge (spec.md §4.5 step 5).
func upsertBest(merged map[string]ContextHit, hit ContextHit) {
	existing, ok := merged[hit.URI]
	if !ok || hit.Score > existing.Score {
		merged[hit.URI] = hit
	}
}

// finalize merges every candidate, sorts by the shared deterministic
// comparator (score descending, URI ascending), and truncates to limit
// (spec.md §4.5 step 6).
func finalize(merged map[string]ContextHit, limit int) []ContextHit {
	out := make([]ContextHit, 0, len(merged))
	for _, hit := range merged {
		out = append(out, hit)
	}

	sortHits(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

func sortHits(hits []ContextHit) {
	sort.Slice(hits, func(i, j int) bool { return hitLess(hits[i], hits[j]) })
}

func hitLess(a, b ContextHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}

	return a.URI < b.URI
}

// buildBuckets derives memories/resources/skills index views from results;
// these are never an independent source of truth (spec.md §4.5 "Outputs").
func buildBuckets(results []ContextHit) HitBuckets {
	var buckets HitBuckets

	for i, hit := range results {
		switch topLevelScope(hit.URI) {
		case "user":
			buckets.Memories = append(buckets.Memories, i)
		case "resources":
			buckets.Resources = append(buckets.Resources, i)
		case "agent":
			buckets.Skills = append(buckets.Skills, i)
		}
	}

	return buckets
}

func topLevelScope(uri string) string {
	const schemePrefix = "axiom://"

	rest := strings.TrimPrefix(uri, schemePrefix)

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest
	}

	return rest[:idx]
}

func queryTokensFor(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func newTraceID() string {
	var buf [8]byte

	_, _ = rand.Read(buf[:])

	return hex.EncodeToString(buf[:])
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
