package index

import (
	"sort"
	"strings"
	"time"

	"github.com/axiomorient/axiomme/internal/mdscan"
	"github.com/axiomorient/axiomme/internal/uri"
)

// Target narrows search to a URI subtree by string prefix, matched directly
// against URI text (no per-record parse, spec.md §4.4 search invariants).
type Target struct {
	PathPrefix string
}

// Cutoffs gates which candidates Search (and the retrieval engine's other
// insertion points) accept.
type Cutoffs struct {
	ScoreThreshold float64
	MinMatchTokens int
	HasScoreFloor  bool
}

// ExactQueryKeys mirrors ExactKeys for a query string, computed once per
// search call (spec.md §4.4).
type ExactQueryKeys struct {
	RawLowerHash uint64
	CompactKey   string
	CompactLen   int
}

// BuildExactQueryKeys computes a query's exact-match keys once per call
// (spec.md §4.4 "search": raw_lower_hash, compact_key, compact_len).
func BuildExactQueryKeys(query string) ExactQueryKeys {
	compact := compactLowerQuery(query)

	return ExactQueryKeys{
		RawLowerHash: mdscan.HashLowerString(query),
		CompactKey:   compact,
		CompactLen:   len([]rune(compact)),
	}
}

func compactLowerQuery(s string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '-', '_':
			continue
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// pathPrefixMatch reports whether candidate lies under prefix, matched
// directly on URI text via uri.PathPrefixMatch (spec.md §4.4 "search").
func pathPrefixMatch(candidate, prefix string) bool {
	if prefix == "" {
		return true
	}

	return uri.PathPrefixMatch(candidate, prefix)
}

// Search scores every leaf record against query, returning candidates
// sorted by score descending then URI ascending, truncated to limit
// (spec.md §4.4 "search").
func (idx *Index) Search(query string, target Target, limit int, cutoffs Cutoffs, now time.Time) []ScoredRecord {
	queryTokens := tokenSliceDedup(tokenize(query))
	queryLower := strings.ToLower(query)
	queryBigrams := compactBigrams(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []ScoredRecord

	for uri, rec := range idx.records {
		if !rec.IsLeaf {
			continue
		}

		if !pathPrefixMatch(uri, target.PathPrefix) {
			continue
		}

		overlap := idx.tokenOverlapLocked(uri, queryTokens)
		if cutoffs.MinMatchTokens > 0 && len(queryTokens) > 0 && overlap < cutoffs.MinMatchTokens {
			continue
		}

		scored := idx.scoreRecordLocked(uri, rec, queryLower, queryBigrams, queryTokens, target, now)

		if cutoffs.HasScoreFloor && scored.Score < cutoffs.ScoreThreshold {
			continue
		}

		out = append(out, scored)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		return out[i].URI < out[j].URI
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// scoreRecordLocked computes the composite score for one record. Caller
// must hold idx.mu (read or write).
func (idx *Index) scoreRecordLocked(uri string, rec Record, queryLower string, queryBigrams, queryTokens []string, target Target, now time.Time) ScoredRecord {
	exact := 0.0

	if raw, ok := idx.rawTextLower[uri]; ok && queryLower != "" && strings.Contains(raw, queryLower) {
		exact = 1.0
	}

	nameBigrams := compactBigrams(rec.Name)
	dense := diceCoefficient(queryBigrams, nameBigrams)

	sparse := 0.0
	if freq, ok := idx.termFreqs[uri]; ok && len(queryTokens) > 0 {
		matched := 0

		for _, tok := range queryTokens {
			if freq[tok] > 0 {
				matched++
			}
		}

		sparse = float64(matched) / float64(len(queryTokens))
	}

	recency := recencyScore(rec.UpdatedAt, now)

	path := 0.0
	if target.PathPrefix != "" && rec.ParentURI == target.PathPrefix {
		path = 1
	}

	score := W_EXACT*exact + W_DENSE*dense + W_SPARSE*sparse + W_RECENCY*recency + W_PATH*path

	return ScoredRecord{
		URI:     uri,
		IsLeaf:  rec.IsLeaf,
		Depth:   rec.Depth,
		Exact:   exact,
		Dense:   dense,
		Sparse:  sparse,
		Recency: recency,
		Path:    path,
		Score:   score,
	}
}

// tokenOverlapLocked is TokenOverlapCount's internal sibling for use while
// idx.mu is already held by Search.
func (idx *Index) tokenOverlapLocked(uri string, queryTokens []string) int {
	set, ok := idx.tokenSets[uri]
	if !ok {
		return 0
	}

	count := 0

	for _, tok := range queryTokens {
		if _, ok := set[tok]; ok {
			count++
		}
	}

	return count
}

// recencyScore decays linearly from 1 (updated now) to 0 at recencyHorizon
// and beyond.
func recencyScore(updatedAt int64, now time.Time) float64 {
	const recencyHorizon = 30 * 24 * time.Hour

	age := now.Sub(time.Unix(updatedAt, 0))
	if age <= 0 {
		return 1
	}

	if age >= recencyHorizon {
		return 0
	}

	return 1 - float64(age)/float64(recencyHorizon)
}

func tokenSliceDedup(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))

	out := make([]string, 0, len(tokens))

	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}

		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	return out
}
