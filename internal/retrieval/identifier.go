package retrieval

import (
	"path"
	"strings"

	"github.com/axiomorient/axiomme/internal/index"
)

// identifierMatch finds a single record whose URI basename, stem, or
// compact key matches query exactly, or within Damerau-Levenshtein edit
// distance 1 on the filename (SPEC_FULL.md §4.3 Open Question 3: fixed at
// exactly 1, no broader fuzz). Returns ok=false if no record qualifies.
func identifierMatch(idx *index.Index, records []index.Record, query string, targetURI string) (index.Record, bool) {
	compactQuery := compactLower(query)
	if compactQuery == "" {
		return index.Record{}, false
	}

	var best index.Record

	bestDist := -1
	found := false

	for _, rec := range records {
		if targetURI != "" && !idx.RecordMatchesFilter(rec.URI, index.Filter{UnderURI: targetURI}) {
			continue
		}

		base := compactLower(path.Base(rec.URI))
		stem := compactLower(stemOf(rec.Name))
		name := compactLower(rec.Name)

		dist := minDist3(compactQuery, base, stem, name)
		if dist < 0 || dist > 1 {
			continue
		}

		if !found || dist < bestDist || (dist == bestDist && rec.URI < best.URI) {
			best = rec
			bestDist = dist
			found = true
		}
	}

	return best, found
}

// minDist3 returns the minimum edit distance between query and any of a, b,
// c, capped so distances above 1 are reported as -1 (no match), since the
// caller only cares whether a candidate is within the fixed tolerance.
func minDist3(query, a, b, c string) int {
	best := -1

	for _, cand := range [...]string{a, b, c} {
		if cand == "" {
			continue
		}

		d := damerauLevenshteinCapped(query, cand, 1)
		if d < 0 {
			continue
		}

		if best < 0 || d < best {
			best = d
		}
	}

	return best
}

// damerauLevenshteinCapped returns the Damerau-Levenshtein distance between
// a and b if it is at most cap, or -1 otherwise. Exact equality short-
// circuits to 0.
func damerauLevenshteinCapped(a, b string, maxDist int) int {
	if a == b {
		return 0
	}

	ra, rb := []rune(a), []rune(b)

	if abs(len(ra)-len(rb)) > maxDist {
		return -1
	}

	// Full DP table; inputs here are filenames/queries, always short.
	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}

	for j := 0; j <= len(rb); j++ {
		d[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			del := d[i-1][j] + 1
			ins := d[i][j-1] + 1
			sub := d[i-1][j-1] + cost

			v := min3(del, ins, sub)

			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := d[i-2][j-2] + 1; t < v {
					v = t
				}
			}

			d[i][j] = v
		}
	}

	result := d[len(ra)][len(rb)]
	if result > maxDist {
		return -1
	}

	return result
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}

func compactLower(s string) string {
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

func stemOf(name string) string {
	base := path.Base(name)
	if ext := path.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}

	return base
}
