// Package index holds the in-memory, thread-safe document index: records,
// lexical token sets, term frequencies, exact-match fingerprints, and a
// parent→children adjacency map, all keyed by a shared URI atom table
// (spec.md §4.4). It serves search, children_of, uris_with_prefix,
// record_matches_filter, and token_overlap_count.
package index

import "github.com/axiomorient/axiomme/internal/mdscan"

// Record is the in-memory projection of one document (spec.md "IndexRecord").
type Record struct {
	URI       string
	ParentURI string // empty for scope roots
	IsLeaf    bool
	Name      string
	Depth     int
	Mime      string
	Tags      []string
	Abstract  string
	Content   string
	Truncated bool
	UpdatedAt int64
}

// ChildRecord is the traversal-compact projection stored in the adjacency
// map (spec.md "IndexChildRecord").
type ChildRecord struct {
	URI    string
	IsLeaf bool
	Depth  int
}

// ExactKeys is an alias of mdscan's exact-match fingerprint set, kept as a
// distinct name in this package's public surface per spec.md's
// "ExactRecordKeys" entity.
type ExactKeys = mdscan.ExactKeys

// Filter narrows RecordMatchesFilter to a graph-relative subset:
// Ancestor/Descendant checks walk children_by_parent, never URI string
// prefixes (spec.md §4.4). Search does not take a Filter; it is scoped by a
// Target instead.
type Filter struct {
	// UnderURI restricts matches to the subtree rooted at UnderURI
	// (inclusive), checked via the adjacency graph.
	UnderURI string
	// LeafOnly restricts matches to leaf records.
	LeafOnly bool
	// MimePrefix restricts matches to records whose Mime has this prefix.
	MimePrefix string
}
