package index

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/axiomorient/axiomme/internal/mdscan"
)

// Index is the mutable, thread-safe in-memory document index (spec.md
// §4.4). The zero value is not usable; construct with New.
type Index struct {
	mu sync.RWMutex

	atoms *atomTable

	records       map[string]Record
	tokenSets     map[string]map[string]struct{}
	termFreqs     map[string]map[string]int
	docLengths    map[string]int
	rawTextLower  map[string]string
	exactKeys     map[string]ExactKeys
	childrenByURI map[string]map[string]ChildRecord // parent -> child -> record
}

// New constructs an empty Index.
func New() *Index {
	return &Index{
		atoms:         newAtomTable(),
		records:       make(map[string]Record),
		tokenSets:     make(map[string]map[string]struct{}),
		termFreqs:     make(map[string]map[string]int),
		docLengths:    make(map[string]int),
		rawTextLower:  make(map[string]string),
		exactKeys:     make(map[string]ExactKeys),
		childrenByURI: make(map[string]map[string]ChildRecord),
	}
}

// Upsert inserts or replaces the record for rec.URI, maintaining every
// derived map and the parent adjacency edge in lockstep (spec.md §4.4
// write path). Exact-key fingerprints are built from rec.Content; callers
// holding the untruncated source (spec.md §4.4 invariant 4, §8 boundary
// case 6) should use UpsertWithRawContent instead.
func (idx *Index) Upsert(rec Record) {
	idx.upsert(rec, []byte(rec.Content))
}

// UpsertWithRawContent is Upsert, but builds exact-key fingerprints from raw
// instead of rec.Content, so the bounded tail-heading appendix scan
// (mdscan.BuildExactKeys) sees bytes beyond a truncated rec.Content's cap.
// raw is not retained past this call; only rec.Content is stored.
func (idx *Index) UpsertWithRawContent(rec Record, raw []byte) {
	idx.upsert(rec, raw)
}

func (idx *Index) upsert(rec Record, rawForKeys []byte) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	uriAtom := idx.atoms.intern(rec.URI)
	rec.URI = uriAtom

	if rec.ParentURI != "" {
		rec.ParentURI = idx.atoms.intern(rec.ParentURI)
	}

	lastSegment := path.Base(rec.URI)

	lexical := buildLexicalText(rec.Name, lastSegment, rec.Abstract, rec.Content, rec.Tags)
	tokens := tokenize(lexical)

	prev, hadPrev := idx.records[uriAtom]

	idx.records[uriAtom] = rec
	idx.tokenSets[uriAtom] = tokenSet(tokens)
	idx.termFreqs[uriAtom] = termFreq(tokens)
	idx.docLengths[uriAtom] = len(tokens)
	idx.rawTextLower[uriAtom] = strings.ToLower(lexical)
	idx.exactKeys[uriAtom] = mdscan.BuildExactKeys(rec.Name, rawForKeys)

	idx.reparent(uriAtom, rec, prev, hadPrev)
}

// reparent removes any previous parent edge for uri and inserts the new
// one, keeping children_by_parent a precise function of the record set
// (spec.md Invariant 2). Caller must hold idx.mu.
func (idx *Index) reparent(uri string, rec Record, prev Record, hadPrev bool) {
	if hadPrev && prev.ParentURI != "" && prev.ParentURI != rec.ParentURI {
		if children, ok := idx.childrenByURI[prev.ParentURI]; ok {
			delete(children, uri)

			if len(children) == 0 {
				delete(idx.childrenByURI, prev.ParentURI)
			}
		}
	}

	if rec.ParentURI == "" {
		return
	}

	children, ok := idx.childrenByURI[rec.ParentURI]
	if !ok {
		children = make(map[string]ChildRecord)
		idx.childrenByURI[rec.ParentURI] = children
	}

	children[uri] = ChildRecord{URI: uri, IsLeaf: rec.IsLeaf, Depth: rec.Depth}
}

// Remove deletes uri and its adjacency edge from the index. It does not
// remove descendants; callers pruning a subtree should remove each URI
// returned by UrisWithPrefix.
func (idx *Index) Remove(uri string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.records, uri)
	delete(idx.tokenSets, uri)
	delete(idx.termFreqs, uri)
	delete(idx.docLengths, uri)
	delete(idx.rawTextLower, uri)
	delete(idx.exactKeys, uri)

	for parent, children := range idx.childrenByURI {
		if _, ok := children[uri]; ok {
			delete(children, uri)

			if len(children) == 0 {
				delete(idx.childrenByURI, parent)
			}
		}
	}

	delete(idx.childrenByURI, uri)
	idx.atoms.release(uri)
}

// Get returns the record for uri, if present.
func (idx *Index) Get(uri string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.records[uri]

	return rec, ok
}

// Len returns the number of records held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.records)
}

// ChildrenOf returns parentURI's direct children in deterministic lexical
// URI order (spec.md §4.4 read operations).
func (idx *Index) ChildrenOf(parentURI string) []ChildRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	children, ok := idx.childrenByURI[parentURI]
	if !ok {
		return nil
	}

	out := make([]ChildRecord, 0, len(children))
	for _, c := range children {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })

	return out
}

// All returns every record held, in no particular order.
func (idx *Index) All() []Record {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Record, 0, len(idx.records))
	for _, rec := range idx.records {
		out = append(out, rec)
	}

	return out
}

// UrisWithPrefix returns every URI with the given prefix, sorted ascending.
// prefix matching is exact-string (URIs are canonical, slash-separated), so
// it also covers subtree pruning reads (spec.md §4.4).
func (idx *Index) UrisWithPrefix(prefix string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string

	for uri := range idx.records {
		if uri == prefix || strings.HasPrefix(uri, prefix+"/") {
			out = append(out, uri)
		}
	}

	sort.Strings(out)

	return out
}

// TokenOverlapCount returns the size of the intersection between uri's
// token set and queryTokens, without allocating a fresh lowercase copy per
// call (queryTokens is expected to already be lowercased by the caller).
func (idx *Index) TokenOverlapCount(uri string, queryTokens []string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

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

// RecordMatchesFilter reports whether uri satisfies filter. Ancestor checks
// walk children_by_parent exclusively, with a visited set guarding against
// any accidental cycle in the adjacency graph (spec.md §4.4).
func (idx *Index) RecordMatchesFilter(uri string, filter Filter) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.records[uri]
	if !ok {
		return false
	}

	if filter.LeafOnly && !rec.IsLeaf {
		return false
	}

	if filter.MimePrefix != "" && !strings.HasPrefix(rec.Mime, filter.MimePrefix) {
		return false
	}

	if filter.UnderURI != "" && !idx.isUnderLocked(uri, filter.UnderURI) {
		return false
	}

	return true
}

// isUnderLocked reports whether uri is ancestorURI or a descendant of it,
// walking parent pointers with a visited set. Caller must hold idx.mu.
func (idx *Index) isUnderLocked(uri, ancestorURI string) bool {
	if uri == ancestorURI {
		return true
	}

	visited := make(map[string]struct{})
	cur := uri

	for {
		rec, ok := idx.records[cur]
		if !ok || rec.ParentURI == "" {
			return false
		}

		if _, seen := visited[cur]; seen {
			return false
		}

		visited[cur] = struct{}{}

		if rec.ParentURI == ancestorURI {
			return true
		}

		cur = rec.ParentURI
	}
}
