package index

import "sync"

// atomTable interns URI strings so every map keyed by URI shares the same
// string instance for a given value (spec.md §4.4 invariant 6, spec.md
// Invariant 6: "Index string storage"). Go strings are already immutable
// and share backing storage on sub-slicing, but URIs arriving from SQL
// scans, JSON decodes, and filesystem walks are independently allocated;
// interning collapses them back to one instance.
type atomTable struct {
	mu sync.Mutex
	m  map[string]string
}

func newAtomTable() *atomTable {
	return &atomTable{m: make(map[string]string)}
}

// intern returns the canonical instance of s, allocating one on first use.
func (t *atomTable) intern(s string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.m[s]; ok {
		return existing
	}

	t.m[s] = s

	return s
}

// release drops s from the table once no record references it. Safe to call
// on a URI not present.
func (t *atomTable) release(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.m, s)
}
