package mdscan

import (
	"path"
	"strings"
)

// ExactKeys is the closed set of exact-match fingerprints recorded per
// record for the identifier fast-path (spec.md §3 ExactRecordKeys, §5
// exact_keys table).
type ExactKeys struct {
	HeadingLowerHashes     []uint64
	ContentLineLowerHashes []uint64
	NameLowerHash          uint64
	BasenameLowerHash      uint64
	StemLowerHash          uint64
	RawLowerHash           uint64
	CompactLowerKey        string
}

// TruncationCap is the maximum number of content bytes scanned for heading
// and content-line fingerprints before falling back to a bounded tail-only
// appendix scan (SPEC_FULL.md §4.3 Open Question 2 resolution).
const TruncationCap = 32768

// BuildExactKeys computes the full exact-key set for one record: name is
// the record's display name (spec.md "name" field), content is the raw
// document body (already stripped of any outer envelope, but with front
// matter and fences still present for mdscan to skip).
func BuildExactKeys(name string, content []byte) ExactKeys {
	result, truncated := scanWithCap(content)

	keys := ExactKeys{
		HeadingLowerHashes:     result.HeadingHashes,
		ContentLineLowerHashes: result.ContentLineHashes,
		NameLowerHash:          hashLowerString(name),
		BasenameLowerHash:      hashLowerString(path.Base(name)),
		StemLowerHash:          hashLowerString(stem(name)),
		RawLowerHash:           hashLowerString(name),
		CompactLowerKey:        compactLower(name),
	}

	_ = truncated

	return keys
}

// scanWithCap scans content directly when it is at or under TruncationCap.
// Past the cap, it scans only the first TruncationCap bytes for the head
// window, then separately scans a bounded tail slice of the full content
// for trailing headings and lines, so a long document's closing sections
// still contribute to the exact-match keep-list (spec.md §4.4 invariant 4).
func scanWithCap(content []byte) (Result, bool) {
	if len(content) <= TruncationCap {
		return Scan(content), false
	}

	head := Scan(content[:TruncationCap])

	tailStart := len(content) - TruncationCap
	if tailStart < TruncationCap {
		tailStart = TruncationCap
	}

	tail := Scan(content[tailStart:], WithHeadWindow(0), WithTailWindow(defaultTailWindow))

	merged := Result{
		HeadingHashes:     mergeSortedUnique(head.HeadingHashes, tail.HeadingHashes),
		ContentLineHashes: mergeSortedUnique(head.ContentLineHashes, tail.ContentLineHashes),
	}

	return merged, true
}

func mergeSortedUnique(a, b []uint64) []uint64 {
	k := newKeepList(len(a)+len(b), 0)
	for _, h := range a {
		k.add(h)
	}

	for _, h := range b {
		k.add(h)
	}

	return k.sortedUnique()
}

// stem returns name's basename without its final extension.
func stem(name string) string {
	base := path.Base(name)
	if ext := path.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}

	return base
}

// compactLower lowercases name and strips whitespace, '-', and '_', giving
// a key that matches "my notes", "My-Notes", and "my_notes" identically for
// the identifier fast-path's edit-distance comparison.
func compactLower(name string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '\t', '-', '_':
			continue
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
