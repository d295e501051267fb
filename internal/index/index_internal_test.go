package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/mdscan"
)

// TestUpsertWithRawContent_SeesHeadingsBeyondTruncatedContent guards against
// the exact-key tail-heading-appendix scan (spec.md §4.4 invariant 4, §8
// boundary case 6) going unreachable because a caller truncated content
// before it ever reached BuildExactKeys.
func TestUpsertWithRawContent_SeesHeadingsBeyondTruncatedContent(t *testing.T) {
	t.Parallel()

	var body strings.Builder

	body.WriteString("# Opening Heading\n\n")
	body.WriteString(strings.Repeat("filler content line here\n", mdscan.TruncationCap/24))
	body.WriteString("## Closing Heading\n\nClosing content line.\n")

	raw := []byte(body.String())
	require.Greater(t, len(raw), mdscan.TruncationCap)

	truncated := raw[:mdscan.TruncationCap]

	rec := Record{URI: "axiom://resources/big.md", Name: "big.md", IsLeaf: true, Content: string(truncated), Truncated: true}

	idx := New()
	idx.UpsertWithRawContent(rec, raw)

	fromRaw := idx.exactKeys["axiom://resources/big.md"]
	fromTruncatedOnly := mdscan.BuildExactKeys("big.md", truncated)

	require.Greater(t, len(fromRaw.HeadingLowerHashes), len(fromTruncatedOnly.HeadingLowerHashes),
		"exact keys built from the untruncated raw source must see the closing heading that truncated content misses")
}

// TestUpsert_BuildsExactKeysFromStoredContentOnly documents that the plain
// Upsert path (no raw source available) is bounded by rec.Content, unlike
// UpsertWithRawContent.
func TestUpsert_BuildsExactKeysFromStoredContentOnly(t *testing.T) {
	t.Parallel()

	idx := New()
	idx.Upsert(Record{URI: "axiom://resources/a.md", Name: "a.md", IsLeaf: true, Content: "# Heading\n\nbody\n"})

	keys := idx.exactKeys["axiom://resources/a.md"]
	require.NotZero(t, keys.NameLowerHash)
	require.NotEmpty(t, keys.HeadingLowerHashes)
}
