package mdscan_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/mdscan"
)

func TestScan_ExtractsHeadingsAndContentLines(t *testing.T) {
	t.Parallel()

	src := []byte("# Title\n\nSome text here.\n\n## Sub Heading\n\nMore text.\n")

	result := mdscan.Scan(src)

	require.Len(t, result.HeadingHashes, 2)
	require.Len(t, result.ContentLineHashes, 2)
}

func TestScan_IsCaseInsensitive(t *testing.T) {
	t.Parallel()

	a := mdscan.Scan([]byte("# Hello World\n"))
	b := mdscan.Scan([]byte("# hello world\n"))

	require.Equal(t, a.HeadingHashes, b.HeadingHashes)
}

func TestScan_SkipsFrontMatter(t *testing.T) {
	t.Parallel()

	src := []byte("---\ntitle: Secret Heading Text\ntags: [a, b]\n---\n\n# Real Heading\n")

	result := mdscan.Scan(src)

	withoutFrontMatter := mdscan.Scan([]byte("# Real Heading\n"))
	require.Equal(t, withoutFrontMatter.HeadingHashes, result.HeadingHashes)
}

func TestScan_SkipsFencedCodeBlocks(t *testing.T) {
	t.Parallel()

	src := []byte("# Title\n\n```\n# Not A Heading\nsome code line\n```\n\nReal content line.\n")

	result := mdscan.Scan(src)

	require.Len(t, result.HeadingHashes, 1)
	require.Len(t, result.ContentLineHashes, 1)
}

func TestScan_FenceRequiresMatchingMarker(t *testing.T) {
	t.Parallel()

	// A ``` fence is not closed by a ~~~ line; everything after stays "in fence"
	// until a matching ``` appears.
	src := []byte("```\ncode\n~~~\nstill code\n```\n\n# After\n")

	result := mdscan.Scan(src)

	require.Len(t, result.HeadingHashes, 1)
}

func TestScan_HeadAndTailWindowsBoundLargeDocuments(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("## Heading ")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteByte('\n')
	}

	result := mdscan.Scan([]byte(b.String()), mdscan.WithHeadWindow(4), mdscan.WithTailWindow(4))

	require.LessOrEqual(t, len(result.HeadingHashes), 8)
}

func TestBuildExactKeys_ComputesCompactAndStemKeys(t *testing.T) {
	t.Parallel()

	keys := mdscan.BuildExactKeys("My Notes.md", []byte("# Heading\n\nBody.\n"))

	require.Equal(t, "mynotes.md", keys.CompactLowerKey)
	require.NotZero(t, keys.NameLowerHash)
	require.NotZero(t, keys.BasenameLowerHash)
	require.NotZero(t, keys.StemLowerHash)
}

func TestBuildExactKeys_TruncatesBeyondCapButKeepsTail(t *testing.T) {
	t.Parallel()

	var b strings.Builder

	b.WriteString("# Opening Heading\n\n")
	b.WriteString(strings.Repeat("filler content line here\n", mdscan.TruncationCap/24))
	b.WriteString("## Closing Heading\n\nClosing content line.\n")

	keys := mdscan.BuildExactKeys("big.md", []byte(b.String()))

	require.Len(t, keys.HeadingLowerHashes, 2)
}
