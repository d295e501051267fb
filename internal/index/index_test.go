package index_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/index"
)

func TestUpsert_SharesURIAtomAcrossMaps(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/a.md", Name: "a", IsLeaf: true})

	rec, ok := idx.Get("axiom://resources/a.md")
	require.True(t, ok)
	require.Equal(t, "axiom://resources/a.md", rec.URI)
}

func TestUpsert_MaintainsChildrenByParent(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/folder", IsLeaf: false, Depth: 1})
	idx.Upsert(index.Record{URI: "axiom://resources/folder/a.md", ParentURI: "axiom://resources/folder", IsLeaf: true, Depth: 2})
	idx.Upsert(index.Record{URI: "axiom://resources/folder/b.md", ParentURI: "axiom://resources/folder", IsLeaf: true, Depth: 2})

	children := idx.ChildrenOf("axiom://resources/folder")
	require.Len(t, children, 2)
	require.Equal(t, "axiom://resources/folder/a.md", children[0].URI)
	require.Equal(t, "axiom://resources/folder/b.md", children[1].URI)
}

func TestUpsert_ReparentsOnUpdate(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/x", ParentURI: "axiom://resources/a", IsLeaf: true})
	idx.Upsert(index.Record{URI: "axiom://resources/x", ParentURI: "axiom://resources/b", IsLeaf: true})

	require.Empty(t, idx.ChildrenOf("axiom://resources/a"))
	require.Len(t, idx.ChildrenOf("axiom://resources/b"), 1)
}

func TestRemove_DropsRecordAndAdjacency(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/folder", IsLeaf: false})
	idx.Upsert(index.Record{URI: "axiom://resources/folder/a.md", ParentURI: "axiom://resources/folder", IsLeaf: true})

	idx.Remove("axiom://resources/folder/a.md")

	_, ok := idx.Get("axiom://resources/folder/a.md")
	require.False(t, ok)
	require.Empty(t, idx.ChildrenOf("axiom://resources/folder"))
}

func TestUrisWithPrefix_ReturnsSortedSubtree(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/a", IsLeaf: false})
	idx.Upsert(index.Record{URI: "axiom://resources/a/b.md", IsLeaf: true})
	idx.Upsert(index.Record{URI: "axiom://resources/other.md", IsLeaf: true})

	got := idx.UrisWithPrefix("axiom://resources/a")
	require.Equal(t, []string{"axiom://resources/a", "axiom://resources/a/b.md"}, got)
}

func TestRecordMatchesFilter_AncestorCheckUsesGraph(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/a", IsLeaf: false})
	idx.Upsert(index.Record{URI: "axiom://resources/a/b", ParentURI: "axiom://resources/a", IsLeaf: false})
	idx.Upsert(index.Record{URI: "axiom://resources/a/b/c.md", ParentURI: "axiom://resources/a/b", IsLeaf: true})

	require.True(t, idx.RecordMatchesFilter("axiom://resources/a/b/c.md", index.Filter{UnderURI: "axiom://resources/a"}))
	require.False(t, idx.RecordMatchesFilter("axiom://resources/a/b/c.md", index.Filter{UnderURI: "axiom://resources/other"}))
}

func TestTokenOverlapCount_CountsIntersection(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/a.md", Name: "project plan", IsLeaf: true})

	count := idx.TokenOverlapCount("axiom://resources/a.md", []string{"project", "plan", "nonexistent"})
	require.Equal(t, 2, count)
}

func TestSearch_ExactNameMatchScoresHighest(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/roadmap.md", Name: "roadmap", IsLeaf: true})
	idx.Upsert(index.Record{URI: "axiom://resources/unrelated.md", Name: "grocery list", IsLeaf: true})

	results := idx.Search("roadmap", index.Target{}, 10, index.Cutoffs{}, time.Now())
	require.NotEmpty(t, results)
	require.Equal(t, "axiom://resources/roadmap.md", results[0].URI)
}

func TestSearch_TargetPrefixFiltersOutOtherSubtrees(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/a/doc.md", Name: "doc", IsLeaf: true})
	idx.Upsert(index.Record{URI: "axiom://user/b/doc.md", Name: "doc", IsLeaf: true})

	results := idx.Search("doc", index.Target{PathPrefix: "axiom://resources"}, 10, index.Cutoffs{}, time.Now())

	for _, r := range results {
		require.Contains(t, r.URI, "axiom://resources")
	}
}

func TestSearch_MinMatchTokensCutoffExcludesWeakMatches(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/a.md", Name: "completely unrelated title", IsLeaf: true})

	results := idx.Search("project plan quarterly", index.Target{}, 10, index.Cutoffs{MinMatchTokens: 2}, time.Now())
	require.Empty(t, results)
}

func TestBuildExactQueryKeys_CompactKeyStripsSeparators(t *testing.T) {
	t.Parallel()

	keys := index.BuildExactQueryKeys("My Notes")
	require.Equal(t, "mynotes", keys.CompactKey)
}
