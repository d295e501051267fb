package retrieval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/index"
	"github.com/axiomorient/axiomme/internal/retrieval"
)

func buildIndex() *index.Index {
	idx := index.New()
	idx.Upsert(index.Record{URI: "axiom://resources/folder", IsLeaf: false, Depth: 1})
	idx.Upsert(index.Record{URI: "axiom://resources/folder/roadmap.md", ParentURI: "axiom://resources/folder", Name: "roadmap", IsLeaf: true, Depth: 2})
	idx.Upsert(index.Record{URI: "axiom://resources/folder/notes.md", ParentURI: "axiom://resources/folder", Name: "notes", IsLeaf: true, Depth: 2})
	idx.Upsert(index.Record{URI: "axiom://user/memories/standup.md", Name: "standup notes", IsLeaf: true, Depth: 1})

	return idx
}

func TestFind_IdentifierFastPathExactMatch(t *testing.T) {
	t.Parallel()

	idx := buildIndex()

	result := retrieval.Find(idx, retrieval.Request{
		Queries: []retrieval.Query{{Text: "roadmap"}},
		Limit:   10,
	}, time.Now())

	require.Len(t, result.QueryResults, 1)
	require.Equal(t, "axiom://resources/folder/roadmap.md", result.QueryResults[0].URI)
	require.Equal(t, "identifier", result.QueryResults[0].Source)
	require.Equal(t, "identifier_fast_path", result.Trace.StopReason)
}

func TestFind_IdentifierFastPathToleratesOneTypo(t *testing.T) {
	t.Parallel()

	idx := buildIndex()

	result := retrieval.Find(idx, retrieval.Request{
		Queries: []retrieval.Query{{Text: "roadmep"}},
		Limit:   10,
	}, time.Now())

	require.Len(t, result.QueryResults, 1)
	require.Equal(t, "axiom://resources/folder/roadmap.md", result.QueryResults[0].URI)
}

func TestFind_MultiWordQueryFindsRecordByCompactName(t *testing.T) {
	t.Parallel()

	idx := buildIndex()

	result := retrieval.Find(idx, retrieval.Request{
		Queries: []retrieval.Query{{Text: "standup notes"}},
		Limit:   10,
	}, time.Now())

	require.NotEmpty(t, result.QueryResults)

	found := false

	for _, hit := range result.QueryResults {
		if hit.URI == "axiom://user/memories/standup.md" {
			found = true
		}
	}

	require.True(t, found)
}

func TestFind_HitBucketsGroupByTopLevelScope(t *testing.T) {
	t.Parallel()

	idx := buildIndex()

	result := retrieval.Find(idx, retrieval.Request{
		Queries: []retrieval.Query{{Text: "notes"}},
		Limit:   10,
	}, time.Now())

	for _, i := range result.HitBuckets.Memories {
		require.Contains(t, result.QueryResults[i].URI, "axiom://user")
	}

	for _, i := range result.HitBuckets.Resources {
		require.Contains(t, result.QueryResults[i].URI, "axiom://resources")
	}
}

func TestFind_TargetURIRestrictsIdentifierFastPath(t *testing.T) {
	t.Parallel()

	idx := buildIndex()

	result := retrieval.Find(idx, retrieval.Request{
		Queries:   []retrieval.Query{{Text: "roadmap"}},
		TargetURI: "axiom://user",
		Limit:     10,
	}, time.Now())

	for _, hit := range result.QueryResults {
		require.NotEqual(t, "axiom://resources/folder/roadmap.md", hit.URI)
	}
}

func TestFind_RespectsLimit(t *testing.T) {
	t.Parallel()

	idx := buildIndex()

	result := retrieval.Find(idx, retrieval.Request{
		Queries: []retrieval.Query{{Text: "notes"}, {Text: "roadmap"}},
		Limit:   1,
	}, time.Now())

	require.LessOrEqual(t, len(result.QueryResults), 1)
}
