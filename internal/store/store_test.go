package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	s, err := store.Open(context.Background(), scopedfs.NewReal(), dbPath, store.IndexProfileStamp{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestOpen_CreatesSchemaAndIsReopenable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	s1, err := store.Open(context.Background(), scopedfs.NewReal(), dbPath, store.IndexProfileStamp{})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := store.Open(context.Background(), scopedfs.NewReal(), dbPath, store.IndexProfileStamp{})
	require.NoError(t, err)
	defer s2.Close()
}

func TestOpen_SignalsReindexOnProfileStampChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	s1, err := store.Open(context.Background(), scopedfs.NewReal(), dbPath, store.IndexProfileStamp{EmbedderVersion: "v1"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	_, err = store.Open(context.Background(), scopedfs.NewReal(), dbPath, store.IndexProfileStamp{EmbedderVersion: "v2"})
	require.ErrorIs(t, err, store.ErrReindexRequired)
}

func TestEnqueueAndFetchDue_ClaimsAsProcessing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Unix(1000, 0)

	require.NoError(t, s.Enqueue(context.Background(), "evt-1", "reindex", store.LaneSemantic, `{"uri":"x"}`, now))

	events, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.StatusProcessing, events[0].Status)
	require.Equal(t, 1, events[0].Attempts)

	// Not due again immediately: already Processing, not New.
	events2, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now)
	require.NoError(t, err)
	require.Empty(t, events2)
}

func TestMarkDone_RemovesFromFutureFetches(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Unix(1000, 0)

	require.NoError(t, s.Enqueue(context.Background(), "evt-1", "reindex", store.LaneSemantic, "{}", now))

	events, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, s.MarkDone(context.Background(), events[0].EventID, now))

	status, err := s.AggregateStatus(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(1), status[store.LaneSemantic].Processed)
}

func TestMarkRequeue_DelaysNextDue(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Unix(1000, 0)

	require.NoError(t, s.Enqueue(context.Background(), "evt-1", "reindex", store.LaneSemantic, "{}", now))

	events, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now)
	require.NoError(t, err)
	require.Len(t, events, 1)

	backoff := store.Backoff(events[0].Attempts)
	require.NoError(t, s.MarkRequeue(context.Background(), events[0].EventID, backoff, "boom", now))

	// Not due yet, since next_due_at is now+backoff.
	again, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now)
	require.NoError(t, err)
	require.Empty(t, again)

	later, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now.Add(backoff+time.Second))
	require.NoError(t, err)
	require.Len(t, later, 1)
}

func TestReclaimStranded_RequeuesOldProcessingRows(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Unix(10_000, 0)

	require.NoError(t, s.Enqueue(context.Background(), "evt-1", "reindex", store.LaneSemantic, "{}", now))

	_, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, now)
	require.NoError(t, err)

	later := now.Add(store.LeaseWindow + time.Second)

	n, err := s.ReclaimStranded(context.Background(), later)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	events, err := s.FetchDue(context.Background(), store.LaneSemantic, 10, later)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestUpsertAndLoadAllSearchDocs(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Unix(1000, 0)

	doc := store.SearchDoc{
		URI:       "axiom://resources/a.md",
		Name:      "a.md",
		Depth:     1,
		IsLeaf:    true,
		Mime:      "text/markdown",
		Abstract:  "a short summary",
		Content:   "# A\n\nbody\n",
		UpdatedAt: now,
	}
	require.NoError(t, s.UpsertSearchDoc(context.Background(), doc, now))

	docs, err := s.LoadAllSearchDocs(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	if diff := cmp.Diff(doc, docs[0]); diff != "" {
		t.Errorf("round-tripped search doc mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneByURIPrefix_RemovesSubtree(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Unix(1000, 0)

	require.NoError(t, s.UpsertSearchDoc(context.Background(), store.SearchDoc{URI: "axiom://resources/a", Name: "a"}, now))
	require.NoError(t, s.UpsertSearchDoc(context.Background(), store.SearchDoc{URI: "axiom://resources/a/b.md", Name: "b.md"}, now))
	require.NoError(t, s.UpsertSearchDoc(context.Background(), store.SearchDoc{URI: "axiom://resources/other.md", Name: "other.md"}, now))

	require.NoError(t, s.PruneByURIPrefix(context.Background(), "axiom://resources/a"))

	docs, err := s.LoadAllSearchDocs(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "axiom://resources/other.md", docs[0].URI)
}

func TestSystemKV_RoundTrips(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	_, err := s.GetSystemKV(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, s.SetSystemKV(context.Background(), "k", "v1"))

	v, err := s.GetSystemKV(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	require.NoError(t, s.SetSystemKV(context.Background(), "k", "v2"))

	v, err = s.GetSystemKV(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
}
