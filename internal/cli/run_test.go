package cli_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/axiomorient/axiomme/internal/cli"
	"github.com/axiomorient/axiomme/internal/pipeline"
	"github.com/axiomorient/axiomme/internal/queue"
	"github.com/axiomorient/axiomme/internal/reconcile"
	"github.com/axiomorient/axiomme/internal/retrieval"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/uri"
)

// fakeRuntime is a stub satisfying cli.Runtime so the dispatch/flag-parsing
// layer can be exercised without a real Scoped Filesystem or Store.
type fakeRuntime struct {
	lsEntries []scopedfs.Entry
	findHits  []retrieval.ContextHit
	err       error
}

func (f *fakeRuntime) AddResource(context.Context, pipeline.AddResourceRequest, time.Time) (pipeline.AddResourceResult, error) {
	return pipeline.AddResourceResult{FinalizedRoot: "axiom://resources/t", EnqueuedCount: 2}, f.err
}

func (f *fakeRuntime) Ls(context.Context, uri.AxiomUri, bool) ([]scopedfs.Entry, error) {
	return f.lsEntries, f.err
}

func (f *fakeRuntime) Read(context.Context, uri.AxiomUri) ([]byte, error) {
	return []byte("hello"), f.err
}

func (f *fakeRuntime) SaveDocument(context.Context, pipeline.SaveDocumentRequest, time.Time) (pipeline.SaveDocumentResult, error) {
	return pipeline.SaveDocumentResult{NewETag: "e2"}, f.err
}

func (f *fakeRuntime) Find(context.Context, retrieval.Request, time.Time) retrieval.FindResult {
	return retrieval.FindResult{QueryResults: f.findHits}
}

func (f *fakeRuntime) QueueReplay(context.Context, int, time.Time) (queue.Cycle, error) {
	return queue.Cycle{Claimed: 1, Done: 1}, f.err
}

func (f *fakeRuntime) Reconcile(context.Context, []uri.Scope, bool, int, time.Time) (reconcile.Report, error) {
	return reconcile.Report{RunID: "run-1"}, f.err
}

func testEnv(rt *fakeRuntime) cli.Env {
	return cli.Env{
		Runtime: func() (cli.Runtime, error) { return rt, nil },
		Now:     func() time.Time { return time.Unix(0, 0) },
	}
}

func TestRunDispatch(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name       string
		args       []string
		rt         *fakeRuntime
		wantExit   int
		wantStdout string
	}{
		{
			name:       "unknown command",
			args:       []string{"bogus"},
			rt:         &fakeRuntime{},
			wantExit:   2,
			wantStdout: "",
		},
		{
			name:     "no command prints usage",
			args:     []string{},
			rt:       &fakeRuntime{},
			wantExit: 0,
		},
		{
			name:     "ls requires a uri argument",
			args:     []string{"ls"},
			rt:       &fakeRuntime{},
			wantExit: 1,
		},
		{
			name: "ls prints entries",
			args: []string{"ls", "axiom://resources/t"},
			rt: &fakeRuntime{lsEntries: []scopedfs.Entry{
				{URI: mustURI(t, "axiom://resources/t/a.md")},
			}},
			wantExit:   0,
			wantStdout: "axiom://resources/t/a.md\n",
		},
		{
			name:       "read prints content",
			args:       []string{"read", "axiom://resources/t/a.md"},
			rt:         &fakeRuntime{},
			wantExit:   0,
			wantStdout: "hello",
		},
		{
			name:       "find prints scored hits",
			args:       []string{"find", "auth"},
			rt:         &fakeRuntime{findHits: []retrieval.ContextHit{{URI: "axiom://resources/t/auth.md", Score: 0.9}}},
			wantExit:   0,
			wantStdout: "0.9000\taxiom://resources/t/auth.md\n",
		},
		{
			name:       "queue-replay reports counters",
			args:       []string{"queue-replay"},
			rt:         &fakeRuntime{},
			wantExit:   0,
			wantStdout: "claimed=1 done=1 requeued=0 dead_letter=0\n",
		},
		{
			name:       "underlying error surfaces as exit 1",
			args:       []string{"read", "axiom://resources/t/a.md"},
			rt:         &fakeRuntime{err: errors.New("boom")},
			wantExit:   1,
			wantStdout: "",
		},
	} {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer

			exit := cli.Run(context.Background(), &stdout, &stderr, tt.args, testEnv(tt.rt))

			require.Equal(t, tt.wantExit, exit)

			if tt.wantStdout != "" {
				require.Equal(t, tt.wantStdout, stdout.String())
			}
		})
	}
}

func mustURI(t *testing.T, s string) uri.AxiomUri {
	t.Helper()

	u, err := uri.Parse(s)
	require.NoError(t, err)

	return u
}
