package cli

import (
	"context"
	"errors"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/axiomorient/axiomme/internal/pipeline"
	"github.com/axiomorient/axiomme/internal/queue"
	"github.com/axiomorient/axiomme/internal/reconcile"
	"github.com/axiomorient/axiomme/internal/retrieval"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/uri"
)

var errURIRequired = errors.New("a uri argument is required")

// Runtime is the subset of *axiomme.Runtime the CLI drives, declared here
// (rather than importing the root package) to keep internal/cli a leaf
// package that the root package can wire without an import cycle.
type Runtime interface {
	AddResource(ctx context.Context, req pipeline.AddResourceRequest, now time.Time) (pipeline.AddResourceResult, error)
	Ls(ctx context.Context, u uri.AxiomUri, recursive bool) ([]scopedfs.Entry, error)
	Read(ctx context.Context, u uri.AxiomUri) ([]byte, error)
	SaveDocument(ctx context.Context, req pipeline.SaveDocumentRequest, now time.Time) (pipeline.SaveDocumentResult, error)
	Find(ctx context.Context, req retrieval.Request, now time.Time) retrieval.FindResult
	QueueReplay(ctx context.Context, limit int, now time.Time) (queue.Cycle, error)
	Reconcile(ctx context.Context, scopes []uri.Scope, dryRun bool, maxDriftSample int, now time.Time) (reconcile.Report, error)
}

// Env is the dependencies a command needs beyond its own flags: the runtime
// accessor and a clock, so tests can supply a fixed now.
type Env struct {
	Runtime func() (Runtime, error)
	Now     func() time.Time
}

func lsCmd(env Env) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	recursive := fs.BoolP("recursive", "r", false, "List recursively")

	return &Command{
		Flags: fs,
		Usage: "ls <uri> [flags]",
		Short: "List entries under a uri",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errURIRequired
			}

			u, err := uri.Parse(args[0])
			if err != nil {
				return err
			}

			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			entries, err := rt.Ls(ctx, u, *recursive)
			if err != nil {
				return err
			}

			for _, e := range entries {
				o.Println(e.URI.String())
			}

			return nil
		},
	}
}

func readCmd(env Env) *Command {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "read <uri>",
		Short: "Print a document's content",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errURIRequired
			}

			u, err := uri.Parse(args[0])
			if err != nil {
				return err
			}

			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			content, err := rt.Read(ctx, u)
			if err != nil {
				return err
			}

			o.Printf("%s", content)

			return nil
		},
	}
}

func addCmd(env Env) *Command {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	wait := fs.Bool("wait", true, "Block until the enqueued reindex events drain")
	markdownOnly := fs.Bool("markdown-only", false, "Stage only markdown files")

	return &Command{
		Flags: fs,
		Usage: "add <source-path> <target-uri> [flags]",
		Short: "Ingest a file or directory into the uri tree",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 { //nolint:mnd
				return errURIRequired
			}

			target, err := uri.Parse(args[1])
			if err != nil {
				return err
			}

			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			now := env.Now()

			result, err := rt.AddResource(ctx, pipeline.AddResourceRequest{
				Source:       args[0],
				TargetRoot:   target,
				Wait:         *wait,
				MarkdownOnly: *markdownOnly,
				Timeout:      30 * time.Second, //nolint:mnd
			}, now)
			if err != nil {
				return err
			}

			o.Printf("finalized=%s enqueued=%d drained=%v\n", result.FinalizedRoot, result.EnqueuedCount, result.Drained)

			return nil
		},
	}
}

func saveCmd(env Env) *Command {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	etag := fs.String("etag", "", "Expected etag (empty skips the conflict guard)")

	return &Command{
		Flags: fs,
		Usage: "save <uri> <content>",
		Short: "Replace a document's full content and synchronously reindex it",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 { //nolint:mnd
				return errURIRequired
			}

			u, err := uri.Parse(args[0])
			if err != nil {
				return err
			}

			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			result, err := rt.SaveDocument(ctx, pipeline.SaveDocumentRequest{
				URI:          u,
				NewContent:   []byte(args[1]),
				ExpectedETag: *etag,
			}, env.Now())
			if err != nil {
				return err
			}

			o.Printf("etag=%s total_ms=%d\n", result.NewETag, result.TotalMS)

			return nil
		},
	}
}

func findCmd(env Env) *Command {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	target := fs.String("target", "", "Restrict results to this uri subtree")
	limit := fs.Int("limit", 20, "Maximum results") //nolint:mnd

	return &Command{
		Flags: fs,
		Usage: "find <query> [flags]",
		Short: "Run the retrieval engine over the in-memory index",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("a query argument is required")
			}

			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			result := rt.Find(ctx, retrieval.Request{
				Queries:   []retrieval.Query{{Text: args[0]}},
				TargetURI: *target,
				Limit:     *limit,
			}, env.Now())

			for _, hit := range result.QueryResults {
				o.Printf("%.4f\t%s\n", hit.Score, hit.URI)
			}

			return nil
		},
	}
}

func queueReplayCmd(env Env) *Command {
	fs := flag.NewFlagSet("queue-replay", flag.ContinueOnError)
	limit := fs.Int("limit", 64, "Maximum events processed this pass") //nolint:mnd

	return &Command{
		Flags: fs,
		Usage: "queue-replay [flags]",
		Short: "Run one bounded replay pass over due outbox events",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			cycle, err := rt.QueueReplay(ctx, *limit, env.Now())
			if err != nil {
				return err
			}

			o.Printf("claimed=%d done=%d requeued=%d dead_letter=%d\n", cycle.Claimed, cycle.Done, cycle.Requeued, cycle.DeadLetter)

			return nil
		},
	}
}

func reconcileCmd(env Env) *Command {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", true, "Report drift without repairing it")
	scopeFlag := fs.StringSlice("scope", []string{"resources", "user", "agent", "session"}, "Scopes to inventory")

	return &Command{
		Flags: fs,
		Usage: "reconcile [flags]",
		Short: "Detect and optionally repair drift between disk, store, and index",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			rt, err := env.Runtime()
			if err != nil {
				return err
			}

			scopes := make([]uri.Scope, 0, len(*scopeFlag))
			for _, s := range *scopeFlag {
				scopes = append(scopes, uri.Scope(s))
			}

			report, err := rt.Reconcile(ctx, scopes, *dryRun, 0, env.Now())
			if err != nil {
				return err
			}

			o.Printf("run=%s fixed=%d findings=%d\n", report.RunID, report.Fixed, len(report.Findings))

			for _, f := range report.Findings {
				o.Printf("  %s\t%s\n", f.Class, f.URI)
			}

			return nil
		},
	}
}

// Commands returns every registered subcommand.
func Commands(env Env) []*Command {
	return []*Command{
		lsCmd(env),
		readCmd(env),
		addCmd(env),
		saveCmd(env),
		findCmd(env),
		queueReplayCmd(env),
		reconcileCmd(env),
	}
}
