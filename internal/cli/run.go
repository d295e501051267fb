package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Run is the CLI's main entry point, modeled on the teacher's
// internal/cli.Run: parse global flags, dispatch to the matching
// subcommand, and return a process exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string, env Env) int {
	o := NewIO(out, errOut)

	globalFlags := flag.NewFlagSet("axiomme", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})

	if err := globalFlags.Parse(args); err != nil {
		o.ErrPrintln("error:", err)

		return 2
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		printUsage(o, env)

		return 0
	}

	name, rest := rest[0], rest[1:]

	for _, cmd := range Commands(env) {
		if cmd.Name() == name {
			return cmd.Run(ctx, o, rest)
		}
	}

	o.ErrPrintln(fmt.Sprintf("axiomme: unknown command %q", name))
	printUsage(o, env)

	return 2
}

func printUsage(o *IO, env Env) {
	o.Println("Usage: axiomme <command> [flags]")
	o.Println()
	o.Println("Commands:")

	for _, cmd := range Commands(env) {
		o.Printf("  %-28s %s\n", cmd.Usage, cmd.Short)
	}
}
