package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/axiomorient/axiomme/internal/axerr"
)

// Command is one axiomme subcommand, modeled on the teacher's
// internal/cli.Command (unified flag parsing, help generation, exit code).
type Command struct {
	Flags *flag.FlagSet
	Usage string
	Short string
	Exec  func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// Run parses flags and executes the command, returning a process exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			o.Println("Usage: axiomme", c.Usage)

			return 0
		}

		o.ErrPrintln("error:", err)

		return 2
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", formatErr(err))

		return 1
	}

	return 0
}

func formatErr(err error) string {
	var axErr *axerr.Error
	if errors.As(err, &axErr) {
		return fmt.Sprintf("%s (code=%s)", axErr.Error(), axErr.Code)
	}

	return err.Error()
}
