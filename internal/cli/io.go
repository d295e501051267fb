// Package cli is the thin external entrypoint over the Runtime (spec.md §1
// "Out of scope (external collaborators): CLI argument parsing"). It is not
// part of the core and exercises the Runtime only through its public API.
package cli

import (
	"fmt"
	"io"
)

// IO bundles the command's output streams, following the teacher's
// internal/cli.IO (stdout/stderr separation, consistent formatting helpers).
type IO struct {
	out    io.Writer
	errOut io.Writer
}

// NewIO creates an IO writing to out/errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Println writes a line to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes a line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}
