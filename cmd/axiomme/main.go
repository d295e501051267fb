// Package main provides axiomme, a thin CLI over the AxiomMe runtime
// (spec.md §1 "Out of scope (external collaborators): CLI argument
// parsing" — this is the external collaborator, not part of the core).
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/axiomorient/axiomme"
	"github.com/axiomorient/axiomme/internal/cli"
)

func main() {
	ctx := context.Background()

	root := os.Getenv("AXIOMME_ROOT")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			os.Exit(2)
		}

		root = filepath.Join(cwd, ".axiomme")
	}

	var runtime *axiomme.Runtime

	env := cli.Env{
		Now: time.Now,
		Runtime: func() (cli.Runtime, error) {
			if runtime != nil {
				return runtime, nil
			}

			cfg, err := axiomme.LoadConfig(root, "")
			if err != nil {
				return nil, err
			}

			runtime, err = axiomme.Open(ctx, cfg)
			if err != nil {
				return nil, err
			}

			return runtime, nil
		},
	}

	code := cli.Run(ctx, os.Stdout, os.Stderr, os.Args[1:], env)

	if runtime != nil {
		_ = runtime.Close()
	}

	os.Exit(code)
}
