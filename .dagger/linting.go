package main

import (
	"context"
	"fmt"

	"dagger/chronicle/internal/dagger"
)

const golangciLintVersion = "v2.8.0"

// lintOpts layers golangci-lint on top of goContainer() so the sqlite dev
// headers, CGO, and Go caches are already in place.
func (c *Chronicle) lintOpts() dagger.GolangcilintOpts {
	base := c.goContainer("").
		WithExec([]string{
			"go",
			"install",
			fmt.Sprintf("github.com/golangci/golangci-lint/v2/cmd/golangci-lint@%s", golangciLintVersion),
		})

	return dagger.GolangcilintOpts{
		BaseCtr: base,
		Config:  c.Source.File(".golangci.yml"),
	}
}

// CheckLint runs golangci-lint against the chronicle source without applying fixes.
func (c *Chronicle) CheckLint(ctx context.Context) (string, error) {
	return dag.Golangcilint(c.Source, c.lintOpts()).Check(ctx)
}

// FixLint runs golangci-lint with --fix and returns the modified source directory.
func (c *Chronicle) FixLint(ctx context.Context) *dagger.Directory {
	return dag.Golangcilint(c.Source, c.lintOpts()).Lint()
}
