package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger/chronicle/internal/dagger"
)

// binaries are the cli entrypoints shipped in every build.
var binaries = []string{"./cli/chronicle", "./cli/chronicleapi", "./cli/chronicleworker"}

// Build and return directory of go binaries
func (c *Chronicle) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	// sqlite and sqlite-vec need cgo, so each architecture builds natively
	goarches := []string{"amd64", "arm64"}

	outputs := dag.Directory()

	for _, goarch := range goarches {
		platform := dagger.Platform("linux/" + goarch)
		path := fmt.Sprintf("linux/%s/", goarch)

		build := c.goContainer(platform)
		for _, bin := range binaries {
			build = build.WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, bin})
		}

		outputs = outputs.WithDirectory(path, build.Directory(path))
	}

	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (c *Chronicle) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildtime := time.Now()

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/papercomputeco/chronicle/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/papercomputeco/chronicle/pkg/utils.Sha=%s'", commit),
		fmt.Sprintf("-X 'github.com/papercomputeco/chronicle/pkg/utils.Buildtime=%s'", buildtime),
	}

	return c.Build(ctx, strings.Join(ldflags, " "))
}
