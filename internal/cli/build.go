package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossforge/crossforge/internal/build"
	"github.com/crossforge/crossforge/internal/depcache"
	"github.com/crossforge/crossforge/internal/matrix"
	"github.com/crossforge/crossforge/internal/runtime"
	"github.com/crossforge/crossforge/internal/toolchain"
)

// Represents the 'crossforge build' command.
type BuildCmd struct {
	Matrix   string        `short:"m" default:"crossforge.yaml" help:"Path to the target matrix file." placeholder:"PATH"`
	Manifest string        `default:"Cargo.toml" help:"Path to the build manifest." placeholder:"PATH"`
	Output   string        `short:"o" default:"dist" help:"Directory to publish artifacts into." placeholder:"DIR"`
	Timeout  time.Duration `default:"30m" help:"Per-target wall-clock limit. Zero disables the limit."`

	CacheDir string `help:"Override the dependency cache directory." placeholder:"DIR"`
	NoCache  bool   `help:"Disable the dependency cache for every target."`

	Toolchain string `default:"rustup" help:"Host toolchain manager used for native targets."`

	ContainerdAddress   string `help:"Override the containerd socket address." placeholder:"PATH"`
	ContainerdNamespace string `help:"Override the containerd namespace." placeholder:"NAME"`
}

// Executes the build command.
//
// Loads the matrix, builds every target concurrently, and prints a per-triple
// summary. Returns a non-nil error when any target fails, so the process
// exits non-zero, but only after every target has reached a terminal state.
func (c *BuildCmd) Run(ctx context.Context) error {
	m, err := matrix.Load(c.Matrix)
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	rt, err := c.dialRuntime(m)
	if err != nil {
		return err
	}
	if rt != nil {
		defer rt.Close()
	}

	opts := build.Options{
		Matrix:   m,
		Manifest: c.Manifest,
		Output:   c.Output,
		Timeout:  c.Timeout,
		Executor: c.executorFor(m, rt),
	}

	if !c.NoCache {
		cache, err := depcache.Open(c.CacheDir)
		if err != nil {
			return err
		}
		opts.Cache = cache
	}

	var images toolchain.ImageEnsurer
	if rt != nil {
		images = rt
	}
	prov := toolchain.New(images, c.Toolchain)

	results, err := build.Run(ctx, prov, opts)
	if err != nil {
		return err
	}

	c.printSummary(m, results)

	if failed := results.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d targets failed", len(failed), len(m.Targets))
	}
	return nil
}

// Dials containerd when the matrix contains a target the host toolchain
// cannot build. Returns nil when every target is native.
func (c *BuildCmd) dialRuntime(m *matrix.Matrix) (*runtime.Runtime, error) {
	needed := false
	for _, target := range m.Targets {
		if !toolchain.Native(target.Triple) {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	slog.Debug("connecting to containerd", "address", c.ContainerdAddress)
	return runtime.New(c.ContainerdAddress, c.ContainerdNamespace)
}

// Returns the executor selector for the matrix run. Native triples build on
// the host; everything else builds inside a cross toolchain container.
func (c *BuildCmd) executorFor(m *matrix.Matrix, rt *runtime.Runtime) func(matrix.Target) build.Executor {
	return func(target matrix.Target) build.Executor {
		if toolchain.Native(target.Triple) {
			return &build.HostExecutor{
				Command:  m.Command,
				Manifest: c.Manifest,
				Output:   c.Output,
			}
		}
		return &build.CrossExecutor{
			Runtime:  rt,
			Command:  m.Command,
			Manifest: c.Manifest,
			Output:   c.Output,
		}
	}
}

// Prints the terminal status of every target in matrix order.
func (c *BuildCmd) printSummary(m *matrix.Matrix, results build.Results) {
	for _, target := range m.Targets {
		res := results[target.Triple]
		if res == nil {
			continue
		}
		if res.Status == build.StatusSucceeded {
			fmt.Printf("%-40s ok      %s\n", target.Triple, res.Artifact.Path)
		} else {
			fmt.Printf("%-40s failed  %v\n", target.Triple, res.Err)
		}
	}
}
