package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/crossforge/crossforge/internal/matrix"
	"github.com/opencontainers/go-digest"
)

// Default permission mode for output directories.
const outputDirMode os.FileMode = 0755

// Ensures the host has the compiler backend for a target.
type Provisioner interface {
	Ensure(ctx context.Context, target matrix.Target) error
}

// Keyed store of dependency-state blobs.
//
// Lookup misses and Store failures are both non-fatal to a build.
type Cache interface {
	Lookup(key digest.Digest) (string, bool)
	Store(key digest.Digest, blobPath string) error
}

// Executes the compiler for one target.
//
// The restored path points at a dependency-state blob from a cache hit, or
// is empty. When keepState is true a successful build should populate
// [Output.StateBlob] for the orchestrator to store.
type Executor interface {
	Build(ctx context.Context, target matrix.Target, restored string, keepState bool) (*Output, error)
}

// Result of a successful compiler invocation.
type Output struct {
	ReleaseDir string // Directory containing the built binary.
	StateBlob  string // Tar of dependency state for caching, "" when not kept.
}

// Controls a matrix run.
type Options struct {
	Matrix   *matrix.Matrix               // Target matrix to expand.
	Manifest string                       // Build manifest path, forwarded unchanged to every job.
	Output   string                       // Directory for published artifacts and per-target scratch space.
	Timeout  time.Duration                // Per-job wall-clock limit. Zero disables the limit.
	Cache    Cache                        // Dependency cache. Nil disables caching for every target.
	Executor func(matrix.Target) Executor // Selects the executor for a target.
}

// Aggregate outcome of a matrix run, one entry per triple.
type Results map[string]*JobResult

// Returns the triples whose jobs failed, in no particular order.
func (r Results) Failed() []string {
	var failed []string
	for triple, res := range r {
		if res.Status == StatusFailed {
			failed = append(failed, triple)
		}
	}
	return failed
}

// Runs every target in the matrix and aggregates the outcomes.
//
// The matrix is validated before any job is dispatched; a malformed matrix
// (empty, duplicate triple) aborts with no side effects. Jobs then run
// concurrently, one goroutine per target, and Run blocks until all of them
// reach a terminal state. Per-job failures are reported in the results, never
// as Run's error.
func Run(ctx context.Context, prov Provisioner, opts Options) (Results, error) {
	if opts.Matrix == nil {
		return nil, fmt.Errorf("%w: no matrix", matrix.ErrConfiguration)
	}
	if err := opts.Matrix.Validate(); err != nil {
		return nil, err
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("%w: no executor configured", matrix.ErrConfiguration)
	}

	if err := os.MkdirAll(opts.Output, outputDirMode); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	slog.Info("expanding matrix",
		"tool", opts.Matrix.Name,
		"targets", len(opts.Matrix.Targets),
		"manifest", opts.Manifest,
	)

	jobs := make([]*job, len(opts.Matrix.Targets))
	for i, target := range opts.Matrix.Targets {
		jobs[i] = &job{
			target:   target,
			tool:     opts.Matrix.Name,
			manifest: opts.Manifest,
			output:   opts.Output,
			status:   StatusPending,
			prov:     prov,
			cache:    opts.Cache,
			executor: opts.Executor(target),
		}
	}

	// Fan out one goroutine per job; dispatch never blocks on a sibling's
	// completion. The WaitGroup is the fan-in barrier.
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			jobCtx := ctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}

			j.run(jobCtx)
		}()
	}
	wg.Wait()

	results := make(Results, len(jobs))
	for _, j := range jobs {
		results[j.target.Triple] = &j.result
	}

	return results, nil
}
