package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/crossforge/crossforge/internal/matrix"
)

// Runs the compiler directly on the host.
//
// Used for triples the host toolchain can produce natively. Each target
// builds into its own scratch directory under the output root, so concurrent
// jobs never touch the same paths.
type HostExecutor struct {
	Command  string // Build command (e.g., "cargo").
	Manifest string // Build manifest path.
	Output   string // Output root; per-target scratch lives at <Output>/<triple>.
}

// Invokes the compiler in release mode for the target triple.
//
// The invocation is atomic from the orchestrator's point of view: either it
// returns a populated release directory or an error. A cached state blob, if
// provided, is restored into the scratch directory first. On a non-zero exit
// the compiler's diagnostic output is propagated verbatim.
func (e *HostExecutor) Build(ctx context.Context, target matrix.Target, restored string, keepState bool) (*Output, error) {
	if _, err := exec.LookPath(e.Command); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToolchainMissing, err)
	}

	scratch := filepath.Join(e.Output, target.Triple)
	targetDir := filepath.Join(scratch, "target")

	if err := os.MkdirAll(scratch, outputDirMode); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	if restored != "" {
		if err := e.restoreState(restored, scratch); err != nil {
			// A corrupt cache entry costs a cold build, not the job.
			slog.Warn("cache restore failed, building cold", "triple", target.Triple, "error", err)
		}
	}

	cmd := exec.CommandContext(ctx, e.Command,
		"build",
		"--release",
		"--target", target.Triple,
		"--manifest-path", e.Manifest,
		"--target-dir", targetDir,
	)

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	slog.Debug("invoking compiler", "command", cmd.String())

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrCompile, strings.TrimSpace(stderr.String()))
	}

	out := &Output{ReleaseDir: filepath.Join(targetDir, target.Triple, "release")}

	if keepState {
		blob := filepath.Join(scratch, "state.tar")
		if err := e.captureState(targetDir, blob); err != nil {
			slog.Warn("state capture failed, skipping cache store", "triple", target.Triple, "error", err)
		} else {
			out.StateBlob = blob
		}
	}

	return out, nil
}

// Extracts a cached state blob into the scratch directory.
//
// Blob entries are rooted at "target/", so extraction recreates the target
// directory in place.
func (e *HostExecutor) restoreState(blob, scratch string) error {
	f, err := os.Open(blob)
	if err != nil {
		return err
	}
	defer f.Close()

	return untar(f, scratch)
}

// Archives the target directory into a state blob for caching.
func (e *HostExecutor) captureState(targetDir, blob string) error {
	f, err := os.Create(blob)
	if err != nil {
		return err
	}

	if err := tarDir(targetDir, "target", f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
