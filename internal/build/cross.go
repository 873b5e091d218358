package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/crossforge/crossforge/internal/matrix"
	"github.com/crossforge/crossforge/internal/runtime"
	"github.com/crossforge/crossforge/internal/toolchain"
)

const (

	// Shell used for compiler invocations inside toolchain containers.
	containerShell = "/bin/sh"

	// In-container locations for the project tree and build state.
	containerSrcDir    = "/build/src"
	containerTargetDir = "/build/target"
)

// Runs the compiler inside a cross toolchain container.
//
// Used for triples the host toolchain cannot produce. The project tree is
// copied into the container, the build runs against the cross toolchain, and
// the release tree is streamed back out to the per-target scratch directory.
type CrossExecutor struct {
	Runtime  *runtime.Runtime // Container runtime for toolchain containers.
	Command  string           // Build command (e.g., "cargo").
	Manifest string           // Build manifest path on the host.
	Output   string           // Output root; per-target scratch lives at <Output>/<triple>.
}

// Invokes the cross compiler in release mode for the target triple.
//
// The toolchain image must have been provisioned first; a missing image is
// an ordering violation reported as [ErrToolchainMissing], not a compile
// failure. The container is destroyed when the build finishes, regardless
// of outcome, so partial output never leaks into packaging.
func (e *CrossExecutor) Build(ctx context.Context, target matrix.Target, restored string, keepState bool) (*Output, error) {
	ref := toolchain.CrossImage(target)

	ctr, err := e.Runtime.StartContainer(ctx, ref, containerID(target.Triple), hostPlatform())
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: image %s not provisioned", ErrToolchainMissing, ref)
		}
		return nil, err
	}
	defer ctr.Destroy(context.WithoutCancel(ctx))

	if err := e.stageProject(ctx, ctr, restored, target.Triple); err != nil {
		return nil, err
	}

	command := buildCommand(e.Command, target.Triple, filepath.Base(e.Manifest))
	slog.Debug("invoking cross compiler", "triple", target.Triple, "command", command)

	result, err := ctr.Exec(ctx, containerShell, command, nil, containerSrcDir)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrCompile, strings.TrimSpace(result.Stderr))
	}

	return e.collect(ctx, ctr, target.Triple, keepState)
}

// Copies the project tree and any restored build state into the container.
func (e *CrossExecutor) stageProject(ctx context.Context, ctr *runtime.Container, restored, triple string) error {
	if err := ctr.MkdirAll(ctx, containerSrcDir); err != nil {
		return err
	}

	root := filepath.Dir(e.Manifest)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarDir(root, "", pw))
	}()

	if err := ctr.CopyTo(ctx, pr, containerSrcDir); err != nil {
		// Unblock the producing goroutine when the copy dies mid-stream.
		pr.CloseWithError(err)
		return err
	}

	if restored != "" {
		if err := e.restoreState(ctx, ctr, restored); err != nil {
			// A corrupt cache entry costs a cold build, not the job.
			slog.Warn("cache restore failed, building cold", "triple", triple, "error", err)
		}
	}

	return nil
}

// Extracts a cached state blob into the container's build directory.
//
// Blob entries are rooted at "target/", so extraction recreates the target
// directory under /build.
func (e *CrossExecutor) restoreState(ctx context.Context, ctr *runtime.Container, blob string) error {
	f, err := os.Open(blob)
	if err != nil {
		return err
	}
	defer f.Close()

	return ctr.CopyTo(ctx, f, filepath.Dir(containerTargetDir))
}

// Streams the release tree out of the container and, when requested, the
// full target directory as a cacheable state blob.
func (e *CrossExecutor) collect(ctx context.Context, ctr *runtime.Container, triple string, keepState bool) (*Output, error) {
	scratch := filepath.Join(e.Output, triple)
	if err := os.MkdirAll(scratch, outputDirMode); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	releaseDir := containerTargetDir + "/" + triple + "/release"

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		errc <- ctr.CopyFrom(ctx, pw, releaseDir)
		pw.Close()
	}()

	if err := untar(pr, scratch); err != nil {
		// Unblock the producing goroutine before abandoning the stream.
		pr.CloseWithError(err)
		<-errc
		return nil, err
	}
	if err := <-errc; err != nil {
		return nil, err
	}

	out := &Output{ReleaseDir: filepath.Join(scratch, "release")}

	if keepState {
		blob := filepath.Join(scratch, "state.tar")
		if err := e.captureState(ctx, ctr, blob); err != nil {
			slog.Warn("state capture failed, skipping cache store", "triple", triple, "error", err)
		} else {
			out.StateBlob = blob
		}
	}

	return out, nil
}

// Archives the container's target directory into a state blob for caching.
func (e *CrossExecutor) captureState(ctx context.Context, ctr *runtime.Container, blob string) error {
	f, err := os.Create(blob)
	if err != nil {
		return err
	}

	if err := ctr.CopyFrom(ctx, f, containerTargetDir); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Returns the compiler invocation for a triple, run relative to the staged
// project tree.
func buildCommand(command, triple, manifestBase string) string {
	return fmt.Sprintf("%s build --release --target %s --manifest-path %s/%s --target-dir %s",
		command, triple, containerSrcDir, manifestBase, containerTargetDir)
}

// Returns a unique container ID for a target's build, scoped to this tool.
func containerID(triple string) string {
	return "crossforge-build-" + triple
}

// Returns the OCI platform the toolchain containers run on.
//
// Cross toolchain images are linux images for the host architecture; the
// cross compiler inside them produces binaries for the target triple.
func hostPlatform() string {
	return "linux/" + goruntime.GOARCH
}
