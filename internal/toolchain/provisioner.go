package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"

	"github.com/crossforge/crossforge/internal/matrix"
)

// Image reference pattern for the default cross toolchain images.
const defaultImagePattern = "ghcr.io/cross-rs/%s:main"

// Makes cross toolchain images available on the host.
//
// Implemented by the container runtime. Pulling an image that is already
// present must be a no-op.
type ImageEnsurer interface {
	EnsureImage(ctx context.Context, ref, platform string) error
}

// Ensures the host has the compiler backend for a target triple.
//
// All provisioning calls on one host go through a single Provisioner and are
// serialized behind its mutex, since the underlying toolchain manager mutates
// host-wide installation state.
type Provisioner struct {
	manager string       // Host toolchain manager command (e.g., "rustup").
	images  ImageEnsurer // Runtime used to ensure cross toolchain images. May be nil when the matrix is all-native.

	hostOS   string // OS family of the executing host.
	hostArch string // Architecture of the executing host.

	mu          sync.Mutex          // Serializes provisioning and guards the set below.
	provisioned map[string]struct{} // Triples already provisioned on this host.

	// Runs the toolchain manager, returning combined output. Swapped in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Creates a provisioner for the executing host.
func New(images ImageEnsurer, manager string) *Provisioner {
	return &Provisioner{
		manager:     manager,
		images:      images,
		hostOS:      runtime.GOOS,
		hostArch:    runtime.GOARCH,
		provisioned: make(map[string]struct{}),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Ensures the toolchain for a target is installed on this host.
//
// Validates that the target's declared host class matches the executing
// host's OS family, then installs the target-specific backend: the host
// toolchain manager for native triples, the cross toolchain image for
// everything else. Repeated calls for the same triple are no-op successes.
func (p *Provisioner) Ensure(ctx context.Context, target matrix.Target) error {
	family, ok := hostFamily(target.Host)
	if !ok {
		return fmt.Errorf("%w: unknown host label %q", ErrHostMismatch, target.Host)
	}
	if family != p.hostOS {
		return fmt.Errorf("%w: %q requires a %s host, this host is %s",
			ErrHostMismatch, target.Triple, family, p.hostOS)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, done := p.provisioned[target.Triple]; done {
		slog.Debug("toolchain already provisioned", "triple", target.Triple)
		return nil
	}

	if nativeFor(target.Triple, p.hostOS, p.hostArch) {
		if err := p.ensureNative(ctx, target.Triple); err != nil {
			return err
		}
	} else {
		if err := p.ensureCross(ctx, target); err != nil {
			return err
		}
	}

	p.provisioned[target.Triple] = struct{}{}
	return nil
}

// Installs the standard library components for a native triple through the
// host toolchain manager.
func (p *Provisioner) ensureNative(ctx context.Context, triple string) error {
	slog.Info("provisioning host toolchain", "triple", triple, "manager", p.manager)

	out, err := p.run(ctx, p.manager, "target", "add", triple)
	if err != nil {
		return fmt.Errorf("%w: %s target add %s: %s", ErrProvision, p.manager, triple, firstLine(out, err))
	}

	return nil
}

// Ensures the cross toolchain image for a non-native triple is present.
//
// The image itself runs on the host platform; the cross compiler inside it
// produces binaries for the target triple.
func (p *Provisioner) ensureCross(ctx context.Context, target matrix.Target) error {
	if p.images == nil {
		return fmt.Errorf("%w: %q needs the cross helper but no container runtime is configured",
			ErrProvision, target.Triple)
	}

	ref := CrossImage(target)
	platform := p.hostOS + "/" + p.hostArch

	slog.Info("provisioning cross toolchain", "triple", target.Triple, "image", ref)

	if err := p.images.EnsureImage(ctx, ref, platform); err != nil {
		return fmt.Errorf("%w: %w", ErrProvision, err)
	}

	return nil
}

// Returns the cross toolchain image reference for a target, preferring the
// per-target override from the matrix file.
func CrossImage(target matrix.Target) string {
	if target.Image != "" {
		return target.Image
	}
	return fmt.Sprintf(defaultImagePattern, target.Triple)
}

// Returns the first line of command output, falling back to the error text
// when the command produced nothing.
func firstLine(out []byte, err error) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	if len(out) > 0 {
		return string(out)
	}
	return err.Error()
}
