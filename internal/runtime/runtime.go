package runtime

import (
	"context"
	"log/slog"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
)

const (

	// Default containerd socket address.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultNamespace = "crossforge"

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing crossforge to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	if address == "" {
		address = DefaultAddress
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, wrapRuntime(err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Ensures a toolchain image is present and unpacked for the given platform.
//
// Images already in the store are not pulled again, which makes repeated
// provisioning calls cheap. The layers are unpacked into the snapshotter so
// container creation does not pay the unpack cost later.
func (rt *Runtime) EnsureImage(ctx context.Context, ref, platform string) error {
	p, err := platforms.Parse(platform)
	if err != nil {
		return wrapRuntime(err)
	}

	_, err = rt.client.ImageService().Get(ctx, ref)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return wrapRuntime(err)
		}

		slog.Info("pulling toolchain image", "ref", ref, "platform", platform)
		if _, err := rt.client.Pull(ctx, ref,
			containerd.WithPlatformMatcher(platforms.Only(p)),
			containerd.WithPullSnapshotter(snapshotter),
		); err != nil {
			return wrapRuntime(err)
		}
	}

	image, err := rt.resolveImage(ctx, ref, platform)
	if err != nil {
		return wrapRuntime(err)
	}

	if err := image.Unpack(ctx, snapshotter); err != nil {
		return wrapRuntime(err)
	}

	slog.Debug("toolchain image ready", "ref", ref)
	return nil
}

// Starts a build container from a toolchain image.
//
// The image must have been made available via [Runtime.EnsureImage]. A
// container is created with a fresh snapshot and a long-running task (sleep
// infinity) is started so that subsequent Exec calls have a running process
// to attach to. Any stale container with the same ID from a previous run is
// removed first.
func (rt *Runtime) StartContainer(ctx context.Context, ref, id, platform string) (*Container, error) {
	c := &Container{
		client:   rt.client,
		id:       id,
		platform: platform,
	}

	// Remove any stale container from a previous build with the same ID.
	c.remove(ctx)

	image, err := rt.resolveImage(ctx, ref, platform)
	if err != nil {
		return nil, wrapRuntime(err)
	}

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, wrapRuntime(err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, wrapRuntime(err)
	}

	slog.Debug("container started", "id", id, "image", ref)

	return c, nil
}

// Looks up a stored image and selects the manifest for the given platform.
//
// Multi-platform images contain manifests for multiple architectures. This
// method selects one, so that subsequent operations target the correct
// architecture.
func (rt *Runtime) resolveImage(ctx context.Context, ref, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}
