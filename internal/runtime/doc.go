// Package runtime manages cross toolchain containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon, pulls cross toolchain images,
// and creates build containers from them. Each [Container] wraps a running
// containerd task: the cross compiler is executed inside it, the project tree
// is copied in as a tar stream, and the release tree is streamed back out
// when the build succeeds. When a container is no longer needed it should be
// destroyed to release its snapshot and task resources.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "crossforge")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	if err := rt.EnsureImage(ctx, image, "linux/amd64"); err != nil {
//	    return err
//	}
//
//	ctr, err := rt.StartContainer(ctx, image, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, "/bin/sh", "cargo build --release", nil, "")
//	if err != nil {
//	    return err
//	}
package runtime
