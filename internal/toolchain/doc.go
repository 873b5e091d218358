// Package toolchain provisions compiler backends for build targets.
//
// A [Provisioner] ensures the executing host can build a given target triple
// before the build runs. Native triples are provisioned through the host
// toolchain manager (rustup-style "target add"), while cross triples are
// provisioned by making the matching cross toolchain image available through
// the container runtime.
//
// Provisioning mutates host-wide toolchain state, so calls are serialized
// behind a mutex. The operation is idempotent: provisioning an
// already-provisioned triple is a no-op success.
//
// Example usage:
//
//	p := toolchain.New(rt, "rustup")
//	if err := p.Ensure(ctx, target); err != nil {
//	    return err
//	}
package toolchain
