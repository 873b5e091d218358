// Package build orchestrates multi-target release builds.
//
// A target matrix is expanded into one build job per triple. Jobs are
// dispatched concurrently and are logically isolated: they share only the
// read-only manifest path and the dependency cache, whose entries are keyed
// per triple. Each job moves through Provisioning, Building, and Packaging
// in order; a job failure never cancels or blocks its siblings, and the
// aggregate result carries one entry per triple regardless of individual
// outcomes.
//
// Two executors back the Building stage: a host executor that invokes the
// compiler directly, used for triples the host toolchain can produce, and a
// cross executor that runs the same build inside a cross toolchain container
// through the runtime package.
//
// Example usage:
//
//	results, err := build.Run(ctx, provisioner, build.Options{
//	    Matrix:   m,
//	    Manifest: "Cargo.toml",
//	    Output:   "dist",
//	    Cache:    cache,
//	    Executor: selectExecutor,
//	})
//	if err != nil {
//	    return err
//	}
//	if failed := results.Failed(); len(failed) > 0 {
//	    return fmt.Errorf("%d target(s) failed", len(failed))
//	}
package build
