// Package matrix defines the target matrix consumed by the build pipeline.
//
// A matrix file is a YAML document declaring the tool being released, the
// build command, and an ordered list of target descriptors. Each descriptor
// names a platform triple, the execution host class able to build it, and
// whether dependency state may be cached between runs.
//
// Example matrix file:
//
//	name: xortool
//	command: cargo
//	targets:
//	  - triple: x86_64-unknown-linux-musl
//	    host: ubuntu-latest
//	  - triple: aarch64-apple-darwin
//	    host: macos-latest
//	    cache: false
//
// Triples are opaque to the orchestrator beyond serving as cache and
// artifact-naming keys, so a matrix containing the same triple twice is
// rejected during validation.
package matrix
