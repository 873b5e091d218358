// Package artifact names and collects release binaries.
//
// After a target builds successfully, the packager locates the produced
// binary in the conventional release location and publishes it under the
// deterministic name "<tool>-<triple>" (with an ".exe" suffix for windows
// triples). That name is the contract consumed by the external upload step
// and by any downstream release assembly that must locate a target's binary
// by name alone.
//
// Packaging is non-destructive: the original build output is left in place.
package artifact
