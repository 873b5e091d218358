// Package depcache caches cross-build dependency state between runs.
//
// Entries are keyed by a fingerprint derived from the target triple and the
// project's dependency lock state. Values are opaque blobs owned by the build
// executor (typically a tar of the per-target build tree); the cache never
// inspects them. Blobs are stored content-addressed under the user cache
// directory with an index mapping fingerprints to OCI-style descriptors.
//
// Changing dependency versions changes the fingerprint, so stale entries
// simply become unreferenced; there is no explicit eviction. Concurrent
// writers for the same key resolve to last-write-wins, which at worst costs
// a redundant rebuild.
//
// Example usage:
//
//	cache, err := depcache.Open("")
//	if err != nil {
//	    return err
//	}
//
//	key, err := depcache.Fingerprint(triple, manifestPath)
//	if err != nil {
//	    return err
//	}
//
//	if blob, ok := cache.Lookup(key); ok {
//	    restore(blob)
//	}
package depcache
