package depcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Computes the cache fingerprint for a (triple, project) pair.
//
// The fingerprint digests the triple together with the raw bytes of the
// lockfile next to the manifest (Cargo.lock convention: the manifest name
// with its extension replaced by ".lock"). When no lockfile exists the
// manifest bytes are digested instead, so the key still changes when the
// declared dependencies change.
func Fingerprint(triple, manifestPath string) (digest.Digest, error) {
	path := lockfilePath(manifestPath)

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading lockfile: %w", err)
		}
		raw, err = os.ReadFile(manifestPath)
		if err != nil {
			return "", fmt.Errorf("reading manifest: %w", err)
		}
	}

	digester := digest.Canonical.Digester()
	fmt.Fprintf(digester.Hash(), "%s\x00", triple)
	digester.Hash().Write(raw)

	return digester.Digest(), nil
}

// Returns the conventional lockfile path for a manifest.
//
// The manifest's extension is swapped for ".lock"; an extensionless manifest
// gets ".lock" appended. filepath.Ext keeps the extension scan within the
// final path element regardless of the platform's separator.
func lockfilePath(manifestPath string) string {
	return strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath)) + ".lock"
}
