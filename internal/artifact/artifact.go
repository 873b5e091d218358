package artifact

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Default permission mode for published binaries.
const binaryMode os.FileMode = 0755

// A named release binary for one target.
type Artifact struct {
	Name string // Deterministic artifact name ("<tool>-<triple>").
	Path string // Path of the published binary on the host.
}

// Locates the built binary for a target and publishes it under the
// deterministic naming convention.
//
// The binary is expected at <releaseDir>/<tool> (plus ".exe" for windows
// triples, matching what the compiler emits). It is copied to
// <destDir>/<tool>-<triple>; the original is left untouched. Returns
// [ErrMissingArtifact] when the build claimed success but the binary is
// absent, which is distinct from a build-tool failure.
func Package(tool, triple, releaseDir, destDir string) (*Artifact, error) {
	binary := tool + exeSuffix(triple)

	src := filepath.Join(releaseDir, binary)
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: expected %s under %s", ErrMissingArtifact, binary, releaseDir)
		}
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrMissingArtifact, src)
	}

	name := Name(tool, triple)
	dest := filepath.Join(destDir, name)

	if err := copyFile(src, dest); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}

	slog.Info("artifact packaged", "name", name, "path", dest, "size", info.Size())

	return &Artifact{Name: name, Path: dest}, nil
}

// Returns the deterministic artifact name for a tool and triple.
func Name(tool, triple string) string {
	return tool + "-" + triple + exeSuffix(triple)
}

// Returns ".exe" for windows triples and "" otherwise.
func exeSuffix(triple string) string {
	if strings.Contains(triple, "windows") {
		return ".exe"
	}
	return ""
}

// Copies a file, marking the destination executable.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, binaryMode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
