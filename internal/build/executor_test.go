package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/crossforge/crossforge/internal/matrix"
)

const fakeCompiler = `#!/bin/sh
target=""
targetdir=""
while [ $# -gt 0 ]; do
	case "$1" in
		--target) target="$2"; shift ;;
		--target-dir) targetdir="$2"; shift ;;
	esac
	shift
done
mkdir -p "$targetdir/$target/release"
printf elf > "$targetdir/$target/release/xortool"
`

const failingCompiler = `#!/bin/sh
echo "error[E0432]: unresolved import" >&2
exit 101
`

// Installs a compiler stand-in script and returns its path.
func installCompiler(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("compiler stand-in requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fakecargo")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing compiler script: %v", err)
	}
	return path
}

func TestHostExecutorBuild(t *testing.T) {
	e := &HostExecutor{
		Command:  installCompiler(t, fakeCompiler),
		Manifest: "Cargo.toml",
		Output:   t.TempDir(),
	}

	target := matrix.Target{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"}
	out, err := e.Build(context.Background(), target, "", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	binary := filepath.Join(out.ReleaseDir, "xortool")
	if _, err := os.Stat(binary); err != nil {
		t.Errorf("built binary missing: %v", err)
	}
	if out.StateBlob != "" {
		t.Errorf("StateBlob = %q, want empty without keepState", out.StateBlob)
	}
}

func TestHostExecutorKeepState(t *testing.T) {
	e := &HostExecutor{
		Command:  installCompiler(t, fakeCompiler),
		Manifest: "Cargo.toml",
		Output:   t.TempDir(),
	}

	target := matrix.Target{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"}
	out, err := e.Build(context.Background(), target, "", true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if out.StateBlob == "" {
		t.Fatal("StateBlob empty with keepState")
	}

	// The blob extracts back into a target directory.
	f, err := os.Open(out.StateBlob)
	if err != nil {
		t.Fatalf("opening state blob: %v", err)
	}
	defer f.Close()

	dest := t.TempDir()
	if err := untar(f, dest); err != nil {
		t.Fatalf("untar: %v", err)
	}
	restored := filepath.Join(dest, "target", target.Triple, "release", "xortool")
	if _, err := os.Stat(restored); err != nil {
		t.Errorf("state blob missing release tree: %v", err)
	}
}

func TestHostExecutorRestoresState(t *testing.T) {
	output := t.TempDir()
	e := &HostExecutor{
		Command:  installCompiler(t, fakeCompiler),
		Manifest: "Cargo.toml",
		Output:   output,
	}

	// Prepare a state blob holding a marker file under target/.
	stateDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(stateDir, "debug"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(stateDir, "debug", "marker"), "warm")

	blob := filepath.Join(t.TempDir(), "state.tar")
	f, err := os.Create(blob)
	if err != nil {
		t.Fatalf("creating blob: %v", err)
	}
	if err := tarDir(stateDir, "target", f); err != nil {
		t.Fatalf("tarDir: %v", err)
	}
	f.Close()

	target := matrix.Target{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"}
	if _, err := e.Build(context.Background(), target, blob, false); err != nil {
		t.Fatalf("Build: %v", err)
	}

	marker := filepath.Join(output, target.Triple, "target", "debug", "marker")
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("restored state missing: %v", err)
	}
}

func TestHostExecutorCompileFailure(t *testing.T) {
	e := &HostExecutor{
		Command:  installCompiler(t, failingCompiler),
		Manifest: "Cargo.toml",
		Output:   t.TempDir(),
	}

	target := matrix.Target{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"}
	_, err := e.Build(context.Background(), target, "", false)
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("err = %v, want ErrCompile", err)
	}
	if !strings.Contains(err.Error(), "unresolved import") {
		t.Errorf("err = %v, want compiler diagnostics preserved", err)
	}
}

func TestHostExecutorMissingCommand(t *testing.T) {
	e := &HostExecutor{
		Command:  filepath.Join(t.TempDir(), "no-such-compiler"),
		Manifest: "Cargo.toml",
		Output:   t.TempDir(),
	}

	target := matrix.Target{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"}
	_, err := e.Build(context.Background(), target, "", false)
	if !errors.Is(err, ErrToolchainMissing) {
		t.Fatalf("err = %v, want ErrToolchainMissing", err)
	}
}

func TestHostPlatform(t *testing.T) {
	p := hostPlatform()
	if !strings.HasPrefix(p, "linux/") {
		t.Fatalf("hostPlatform = %q, want linux/<arch>", p)
	}
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[1] == "" {
		t.Fatalf("hostPlatform = %q, want linux/<arch>", p)
	}
}

func TestBuildCommand(t *testing.T) {
	got := buildCommand("cargo", "aarch64-unknown-linux-gnu", "Cargo.toml")
	want := "cargo build --release --target aarch64-unknown-linux-gnu" +
		" --manifest-path /build/src/Cargo.toml --target-dir /build/target"
	if got != want {
		t.Errorf("buildCommand = %q, want %q", got, want)
	}
}
