package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crossforge/crossforge/internal/matrix"
	"github.com/opencontainers/go-digest"
)

// Provisioner stand-in with per-triple failures.
type fakeProvisioner struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (f *fakeProvisioner) Ensure(ctx context.Context, target matrix.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target.Triple)
	return f.fail[target.Triple]
}

// Executor stand-in that fabricates a release tree on success.
type fakeExecutor struct {
	t    *testing.T
	tool string

	mu       sync.Mutex
	fail     map[string]error
	block    bool // When set, Build waits for ctx cancellation instead of building.
	keep     map[string]bool
	restored map[string]string
}

func (f *fakeExecutor) Build(ctx context.Context, target matrix.Target, restored string, keepState bool) (*Output, error) {
	f.mu.Lock()
	if f.restored == nil {
		f.restored = make(map[string]string)
	}
	if f.keep == nil {
		f.keep = make(map[string]bool)
	}
	f.restored[target.Triple] = restored
	f.keep[target.Triple] = keepState
	err := f.fail[target.Triple]
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	releaseDir := filepath.Join(f.t.TempDir(), "release")
	if err := os.MkdirAll(releaseDir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(releaseDir, f.tool), []byte("elf"), 0755); err != nil {
		return nil, err
	}

	out := &Output{ReleaseDir: releaseDir}
	if keepState {
		blob := filepath.Join(f.t.TempDir(), "state.tar")
		if err := os.WriteFile(blob, []byte("state"), 0644); err != nil {
			return nil, err
		}
		out.StateBlob = blob
	}
	return out, nil
}

// Cache stand-in recording lookups and stores.
type fakeCache struct {
	mu      sync.Mutex
	hit     string // Path returned on every lookup, "" for misses.
	lookups []digest.Digest
	stores  []digest.Digest
}

func (f *fakeCache) Lookup(key digest.Digest) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, key)
	return f.hit, f.hit != ""
}

func (f *fakeCache) Store(key digest.Digest, blobPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores = append(f.stores, key)
	return nil
}

// Builds run options around a matrix and a fake executor.
func testOptions(t *testing.T, m *matrix.Matrix, exec Executor) Options {
	t.Helper()

	manifest := filepath.Join(t.TempDir(), "Cargo.toml")
	if err := os.WriteFile(manifest, []byte("[package]\n"), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	return Options{
		Matrix:   m,
		Manifest: manifest,
		Output:   t.TempDir(),
		Executor: func(matrix.Target) Executor { return exec },
	}
}

func twoTargetMatrix() *matrix.Matrix {
	return &matrix.Matrix{
		Name:    "xortool",
		Command: "cargo",
		Targets: []matrix.Target{
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"},
			{Triple: "aarch64-unknown-linux-musl", Host: "ubuntu-latest"},
		},
	}
}

func TestRunAllTargetsSucceed(t *testing.T) {
	m := twoTargetMatrix()
	exec := &fakeExecutor{t: t, tool: "xortool"}
	opts := testOptions(t, m, exec)
	opts.Cache = nil

	results, err := Run(context.Background(), &fakeProvisioner{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, target := range m.Targets {
		res := results[target.Triple]
		if res == nil {
			t.Fatalf("no result for %s", target.Triple)
		}
		if res.Status != StatusSucceeded {
			t.Errorf("%s status = %s, want succeeded (err: %v)", target.Triple, res.Status, res.Err)
			continue
		}
		if want := "xortool-" + target.Triple; res.Artifact.Name != want {
			t.Errorf("artifact name = %q, want %q", res.Artifact.Name, want)
		}
		if _, err := os.Stat(res.Artifact.Path); err != nil {
			t.Errorf("published artifact missing: %v", err)
		}
	}
}

func TestRunSiblingFailureDoesNotCancel(t *testing.T) {
	m := twoTargetMatrix()
	exec := &fakeExecutor{t: t, tool: "xortool"}
	prov := &fakeProvisioner{fail: map[string]error{
		"x86_64-unknown-linux-gnu": errors.New("wrong host"),
	}}

	results, err := Run(context.Background(), prov, testOptions(t, m, exec))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	failed := results["x86_64-unknown-linux-gnu"]
	if failed.Status != StatusFailed || failed.Err == nil {
		t.Errorf("failed target status = %s, err = %v", failed.Status, failed.Err)
	}

	ok := results["aarch64-unknown-linux-musl"]
	if ok.Status != StatusSucceeded {
		t.Errorf("sibling status = %s, want succeeded (err: %v)", ok.Status, ok.Err)
	}

	if got := results.Failed(); len(got) != 1 || got[0] != "x86_64-unknown-linux-gnu" {
		t.Errorf("Failed() = %v, want [x86_64-unknown-linux-gnu]", got)
	}
}

func TestRunCompileFailure(t *testing.T) {
	m := twoTargetMatrix()
	exec := &fakeExecutor{
		t:    t,
		tool: "xortool",
		fail: map[string]error{
			"aarch64-unknown-linux-musl": errors.New("compile failed: unresolved import"),
		},
	}

	results, err := Run(context.Background(), &fakeProvisioner{}, testOptions(t, m, exec))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := results["aarch64-unknown-linux-musl"]
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Artifact != nil {
		t.Errorf("Artifact = %v, want nil on failure", res.Artifact)
	}
}

func TestRunTimeout(t *testing.T) {
	m := &matrix.Matrix{
		Name: "xortool",
		Targets: []matrix.Target{
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"},
		},
	}
	exec := &fakeExecutor{t: t, tool: "xortool", block: true}
	opts := testOptions(t, m, exec)
	opts.Timeout = 10 * time.Millisecond

	results, err := Run(context.Background(), &fakeProvisioner{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := results["x86_64-unknown-linux-gnu"]
	if !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", res.Err)
	}
}

func TestRunInvalidMatrixAborts(t *testing.T) {
	m := &matrix.Matrix{
		Name: "xortool",
		Targets: []matrix.Target{
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"},
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"},
		},
	}

	prov := &fakeProvisioner{}
	opts := testOptions(t, m, &fakeExecutor{t: t, tool: "xortool"})

	_, err := Run(context.Background(), prov, opts)
	if !errors.Is(err, matrix.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if len(prov.calls) != 0 {
		t.Errorf("provisioner called %d times before abort, want 0", len(prov.calls))
	}
}

func TestRunNilMatrix(t *testing.T) {
	_, err := Run(context.Background(), &fakeProvisioner{}, Options{})
	if !errors.Is(err, matrix.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestRunCacheDisabledPerTarget(t *testing.T) {
	noCache := false
	m := &matrix.Matrix{
		Name: "xortool",
		Targets: []matrix.Target{
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest", Cache: &noCache},
		},
	}

	exec := &fakeExecutor{t: t, tool: "xortool"}
	cache := &fakeCache{}
	opts := testOptions(t, m, exec)
	opts.Cache = cache

	results, err := Run(context.Background(), &fakeProvisioner{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res := results["x86_64-unknown-linux-gnu"]; res.Status != StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (err: %v)", res.Status, res.Err)
	}

	if len(cache.lookups) != 0 || len(cache.stores) != 0 {
		t.Errorf("cache touched for no-cache target: lookups %d, stores %d",
			len(cache.lookups), len(cache.stores))
	}
	if exec.keep["x86_64-unknown-linux-gnu"] {
		t.Error("keepState = true for no-cache target")
	}
}

func TestRunCacheStoreOnSuccess(t *testing.T) {
	m := &matrix.Matrix{
		Name: "xortool",
		Targets: []matrix.Target{
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"},
		},
	}

	exec := &fakeExecutor{t: t, tool: "xortool"}
	cache := &fakeCache{}
	opts := testOptions(t, m, exec)
	opts.Cache = cache

	results, err := Run(context.Background(), &fakeProvisioner{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res := results["x86_64-unknown-linux-gnu"]; res.Status != StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (err: %v)", res.Status, res.Err)
	}

	if len(cache.lookups) != 1 {
		t.Errorf("lookups = %d, want 1", len(cache.lookups))
	}
	if len(cache.stores) != 1 {
		t.Errorf("stores = %d, want 1", len(cache.stores))
	}
	if exec.restored["x86_64-unknown-linux-gnu"] != "" {
		t.Errorf("restored = %q on a cache miss, want empty", exec.restored["x86_64-unknown-linux-gnu"])
	}
}

func TestRunCacheHitRestores(t *testing.T) {
	m := &matrix.Matrix{
		Name: "xortool",
		Targets: []matrix.Target{
			{Triple: "x86_64-unknown-linux-gnu", Host: "ubuntu-latest"},
		},
	}

	exec := &fakeExecutor{t: t, tool: "xortool"}
	cache := &fakeCache{hit: "/cache/blobs/sha256/abc"}
	opts := testOptions(t, m, exec)
	opts.Cache = cache

	if _, err := Run(context.Background(), &fakeProvisioner{}, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := exec.restored["x86_64-unknown-linux-gnu"]; got != "/cache/blobs/sha256/abc" {
		t.Errorf("restored = %q, want the cache hit path", got)
	}
}
