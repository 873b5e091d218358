package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crossforge/crossforge/internal/artifact"
	"github.com/crossforge/crossforge/internal/depcache"
	"github.com/crossforge/crossforge/internal/matrix"
	"github.com/opencontainers/go-digest"
)

// Lifecycle state of a build job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusBuilding     Status = "building"
	StatusPackaging    Status = "packaging"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
)

// Terminal outcome of one build job.
type JobResult struct {
	Triple   string             // Target triple the job built.
	Status   Status             // Terminal status, Succeeded or Failed.
	Artifact *artifact.Artifact // Published artifact, nil on failure.
	Err      error              // Failure diagnostic, nil on success.
}

// One unit of work derived from a target descriptor.
//
// A job owns its status and result; both are written only by the job's own
// goroutine and read by the orchestrator after the fan-in barrier, so no
// locking is needed.
type job struct {
	target   matrix.Target
	tool     string
	manifest string
	output   string
	status   Status

	prov     Provisioner
	cache    Cache
	executor Executor

	result JobResult
}

// Runs the job through its stages in order: Provisioning, Building,
// Packaging. Every error is caught here and converted into the job's
// terminal Failed state; nothing propagates to sibling jobs.
func (j *job) run(ctx context.Context) {
	log := slog.With("triple", j.target.Triple)

	j.status = StatusProvisioning
	log.Info("provisioning")
	if err := j.prov.Ensure(ctx, j.target); err != nil {
		j.fail(log, err)
		return
	}

	j.status = StatusBuilding
	key, restored, cached := j.lookupCache(log)

	log.Info("building", "cached", restored != "")
	out, err := j.executor.Build(ctx, j.target, restored, cached)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		j.fail(log, err)
		return
	}

	j.status = StatusPackaging
	art, err := artifact.Package(j.tool, j.target.Triple, out.ReleaseDir, j.output)
	if err != nil {
		j.fail(log, err)
		return
	}

	// Cache write failures never fail the job; the artifact already exists.
	if cached && out.StateBlob != "" {
		if err := j.cache.Store(key, out.StateBlob); err != nil {
			log.Warn("cache store failed", "error", err)
		}
	}

	j.status = StatusSucceeded
	j.result = JobResult{
		Triple:   j.target.Triple,
		Status:   StatusSucceeded,
		Artifact: art,
	}
	log.Info("target succeeded", "artifact", art.Name)
}

// Consults the dependency cache for this job's fingerprint.
//
// Returns the cache key, the path of a restored state blob ("" on a miss),
// and whether caching is active for this target. A fingerprint failure
// disables caching for the job rather than failing it.
func (j *job) lookupCache(log *slog.Logger) (digest.Digest, string, bool) {
	if j.cache == nil || !j.target.UseCache() {
		return "", "", false
	}

	key, err := depcache.Fingerprint(j.target.Triple, j.manifest)
	if err != nil {
		log.Warn("fingerprint failed, caching disabled for this target", "error", err)
		return "", "", false
	}

	restored, ok := j.cache.Lookup(key)
	if !ok {
		return key, "", true
	}

	log.Debug("cache hit", "key", key)
	return key, restored, true
}

// Records the job's terminal Failed state with the attached diagnostic.
func (j *job) fail(log *slog.Logger, err error) {
	j.status = StatusFailed
	j.result = JobResult{
		Triple: j.target.Triple,
		Status: StatusFailed,
		Err:    err,
	}
	log.Error("target failed", "error", err)
}
