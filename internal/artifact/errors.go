package artifact

import "errors"

var (
	ErrMissingArtifact = errors.New("build produced no artifact")
	ErrPackaging       = errors.New("packaging failed")
)
