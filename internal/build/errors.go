package build

import "errors"

var (
	ErrToolchainMissing = errors.New("toolchain not available")
	ErrCompile          = errors.New("compilation failed")
	ErrTimeout          = errors.New("build timed out")
)
