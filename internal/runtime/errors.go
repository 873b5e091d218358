package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrRuntime = errors.New("runtime error")
)

// Wraps an underlying containerd error with the package sentinel.
func wrapRuntime(err error) error {
	return fmt.Errorf("%w: %w", ErrRuntime, err)
}
