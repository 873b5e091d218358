package matrix

import "errors"

var (
	ErrConfiguration = errors.New("invalid matrix configuration")
)
