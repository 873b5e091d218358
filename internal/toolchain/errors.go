package toolchain

import "errors"

var (
	ErrHostMismatch = errors.New("target not buildable on this host")
	ErrProvision    = errors.New("toolchain provisioning failed")
)
