package depcache

import "errors"

var (
	ErrStore = errors.New("cache store failed")
)
