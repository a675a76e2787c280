package store

import "errors"

// Sentinel errors returned by store implementations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("concurrent modification")
)
