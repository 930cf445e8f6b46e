package persistence

import "errors"

var (
	// ErrNotFound is returned when a named snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")
	// ErrUnsupportedFormat is returned for unknown encodings or versions.
	ErrUnsupportedFormat = errors.New("unsupported snapshot format")
	// ErrCorruptSnapshot is returned when a blob cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrMissingAction is returned when a snapshot names an action the
	// loader cannot bind to a handler.
	ErrMissingAction = errors.New("snapshot action has no handler")
)
