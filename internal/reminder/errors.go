package reminder

import "errors"

var (
	// ErrNotFound reports a reminder that does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("reminder not found")
	// ErrInvalidInput reports a malformed timestamp, offset, or target.
	ErrInvalidInput = errors.New("invalid reminder input")
	// ErrDispatch wraps a queue I/O failure while scheduling. It is
	// transient: the caller may retry the whole create.
	ErrDispatch = errors.New("reminder dispatch failed")
)
