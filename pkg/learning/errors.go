package learning

import (
	"errors"
)

// Common sentinel errors
var (
	// ErrNumeric means a NaN or impossible value surfaced in an iterate.
	// Fatal during phi/theta updates: the chain has diverged.
	ErrNumeric = errors.New("numeric error in iterate")
	// ErrCacheTooSmall means the configured pi cache cannot hold the rows
	// one phase of the protocol needs at once.
	ErrCacheTooSmall = errors.New("pi cache too small for protocol phase")
)
