package network

import (
	"errors"
)

// Common sentinel errors
var (
	// ErrNotEnoughLinks means the held-out ratio asks for more linked edges
	// than the graph has.
	ErrNotEnoughLinks = errors.New("not enough linked edges to sample from, use a smaller held-out ratio")
	// ErrUnknownStrategy means the minibatch strategy name is not recognised.
	ErrUnknownStrategy = errors.New("unknown sampling strategy")
)
