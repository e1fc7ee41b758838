package graph

import (
	"errors"
)

// Common sentinel errors
var (
	ErrMalformedDataset = errors.New("malformed dataset")
	ErrVertexRange      = errors.New("vertex id out of range")
)
