package pools

import (
	"sync"
)

// Float64Pool pools slices of float64 for probability vectors, gradients, etc.
type Float64Pool struct {
	small  sync.Pool // <= 64 elements
	medium sync.Pool // <= 512 elements
	large  sync.Pool // <= 4096 elements
}

// NewFloat64Pool creates a new float64 slice pool.
func NewFloat64Pool() *Float64Pool {
	return &Float64Pool{
		small: sync.Pool{
			New: func() any {
				s := make([]float64, 0, 64)
				return &s
			},
		},
		medium: sync.Pool{
			New: func() any {
				s := make([]float64, 0, 512)
				return &s
			},
		},
		large: sync.Pool{
			New: func() any {
				s := make([]float64, 0, 4096)
				return &s
			},
		},
	}
}

// Get returns a zero-length float64 slice with at least the requested capacity.
func (p *Float64Pool) Get(size int) []float64 {
	var pool *sync.Pool
	switch {
	case size <= 64:
		pool = &p.small
	case size <= 512:
		pool = &p.medium
	case size <= 4096:
		pool = &p.large
	default:
		return make([]float64, 0, size)
	}

	sp, ok := pool.Get().(*[]float64)
	if !ok || cap(*sp) < size {
		return make([]float64, 0, size)
	}
	return (*sp)[:0]
}

// Put returns a float64 slice to the pool.
func (p *Float64Pool) Put(s []float64) {
	c := cap(s)
	if c > 100000 {
		return // Don't pool very large slices
	}

	s = s[:0]

	var pool *sync.Pool
	switch {
	case c <= 64:
		pool = &p.small
	case c <= 512:
		pool = &p.medium
	case c <= 4096:
		pool = &p.large
	default:
		return
	}

	pool.Put(&s)
}

// Default global float64 pool
var defaultFloat64Pool = NewFloat64Pool()

// GetFloat64s returns a float64 slice from the default pool.
func GetFloat64s(size int) []float64 {
	return defaultFloat64Pool.Get(size)
}

// PutFloat64s returns a float64 slice to the default pool.
func PutFloat64s(s []float64) {
	defaultFloat64Pool.Put(s)
}
