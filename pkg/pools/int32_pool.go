package pools

import (
	"sync"
)

// Int32Pool pools slices of int32 for vertex id collections.
type Int32Pool struct {
	small  sync.Pool // <= 64 elements
	medium sync.Pool // <= 1024 elements
	large  sync.Pool // <= 16384 elements
}

// NewInt32Pool creates a new int32 slice pool.
func NewInt32Pool() *Int32Pool {
	return &Int32Pool{
		small: sync.Pool{
			New: func() any {
				s := make([]int32, 0, 64)
				return &s
			},
		},
		medium: sync.Pool{
			New: func() any {
				s := make([]int32, 0, 1024)
				return &s
			},
		},
		large: sync.Pool{
			New: func() any {
				s := make([]int32, 0, 16384)
				return &s
			},
		},
	}
}

// Get returns a zero-length int32 slice with at least the requested capacity.
func (p *Int32Pool) Get(size int) []int32 {
	var pool *sync.Pool
	switch {
	case size <= 64:
		pool = &p.small
	case size <= 1024:
		pool = &p.medium
	case size <= 16384:
		pool = &p.large
	default:
		return make([]int32, 0, size)
	}

	sp, ok := pool.Get().(*[]int32)
	if !ok || cap(*sp) < size {
		return make([]int32, 0, size)
	}
	return (*sp)[:0]
}

// Put returns an int32 slice to the pool.
func (p *Int32Pool) Put(s []int32) {
	c := cap(s)
	if c > 1000000 {
		return
	}

	s = s[:0]

	var pool *sync.Pool
	switch {
	case c <= 64:
		pool = &p.small
	case c <= 1024:
		pool = &p.medium
	case c <= 16384:
		pool = &p.large
	default:
		return
	}

	pool.Put(&s)
}

// Default global int32 pool
var defaultInt32Pool = NewInt32Pool()

// GetInt32s returns an int32 slice from the default pool.
func GetInt32s(size int) []int32 {
	return defaultInt32Pool.Get(size)
}

// PutInt32s returns an int32 slice to the default pool.
func PutInt32s(s []int32) {
	defaultInt32Pool.Put(s)
}
