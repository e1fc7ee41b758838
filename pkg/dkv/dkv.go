// Package dkv is the distributed key-value store for the per-vertex state
// vectors. Key = vertex id, value = K+1 float64s (pi[0..K) followed by
// phi_sum). The store is sharded over the worker cohort; each worker reads
// the rows a minibatch needs into a fixed-size local cache, publishes
// updates, and synchronises visibility with barriers.
package dkv

import (
	"fmt"
)

// Mode selects the intent of a read batch.
type Mode int

const (
	// ReadOnly rows are served from cache and never written back.
	ReadOnly Mode = iota
	// ReadWrite rows may be modified in place and flushed.
	ReadWrite
)

// Store is the capability set every transport implements.
//
// Returned row slices stay valid until the next Purge. Writes become
// observable to other workers only after the next Barrier.
type Store interface {
	// Init allocates a read cache of maxCacheEntries rows and a write
	// staging area of maxWriteEntries rows, each valueSize floats wide,
	// over a key space of totalValues.
	Init(valueSize, totalValues, maxCacheEntries, maxWriteEntries int) error
	// Read resolves each key to a row in the cache; out[i] aliases cache
	// memory for keys[i].
	Read(keys []int32, out [][]float64, mode Mode) error
	// Write publishes one row per key.
	Write(keys []int32, values [][]float64) error
	// Purge invalidates all rows Read has returned and frees staging.
	Purge() error
	// Barrier globally synchronises: on return, all writes that completed
	// before any worker entered the barrier are observable.
	Barrier() error
	// IncludeMaster reports whether rank 0 hosts a shard.
	IncludeMaster() bool
	// Close releases transport resources.
	Close() error
}

// Type names a transport variant.
type Type string

const (
	// TypeFile is the local file-backed store for single-process runs.
	TypeFile Type = "file"
	// TypeRPC is the ZeroMQ multi-read/multi-write remote store.
	TypeRPC Type = "rpc"
	// TypeRDMA is the one-sided RDMA store.
	TypeRDMA Type = "rdma"
)

// ParseType maps a dkv-type flag value to a Type.
func ParseType(name string) (Type, error) {
	switch Type(name) {
	case TypeFile, TypeRPC, TypeRDMA:
		return Type(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// Sharding owns the key-to-rank mapping. Key k lives at rank k mod workers
// when the master hosts a shard, else at 1 + (k mod (size-1)).
type Sharding struct {
	size          int
	includeMaster bool
}

// NewSharding describes a cohort of size members.
func NewSharding(size int, includeMaster bool) Sharding {
	return Sharding{size: size, includeMaster: includeMaster}
}

// Workers returns the number of shard-hosting members.
func (s Sharding) Workers() int {
	if s.includeMaster || s.size == 1 {
		return s.size
	}
	return s.size - 1
}

// Owner returns the rank hosting key k.
func (s Sharding) Owner(k int32) int {
	if s.includeMaster || s.size == 1 {
		return int(k) % s.size
	}
	return 1 + int(k)%(s.size-1)
}

// LocalIndex returns the dense index of key k within its owner's shard.
func (s Sharding) LocalIndex(k int32) int {
	return int(k) / s.Workers()
}

// ShardCapacity returns the row count a shard needs to hold any of its keys
// out of a key space of totalValues.
func (s Sharding) ShardCapacity(totalValues int) int {
	return (totalValues + s.Workers() - 1) / s.Workers()
}
