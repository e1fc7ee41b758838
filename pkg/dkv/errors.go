package dkv

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrBufferOverflow means a read or write batch exceeds the configured
	// cache or staging capacity. The chunking logic upstream guarantees each
	// chunk fits, so overflow is a bug and must fail loudly, never evict.
	ErrBufferOverflow = errors.New("request exceeds configured capacity")
	// ErrNotInitialized means the store was used before Init.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrTransport wraps failures of the store's wire transport.
	ErrTransport = errors.New("dkv transport error")
	// ErrUnknownType means the dkv-type flag names no registered transport.
	ErrUnknownType = errors.New("unknown dkv store type")
	// ErrTransportUnavailable means the chosen transport is not built into
	// this binary.
	ErrTransportUnavailable = errors.New("dkv transport not available in this build")
	// ErrKeyRange means a key is outside [0, totalValues).
	ErrKeyRange = errors.New("key out of range")
)

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}
