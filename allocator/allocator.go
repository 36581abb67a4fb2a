// Package allocator defines the interface the Channel Manager and Provider
// use to obtain the shared-memory backing for an object: a data buffer plus
// a co-located Object Header. The allocator itself — how the backing region
// is carved out of a larger arena, how it's named, how it's reclaimed — is
// an external collaborator; this package only fixes the shape a consumer
// depends on.
package allocator

import (
	"github.com/jackhumphries/mutablechannel/internal/header"
	"github.com/jackhumphries/mutablechannel/objectid"
)

// MutableObject is the handle an allocator hands back for one object: a
// writable data buffer and a pointer into shared memory for its Object
// Header. It is owned uniquely by whichever Channel registers it.
type MutableObject struct {
	// Buffer is the contiguous region available for data+metadata, sized to
	// AllocatedSize.
	Buffer []byte
	// Header points into shared memory; its lifetime is tied to the backing
	// segment, not to this process.
	Header *header.Header
	// AllocatedSize is the capacity available for data+metadata within
	// Buffer.
	AllocatedSize uint64
	// UniqueName is the stable identity used to derive this object's
	// semaphore pair names.
	UniqueName string
}

// Allocator produces and releases the shared-memory backing for mutable
// objects.
type Allocator interface {
	// GetMutableObject returns the MutableObject backing id, allocating it
	// on first call for a given id within this allocator's lifetime.
	GetMutableObject(id objectid.ID) (MutableObject, error)
	// Release frees the backing region for id. Callers must have completed
	// any in-flight acquire/release pairs first.
	Release(id objectid.ID) error
}
