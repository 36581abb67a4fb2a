// Package shmalloc is a concrete allocator.Allocator backed by a single
// memory-mapped file per object, containing the Object Header followed
// immediately by the data buffer. It is the allocator this module ships for
// local testing and single-node use; nothing in the Channel Manager or
// Provider depends on it being the only implementation.
package shmalloc

import (
	"fmt"
	"sync"

	"github.com/jackhumphries/mutablechannel/allocator"
	"github.com/jackhumphries/mutablechannel/internal/header"
	"github.com/jackhumphries/mutablechannel/objectid"
)

// Allocator hands out mmap-backed MutableObjects, one segment per object.
type Allocator struct {
	mu            sync.Mutex
	allocatedSize uint64
	segments      map[objectid.ID]*segment
}

// New returns an Allocator whose objects each have allocatedSize bytes of
// buffer capacity for data+metadata.
func New(allocatedSize uint64) *Allocator {
	return &Allocator{
		allocatedSize: allocatedSize,
		segments:      make(map[objectid.ID]*segment),
	}
}

// GetMutableObject implements allocator.Allocator.
func (a *Allocator) GetMutableObject(id objectid.ID) (allocator.MutableObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if seg, ok := a.segments[id]; ok {
		return seg.mutableObject(id), nil
	}

	uniqueName := id.String()
	total := uint64(header.Size) + a.allocatedSize

	seg, created, err := openOrCreateSegment(uniqueName, total)
	if err != nil {
		return allocator.MutableObject{}, fmt.Errorf("shmalloc: %w", err)
	}
	if created {
		hdr := header.At(seg.mem, 0)
		if err := hdr.Init(uniqueName); err != nil {
			seg.close()
			return allocator.MutableObject{}, fmt.Errorf("shmalloc: init header: %w", err)
		}
	}

	a.segments[id] = seg
	return seg.mutableObject(id), nil
}

// Release implements allocator.Allocator.
func (a *Allocator) Release(id objectid.ID) error {
	a.mu.Lock()
	seg, ok := a.segments[id]
	if ok {
		delete(a.segments, id)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	return seg.close()
}

func (s *segment) mutableObject(id objectid.ID) allocator.MutableObject {
	return allocator.MutableObject{
		Buffer:        s.mem[header.Size:],
		Header:        header.At(s.mem, 0),
		AllocatedSize: uint64(len(s.mem) - header.Size),
		UniqueName:    id.String(),
	}
}
