// Package header implements the Object Header: a fixed-layout, shared-memory
// control block co-located with an object's data buffer. It is the
// cross-process ABI between a single writer and its readers, and carries the
// version/reader-count bookkeeping needed to hand a buffer off between them
// without the buffer itself ever moving.
//
// All field mutations except semaphoresCreated happen while holding the
// header semaphore (header_sem in the semaphore pair); semaphoresCreated
// uses atomic load/CAS/store directly, since it must be manipulable before
// any semaphore exists to protect it.
package header

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/jackhumphries/mutablechannel/internal/semaphore"
)

// ErrChannelError is returned by any acquire once a channel's has_error flag
// has been observed set.
var ErrChannelError = errors.New("header: channel is in the error state")

// latch states for semaphoresCreated.
const (
	latchUninitialized uint32 = 0
	latchInitializing  uint32 = 1
	latchDone          uint32 = 2
)

// latchPollInterval bounds how often WaitDone re-checks the latch while also
// watching ctx.Done().
const latchPollInterval = 200 * time.Microsecond

// maxUniqueNameLen is semaphore.MaxUniqueNameLen, the longest unique name
// semaphore.Open accepts; it sizes the uniqueName array field.
const maxUniqueNameLen = semaphore.MaxUniqueNameLen

// Header is the fixed shared-memory layout. Field order and sizes are part
// of the cross-process ABI; do not reorder or resize them, since every
// cooperating process maps this struct directly onto shared memory and the
// layout carries no format version.
type Header struct {
	uniqueName        [maxUniqueNameLen]byte
	uniqueNameLen     uint32
	semaphoresCreated uint32

	version                  uint64
	numReaders               uint64
	numReadAcquiresRemaining uint64
	numReadReleasesRemaining uint64
	dataSize                 uint64
	metadataSize             uint64

	hasError uint32
	_        uint32 // padding to keep the struct 8-byte aligned
}

// Size is the fixed size, in bytes, of Header as laid out in shared memory.
const Size = int(unsafe.Sizeof(Header{}))

// compile-time layout check: Header must be aligned so every uint64 field
// sits on an 8-byte boundary.
var _ [0]byte = [unsafe.Sizeof(Header{}) % 8]byte{}

// At maps a Header onto an already-allocated region of shared memory at the
// given byte offset. The caller owns the lifetime of mem.
func At(mem []byte, offset int) *Header {
	return (*Header)(unsafe.Pointer(&mem[offset]))
}

// Init prepares a freshly allocated header for use. Only the process that
// allocated the backing buffer should call this, before any other process
// has a pointer to it.
func (h *Header) Init(uniqueName string) error {
	if len(uniqueName) > maxUniqueNameLen {
		return errors.New("header: unique name too long")
	}
	copy(h.uniqueName[:], uniqueName)
	atomic.StoreUint32(&h.uniqueNameLen, uint32(len(uniqueName)))
	atomic.StoreUint32(&h.semaphoresCreated, latchUninitialized)
	atomic.StoreUint64(&h.version, 0)
	atomic.StoreUint32(&h.hasError, 0)
	return nil
}

// UniqueName returns the name this header was initialized with.
func (h *Header) UniqueName() string {
	n := atomic.LoadUint32(&h.uniqueNameLen)
	return string(h.uniqueName[:n])
}

// TryBeginCreate implements semaphore.Latch: attempts the
// Uninitialized -> Initializing transition and reports whether this caller
// won the race to create the semaphore pair.
func (h *Header) TryBeginCreate() bool {
	return atomic.CompareAndSwapUint32(&h.semaphoresCreated, latchUninitialized, latchInitializing)
}

// MarkDone implements semaphore.Latch: publishes Done with release ordering
// so that any process observing it also observes the now-created semaphores.
func (h *Header) MarkDone() {
	atomic.StoreUint32(&h.semaphoresCreated, latchDone)
}

// WaitDone implements semaphore.Latch: spin-waits (with acquire ordering)
// until Done is observed, or ctx is cancelled.
func (h *Header) WaitDone(ctx context.Context) error {
	for {
		if atomic.LoadUint32(&h.semaphoresCreated) == latchDone {
			return nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(latchPollInterval):
			}
		} else {
			time.Sleep(latchPollInterval)
		}
	}
}

// HasError reports the sticky error flag.
func (h *Header) HasError() bool {
	return atomic.LoadUint32(&h.hasError) != 0
}

// Version returns the current committed version.
func (h *Header) Version() uint64 {
	return atomic.LoadUint64(&h.version)
}

// DataSize and MetadataSize return the sizes committed by the most recent
// WriteAcquire.
func (h *Header) DataSize() uint64     { return atomic.LoadUint64(&h.dataSize) }
func (h *Header) MetadataSize() uint64 { return atomic.LoadUint64(&h.metadataSize) }

// WriteAcquire implements the writer side of the hand-off protocol. It
// blocks on object_sem until the previous version has fully drained, then
// records the new payload sizes and reader count under header_sem. The
// buffer is exclusively owned by the writer once this returns successfully;
// version is not advanced until WriteRelease.
func (h *Header) WriteAcquire(ctx context.Context, pair semaphore.Pair, dataSize, metadataSize, numReaders uint64) error {
	if err := pair.Object.Acquire(ctx); err != nil {
		return err
	}
	if err := pair.Header.Acquire(ctx); err != nil {
		pair.Object.Release()
		return err
	}
	defer pair.Header.Release()

	if h.HasError() {
		return ErrChannelError
	}

	atomic.StoreUint64(&h.dataSize, dataSize)
	atomic.StoreUint64(&h.metadataSize, metadataSize)
	atomic.StoreUint64(&h.numReaders, numReaders)
	atomic.StoreUint64(&h.numReadAcquiresRemaining, numReaders)
	atomic.StoreUint64(&h.numReadReleasesRemaining, numReaders)
	return nil
}

// WriteRelease implements the writer side of publishing a version: it bumps
// version under header_sem, then posts object_sem once per declared reader
// so each can proceed into ReadAcquire.
func (h *Header) WriteRelease(ctx context.Context, pair semaphore.Pair) error {
	if err := pair.Header.Acquire(ctx); err != nil {
		return err
	}
	atomic.AddUint64(&h.version, 1)
	numReaders := atomic.LoadUint64(&h.numReaders)
	pair.Header.Release()

	for i := uint64(0); i < numReaders; i++ {
		if err := pair.Object.Release(); err != nil {
			return err
		}
	}
	return nil
}

// ReadAcquire implements the reader side: it waits on object_sem until a
// version >= requestedMinVersion is visible and a read-acquire slot remains
// for it, then claims one and reports the version actually observed. When
// the writer has already advanced past requestedMinVersion, the reader jumps
// straight to the latest version rather than replaying intermediate ones.
func (h *Header) ReadAcquire(ctx context.Context, pair semaphore.Pair, requestedMinVersion uint64) (versionRead uint64, err error) {
	for {
		if err := pair.Object.Acquire(ctx); err != nil {
			return 0, err
		}

		if err := pair.Header.Acquire(ctx); err != nil {
			pair.Object.Release()
			return 0, err
		}

		if h.HasError() {
			pair.Header.Release()
			return 0, ErrChannelError
		}

		current := atomic.LoadUint64(&h.version)
		remaining := atomic.LoadUint64(&h.numReadAcquiresRemaining)

		if current < requestedMinVersion || remaining == 0 {
			// Either the writer hasn't published a fresh-enough version yet,
			// or this version's acquire slots are already claimed by other
			// readers. Put the signal back and wait for the next one.
			pair.Header.Release()
			if err := pair.Object.Release(); err != nil {
				return 0, err
			}
			continue
		}

		atomic.AddUint64(&h.numReadAcquiresRemaining, ^uint64(0)) // decrement
		versionRead = current
		pair.Header.Release()
		return versionRead, nil
	}
}

// ReadRelease implements the reader side of draining a version: it
// decrements num_read_releases_remaining under header_sem, and when the last
// reader releases, posts object_sem once so the writer's next WriteAcquire
// can proceed.
func (h *Header) ReadRelease(ctx context.Context, pair semaphore.Pair, versionJustRead uint64) error {
	if err := pair.Header.Acquire(ctx); err != nil {
		return err
	}
	remaining := atomic.AddUint64(&h.numReadReleasesRemaining, ^uint64(0))
	pair.Header.Release()

	if remaining == 0 {
		return pair.Object.Release()
	}
	return nil
}

// SetErrorUnlocked marks the channel errored and wakes any peer blocked on
// object_sem so the error is observed promptly rather than after an
// indefinite wait. It is idempotent and safe to call without already
// holding header_sem.
func (h *Header) SetErrorUnlocked(pair semaphore.Pair) error {
	if err := pair.Header.Acquire(nil); err != nil {
		return err
	}
	already := atomic.SwapUint32(&h.hasError, 1) != 0
	pair.Header.Release()

	if already {
		return nil
	}

	// Wake up to the number of readers that could plausibly be blocked,
	// plus one for a writer blocked in WriteAcquire. object_sem is posted
	// that many times whether or not anyone is actually waiting.
	wakes := int(atomic.LoadUint64(&h.numReaders)) + 1
	for i := 0; i < wakes; i++ {
		if err := pair.Object.Release(); err != nil {
			return err
		}
	}
	return nil
}
