//go:build linux && (amd64 || arm64)

package semaphore

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// Linux futex operation codes, shared (non-private) variants: the counter
// word lives in a MAP_SHARED mapping and waiters and wakers may be in
// different processes, which FUTEX_PRIVATE_FLAG operations would not match.
const (
	futexWaitShared = 0 // FUTEX_WAIT
	futexWakeShared = 1 // FUTEX_WAKE
)

// pollInterval bounds how long a context-aware wait blocks in the kernel
// before re-checking ctx.Done(), mirroring the ticker-based spin in the
// teacher's handshake wait loops.
const pollInterval = 20 * time.Millisecond

// Semaphore is a named counting semaphore backed by a memory-mapped word.
type Semaphore struct {
	name string
	seg  *mmapSegment
}

func createNamed(name string, initial uint32) (*Semaphore, error) {
	seg, err := createSegment(name, initial)
	if err != nil {
		return nil, err
	}
	return &Semaphore{name: name, seg: seg}, nil
}

func openNamed(name string) (*Semaphore, error) {
	seg, err := openSegment(name)
	if err != nil {
		return nil, err
	}
	return &Semaphore{name: name, seg: seg}, nil
}

// Acquire blocks until the semaphore can be decremented, or until ctx is
// cancelled. A nil ctx blocks indefinitely.
func (s *Semaphore) Acquire(ctx context.Context) error {
	for {
		if v := atomic.LoadUint32(s.seg.count); v > 0 {
			if atomic.CompareAndSwapUint32(s.seg.count, v, v-1) {
				return nil
			}
			continue
		}

		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if ctx == nil {
			if err := futexWait(s.seg.count, 0); err != nil {
				return err
			}
			continue
		}
		// Re-check after a bounded wait so ctx cancellation is observed
		// promptly even if no Release ever arrives.
		_ = futexWaitTimeout(s.seg.count, 0, pollInterval)
	}
}

// TryAcquire attempts to decrement the semaphore without blocking.
func (s *Semaphore) TryAcquire() bool {
	for {
		v := atomic.LoadUint32(s.seg.count)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.seg.count, v, v-1) {
			return true
		}
	}
}

// Release increments the semaphore and wakes one waiter.
func (s *Semaphore) Release() error {
	atomic.AddUint32(s.seg.count, 1)
	_, err := futexWake(s.seg.count, 1)
	return err
}

// Close releases this process's handle to the semaphore. It does not unlink
// the underlying name.
func (s *Semaphore) Close() error {
	return s.seg.close()
}

func futexWait(addr *uint32, val uint32) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	_, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitShared,
		uintptr(val),
		0,
		0,
		0,
	)
	if errno != 0 && errno != syscall.EAGAIN && errno != syscall.EINTR {
		return fmt.Errorf("futex wait: %w", errno)
	}
	return nil
}

func futexWaitTimeout(addr *uint32, val uint32, d time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	ts := syscall.NsecToTimespec(d.Nanoseconds())
	_, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitShared,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
	if errno != 0 && errno != syscall.EAGAIN && errno != syscall.EINTR && errno != syscall.ETIMEDOUT {
		return fmt.Errorf("futex wait: %w", errno)
	}
	return nil
}

func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeShared,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake: %w", errno)
	}
	return int(r1), nil
}
