//go:build !linux || !(amd64 || arm64)

package semaphore

import "context"

// Semaphore is the non-Linux stand-in: every operation reports
// ErrNotImplemented rather than falling back to a slower emulation of
// futex(2)/shared-memory-unlink semantics.
type Semaphore struct{}

func createNamed(name string, initial uint32) (*Semaphore, error) {
	return nil, ErrNotImplemented
}

func openNamed(name string) (*Semaphore, error) {
	return nil, ErrNotImplemented
}

func unlinkNamed(name string) error {
	return ErrNotImplemented
}

func (s *Semaphore) Acquire(ctx context.Context) error {
	return ErrNotImplemented
}

func (s *Semaphore) TryAcquire() bool {
	return false
}

func (s *Semaphore) Release() error {
	return ErrNotImplemented
}

func (s *Semaphore) Close() error {
	return ErrNotImplemented
}
