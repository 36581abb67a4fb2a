// Package semaphore implements named, counting, cross-process semaphores
// used to synchronize a single writer and N readers over a mutable object
// channel.
//
// Unlike a libc sem_open/sem_wait/sem_post binding (which would require
// cgo), each named semaphore here is its own tiny memory-mapped segment
// holding one atomic counter word. Acquire/Release operate on that counter
// with a futex-style wait/wake for blocking, which is the same underlying
// primitive the allocator uses for the data buffer and header — one
// mechanism (named, memory-mapped region + futex) for the whole subsystem.
package semaphore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotImplemented is returned on platforms without the Linux futex(2)
// syscall this package relies on for blocking waits.
var ErrNotImplemented = errors.New("semaphore: not implemented on this platform")

// MaxUniqueNameLen bounds the unique name a caller may pass to Open, leaving
// room for the "hdr"/"obj" prefixes within common platform semaphore-name
// limits.
const MaxUniqueNameLen = 251 - 3

// headerPrefix and objectPrefix name the two semaphores derived from a
// channel's unique name.
const (
	headerPrefix = "hdr"
	objectPrefix = "obj"
)

// Pair bundles the two named semaphores backing one mutable object channel.
// It is deliberately a small value type: callers should copy it rather than
// hold a pointer into a map, since maps offer no pointer stability.
type Pair struct {
	Header *Semaphore
	Object *Semaphore
}

// Close closes both semaphore handles for this process. It does not unlink
// the underlying names; call Unlink for that.
func (p Pair) Close() error {
	var errs []error
	if p.Header != nil {
		if err := p.Header.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Object != nil {
		if err := p.Object.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// Unlink removes both underlying names so a later Open starts fresh. Safe to
// call from multiple processes; the last unlinker wins and earlier callers
// see no error.
func Unlink(uniqueName string) error {
	var errs []error
	if err := unlinkNamed(headerPrefix + uniqueName); err != nil {
		errs = append(errs, err)
	}
	if err := unlinkNamed(objectPrefix + uniqueName); err != nil {
		errs = append(errs, err)
	}
	return joinErrors(errs)
}

// Latch is the three-state creation latch a header exposes so that Open can
// elect exactly one creator among racing processes. header.Header implements
// this interface; it is declared here, by the consumer, so this package
// never needs to import the header package.
type Latch interface {
	// TryBeginCreate attempts the Uninitialized -> Initializing transition
	// and reports whether this caller won the race.
	TryBeginCreate() bool
	// MarkDone stores the Done state with release-ordering semantics.
	MarkDone()
	// WaitDone spin-waits until Done is observed (with acquire-ordering
	// semantics) or ctx is cancelled.
	WaitDone(ctx context.Context) error
}

// Open ensures both named semaphores for uniqueName exist and are open in
// this process, electing a single creator via latch when the pair has never
// been created before. It mirrors MutableObjectManager::OpenSemaphores: the
// winner unlinks any stale names left by a crashed run, creates both with
// exclusive-create semantics and an initial value of 1, then publishes Done;
// losers spin-wait on latch and then open (not create) both by name.
func Open(ctx context.Context, uniqueName string, latch Latch) (Pair, error) {
	if len(uniqueName) > MaxUniqueNameLen {
		return Pair{}, fmt.Errorf("semaphore: unique name %q exceeds %d bytes", uniqueName, MaxUniqueNameLen)
	}

	if latch.TryBeginCreate() {
		_ = Unlink(uniqueName) // defensive cleanup after a crashed prior run

		hdr, err := createNamed(headerPrefix+uniqueName, 1)
		if err != nil {
			return Pair{}, fmt.Errorf("semaphore: create header sem: %w", err)
		}
		obj, err := createNamed(objectPrefix+uniqueName, 1)
		if err != nil {
			hdr.Close()
			return Pair{}, fmt.Errorf("semaphore: create object sem: %w", err)
		}
		latch.MarkDone()
		return Pair{Header: hdr, Object: obj}, nil
	}

	if err := latch.WaitDone(ctx); err != nil {
		return Pair{}, fmt.Errorf("semaphore: waiting for creator: %w", err)
	}
	hdr, err := openNamed(headerPrefix + uniqueName)
	if err != nil {
		return Pair{}, fmt.Errorf("semaphore: open header sem: %w", err)
	}
	obj, err := openNamed(objectPrefix + uniqueName)
	if err != nil {
		hdr.Close()
		return Pair{}, fmt.Errorf("semaphore: open object sem: %w", err)
	}
	return Pair{Header: hdr, Object: obj}, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return errors.New(msg)
}
