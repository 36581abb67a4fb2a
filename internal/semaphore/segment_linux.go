//go:build linux && (amd64 || arm64)

package semaphore

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"
)

// segmentWordSize is the size, in bytes, of the memory-mapped region backing
// one named semaphore: a single uint32 counter, padded to a page-friendly
// word boundary.
const segmentWordSize = 64

type mmapSegment struct {
	file  *os.File
	mem   []byte
	count *uint32
}

func segmentPath(name string) string {
	base := "/dev/shm"
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		base = os.TempDir()
	}
	return filepath.Join(base, "mutchan_sem_"+name)
}

func createSegment(name string, initial uint32) (*mmapSegment, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("create semaphore segment %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := file.Truncate(segmentWordSize); err != nil {
		cleanup()
		return nil, fmt.Errorf("resize semaphore segment: %w", err)
	}

	mem, err := syscall.Mmap(int(file.Fd()), 0, segmentWordSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap semaphore segment: %w", err)
	}

	seg := &mmapSegment{
		file:  file,
		mem:   mem,
		count: (*uint32)(unsafe.Pointer(&mem[0])),
	}
	*seg.count = initial
	return seg, nil
}

func openSegment(name string) (*mmapSegment, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open semaphore segment %s: %w", path, err)
	}

	mem, err := syscall.Mmap(int(file.Fd()), 0, segmentWordSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap semaphore segment: %w", err)
	}

	return &mmapSegment{
		file:  file,
		mem:   mem,
		count: (*uint32)(unsafe.Pointer(&mem[0])),
	}, nil
}

func (s *mmapSegment) close() error {
	var firstErr error
	if s.mem != nil {
		if err := syscall.Munmap(s.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap semaphore segment: %w", err)
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	return firstErr
}

func unlinkNamed(name string) error {
	path := segmentPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink semaphore %s: %w", path, err)
	}
	return nil
}
