//go:build linux && (amd64 || arm64)

package shmalloc

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

type segment struct {
	file *os.File
	mem  []byte
	path string
}

func segmentPath(name string) string {
	base := "/dev/shm"
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		base = os.TempDir()
	}
	return filepath.Join(base, "mutchan_obj_"+name)
}

// openOrCreateSegment opens the existing backing file for name, or creates
// and sizes it if this is the first allocator to touch it. created reports
// which path was taken so the caller knows whether to Init the header.
func openOrCreateSegment(name string, size uint64) (seg *segment, created bool, err error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err == nil {
		created = true
	} else if os.IsExist(err) {
		file, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, false, fmt.Errorf("open segment %s: %w", path, err)
		}
	} else {
		return nil, false, fmt.Errorf("create segment %s: %w", path, err)
	}

	if created {
		if err := file.Truncate(int64(size)); err != nil {
			file.Close()
			os.Remove(path)
			return nil, false, fmt.Errorf("resize segment: %w", err)
		}
	}

	mem, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		if created {
			os.Remove(path)
		}
		return nil, false, fmt.Errorf("mmap segment %s: %w", path, err)
	}

	return &segment{file: file, mem: mem, path: path}, created, nil
}

func (s *segment) close() error {
	var firstErr error
	if s.mem != nil {
		if err := syscall.Munmap(s.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap segment: %w", err)
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
