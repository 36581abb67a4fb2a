//go:build linux && (amd64 || arm64)

package channel

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackhumphries/mutablechannel/allocator/shmalloc"
	"github.com/jackhumphries/mutablechannel/objectid"
)

func newTestChannel(t *testing.T, allocatedSize uint64) (*Manager, objectid.ID, *shmalloc.Allocator) {
	t.Helper()
	alloc := shmalloc.New(allocatedSize)
	id := objectid.New()
	t.Cleanup(func() { alloc.Release(id) })
	return New(nil), id, alloc
}

// TestS1SingleReaderSingleWriter mirrors scenario S1.
func TestS1SingleReaderSingleWriter(t *testing.T) {
	mgr, id, alloc := newTestChannel(t, 64)
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	if err := mgr.RegisterChannel(ctx, id, obj, RoleWriter); err != nil {
		t.Fatalf("RegisterChannel(writer): %v", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, RoleReader); err != nil {
		t.Fatalf("RegisterChannel(reader): %v", err)
	}

	data := []byte{0x01, 0x02, 0x03, 0x04}
	metadata := []byte{0xAA, 0xBB}

	buf, err := mgr.WriteAcquire(ctx, id, 4, metadata, 2, 1)
	if err != nil {
		t.Fatalf("WriteAcquire: %v", err)
	}
	copy(buf, data)
	if err := mgr.WriteRelease(ctx, id); err != nil {
		t.Fatalf("WriteRelease: %v", err)
	}

	gotData, gotMetadata, version, err := mgr.ReadAcquire(ctx, id)
	if err != nil {
		t.Fatalf("ReadAcquire: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if !bytes.Equal(gotData, data) {
		t.Fatalf("data = %x, want %x", gotData, data)
	}
	if !bytes.Equal(gotMetadata, metadata) {
		t.Fatalf("metadata = %x, want %x", gotMetadata, metadata)
	}
	if err := mgr.ReadRelease(ctx, id); err != nil {
		t.Fatalf("ReadRelease: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := mgr.WriteAcquire(ctx, id, 4, metadata, 2, 1)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second WriteAcquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second WriteAcquire blocked unexpectedly")
	}
}

// TestS2OversizeWrite mirrors scenario S2.
func TestS2OversizeWrite(t *testing.T) {
	mgr, id, alloc := newTestChannel(t, 64)
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	if err := mgr.RegisterChannel(ctx, id, obj, RoleWriter); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	if _, err := mgr.WriteAcquire(ctx, id, 60, nil, 8, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("oversize WriteAcquire error = %v, want ErrInvalidArgument", err)
	}

	if _, err := mgr.WriteAcquire(ctx, id, 4, nil, 2, 1); err != nil {
		t.Fatalf("subsequent WriteAcquire: %v", err)
	}
}

// TestS3TwoReadersBothMustAck mirrors scenario S3.
func TestS3TwoReadersBothMustAck(t *testing.T) {
	mgr, id, alloc := newTestChannel(t, 64)
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	if err := mgr.RegisterChannel(ctx, id, obj, RoleWriter); err != nil {
		t.Fatalf("RegisterChannel(writer): %v", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, RoleReader); err != nil {
		t.Fatalf("RegisterChannel(reader): %v", err)
	}
	// A Channel's NextVersionToRead moves past a version once it has been
	// read, so the second reader gets its own Manager, as a second reader
	// process would.
	mgr2 := New(nil)
	t.Cleanup(func() { mgr2.Close() })
	if err := mgr2.RegisterChannel(ctx, id, obj, RoleReader); err != nil {
		t.Fatalf("RegisterChannel(second reader): %v", err)
	}

	if _, err := mgr.WriteAcquire(ctx, id, 1, nil, 0, 2); err != nil {
		t.Fatalf("WriteAcquire: %v", err)
	}
	if err := mgr.WriteRelease(ctx, id); err != nil {
		t.Fatalf("WriteRelease: %v", err)
	}

	for i, reader := range []*Manager{mgr, mgr2} {
		_, _, version, err := reader.ReadAcquire(ctx, id)
		if err != nil {
			t.Fatalf("reader %d ReadAcquire: %v", i, err)
		}
		if version != 1 {
			t.Fatalf("reader %d version = %d, want 1", i, version)
		}
		if err := reader.ReadRelease(ctx, id); err != nil {
			t.Fatalf("reader %d ReadRelease: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := mgr.WriteAcquire(ctx, id, 1, nil, 0, 1)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WriteAcquire after both readers drained: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WriteAcquire blocked after both readers drained")
	}
}

// TestS4ShutdownUnblocks mirrors scenario S4.
func TestS4ShutdownUnblocks(t *testing.T) {
	mgr, id, alloc := newTestChannel(t, 64)
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}

	if err := mgr.RegisterChannel(ctx, id, obj, RoleReader); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, _, err := mgr.ReadAcquire(ctx, id)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := mgr.SetError(id); err != nil {
		t.Fatalf("SetError: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrChannelError) {
			t.Fatalf("blocked ReadAcquire error = %v, want ErrChannelError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked ReadAcquire never returned after SetError")
	}
}

func TestDoubleRegistrationRejected(t *testing.T) {
	mgr, id, alloc := newTestChannel(t, 64)
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	if err := mgr.RegisterChannel(ctx, id, obj, RoleWriter); err != nil {
		t.Fatalf("first RegisterChannel: %v", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, RoleWriter); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("second RegisterChannel error = %v, want ErrInvalidRegistration", err)
	}
}

func TestUnregisteredObjectOperations(t *testing.T) {
	mgr := New(nil)
	if _, err := mgr.GetHeader(objectid.New()); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("GetHeader error = %v, want ErrNotRegistered", err)
	}
}
