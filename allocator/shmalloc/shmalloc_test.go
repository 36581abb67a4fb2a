//go:build linux && (amd64 || arm64)

package shmalloc

import (
	"testing"

	"github.com/jackhumphries/mutablechannel/objectid"
)

func TestGetMutableObjectIsStableAcrossCalls(t *testing.T) {
	a := New(64)
	id := objectid.New()

	obj1, err := a.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}
	defer a.Release(id)

	if obj1.AllocatedSize != 64 {
		t.Fatalf("AllocatedSize = %d, want 64", obj1.AllocatedSize)
	}
	if obj1.UniqueName != id.String() {
		t.Fatalf("UniqueName = %q, want %q", obj1.UniqueName, id.String())
	}

	obj2, err := a.GetMutableObject(id)
	if err != nil {
		t.Fatalf("second GetMutableObject: %v", err)
	}
	if obj2.Header != obj1.Header {
		t.Fatalf("second call returned a different header pointer")
	}
}

func TestReleaseThenReallocate(t *testing.T) {
	a := New(32)
	id := objectid.New()

	if _, err := a.GetMutableObject(id); err != nil {
		t.Fatalf("GetMutableObject: %v", err)
	}
	if err := a.Release(id); err != nil {
		t.Fatalf("Release: %v", err)
	}

	obj, err := a.GetMutableObject(id)
	if err != nil {
		t.Fatalf("GetMutableObject after release: %v", err)
	}
	defer a.Release(id)

	if obj.Header.HasError() {
		t.Fatalf("freshly reallocated header has error set")
	}
}
