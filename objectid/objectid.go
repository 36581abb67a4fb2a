// Package objectid defines the opaque identifier used to name mutable
// object channels across processes and nodes.
package objectid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the fixed width of an ObjectID in bytes.
const Size = 16

// ID is an opaque, fixed-width, hashable, totally ordered object identifier.
// It is comparable and usable directly as a map key.
type ID [Size]byte

// Nil is the zero-value ID.
var Nil ID

// New generates a fresh, randomly-sourced ID.
func New() ID {
	var id ID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// FromBytes builds an ID from an existing byte slice, which must be exactly
// Size bytes long.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("objectid: want %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw bytes of the ID.
func (id ID) Bytes() []byte {
	return id[:]
}

// String returns a stable hex encoding of the ID, suitable for deriving
// semaphore and shared-memory segment names.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare gives a total order over IDs: -1, 0, or 1, the same contract as
// bytes.Compare.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}
