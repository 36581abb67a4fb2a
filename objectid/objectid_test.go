package objectid

import "testing"

func TestNewIsUnique(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected distinct IDs, got two copies of %s", a)
	}
}

func TestFromBytesRoundTrip(t *testing.T) {
	want := New()
	got, err := FromBytes(want.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got != want {
		t.Fatalf("FromBytes(%x) = %x, want %x", want.Bytes(), got, want)
	}
}

func TestFromBytesWrongLength(t *testing.T) {
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestCompareTotalOrder(t *testing.T) {
	a := ID{0x01}
	b := ID{0x02}
	if a.Compare(b) >= 0 {
		t.Fatalf("a.Compare(b) = %d, want negative", a.Compare(b))
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("b.Compare(a) = %d, want positive", b.Compare(a))
	}
	if a.Compare(a) != 0 {
		t.Fatalf("a.Compare(a) = %d, want 0", a.Compare(a))
	}
}

func TestUsableAsMapKey(t *testing.T) {
	m := map[ID]int{}
	id := New()
	m[id] = 42
	if m[id] != 42 {
		t.Fatalf("map lookup failed for ID key")
	}
}

func TestIsNil(t *testing.T) {
	if !Nil.IsNil() {
		t.Fatalf("Nil.IsNil() = false")
	}
	if New().IsNil() {
		t.Fatalf("New().IsNil() = true")
	}
}
