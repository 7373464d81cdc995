package value

import "testing"

func TestHeaderPackedFields(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := NewHeader(buf)

	h.SetShapeID(42)
	h.SetFieldCount(7)
	if h.ShapeID() != 42 {
		t.Errorf("ShapeID = %d, want 42", h.ShapeID())
	}
	if h.FieldCount() != 7 {
		t.Errorf("FieldCount = %d, want 7", h.FieldCount())
	}

	if got := h.IncSurvivorCount(); got != 1 {
		t.Errorf("IncSurvivorCount = %d, want 1", got)
	}
	h.IncSurvivorCount()
	if h.SurvivorCount() != 2 {
		t.Errorf("SurvivorCount = %d, want 2", h.SurvivorCount())
	}

	// Mutating survivor count must not disturb shape id / field count.
	if h.ShapeID() != 42 || h.FieldCount() != 7 {
		t.Fatal("unrelated header fields clobbered by IncSurvivorCount")
	}
}

func TestHeaderSpinlock(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := NewHeader(buf)
	if !h.TryLock() {
		t.Fatal("first TryLock should succeed")
	}
	if h.TryLock() {
		t.Fatal("second TryLock should fail while held")
	}
	h.Unlock()
	if !h.TryLock() {
		t.Fatal("TryLock should succeed again after Unlock")
	}
}

func TestHeaderForwardSlot(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := NewHeader(buf)
	if h.IsForwarded() {
		t.Fatal("fresh header should not be forwarded")
	}
	h.SetForwardSlot(123)
	if !h.IsForwarded() || h.ForwardSlot() != 123 {
		t.Fatal("forward slot round trip failed")
	}
	h.ClearForwardSlot()
	if h.IsForwarded() {
		t.Fatal("ClearForwardSlot should reset IsForwarded")
	}
}

func TestAlign16AndSize(t *testing.T) {
	cases := []struct{ n, want int64 }{
		{0, 0}, {1, 16}, {15, 16}, {16, 16}, {17, 32},
	}
	for _, c := range cases {
		if got := Align16(c.n); got != c.want {
			t.Errorf("Align16(%d) = %d, want %d", c.n, got, c.want)
		}
	}
	// Invariant §8.1: size = align16(header + count*unit size).
	if got, want := Size(3, false), HeaderSize+int64(Align16(24)); got != want {
		t.Errorf("Size(3 fields) = %d, want %d", got, want)
	}
}
