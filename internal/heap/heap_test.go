package heap

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/charly-lang/charly/internal/value"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	r, err := h.Acquire(Eden)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if r.Type() != Eden {
		t.Fatalf("Type() = %v, want Eden", r.Type())
	}
	if _, ok := r.Alloc(64); !ok {
		t.Fatal("Alloc should succeed in a fresh region")
	}
	h.Release(r)

	r2, err := h.Acquire(Old)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if r2 != r {
		t.Fatal("Acquire should reuse the freed region rather than committing a new one")
	}
	if r2.Used() != 0 {
		t.Fatal("reset region should report zero used bytes")
	}
}

func TestAllocatorEnforces16ByteAlignment(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	tab := NewTAB(h)
	a1, err := tab.Allocate(value.Align16(value.HeaderSize + 8))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := tab.Allocate(value.Align16(value.HeaderSize + 8))
	if err != nil {
		t.Fatal(err)
	}
	if (a2-a1)%16 != 0 {
		t.Fatalf("allocations not 16-byte separated: %x, %x", a1, a2)
	}
}

func TestWriteBarrierDirtiesOldRegionSpan(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	tab := NewTAB(h)
	addr, err := tab.Allocate(value.Size(1, false))
	if err != nil {
		t.Fatal(err)
	}
	h.Header(addr).SetFieldCount(1)
	r := h.regionAt(addr)
	r.typ = Old // promote in place for the test

	young := value.NewPointer(0x1000, true)
	h.SetField(addr, 0, young)

	span := r.spanIndex(addr)
	if !r.IsSpanDirty(span) {
		t.Fatal("storing a young pointer into an old-region object must dirty its span")
	}
}

func TestHugeObjectEscapesToExternalBuffer(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()
	tab := NewTAB(h)

	addr, err := h.NewHugeString(tab, "this pretends to be enormous")
	if err != nil {
		t.Fatal(err)
	}
	buf, ok := h.External(addr).(*HugeBuffer)
	if !ok {
		t.Fatal("expected a HugeBuffer external pointer")
	}
	if string(buf.Data) != "this pretends to be enormous" {
		t.Fatalf("HugeBuffer.Data = %q", buf.Data)
	}
}

func TestRegionUnmapReleasesPages(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	r, err := h.Acquire(Eden)
	if err != nil {
		t.Fatal(err)
	}
	h.Release(r)
	h.mu.Lock()
	h.free = h.free[:len(h.free)-1]
	h.mu.Unlock()

	if err := h.Unmap(r); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	// A PROT_NONE page must not be touched; we only assert the syscall
	// accepted the request (exercises golang.org/x/sys/unix directly, the
	// same way the teacher's test suite uses unix.Setrlimit).
	if err := unix.Mprotect(r.buf, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		t.Fatalf("re-committing an unmapped region should succeed: %v", err)
	}
}
