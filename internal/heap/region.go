package heap

import (
	"sync"

	"github.com/charly-lang/charly/internal/value"
)

// RegionType tracks a region's place in the generational lifecycle (§4.1):
// Unused → Eden → (after one minor GC) Intermediate → (after another) Old.
type RegionType int

const (
	Unused RegionType = iota
	Eden
	Intermediate
	Old
)

func (t RegionType) String() string {
	switch t {
	case Unused:
		return "unused"
	case Eden:
		return "eden"
	case Intermediate:
		return "intermediate"
	case Old:
		return "old"
	default:
		return "invalid"
	}
}

// Region is a fixed 512 KiB slice of the heap's reservation, subdivided
// into 1 KiB spans carrying a dirty-bit card table (§4.1).
type Region struct {
	heap  *Heap
	index int
	buf   []byte // the region's full byte extent

	typ  RegionType
	used int64 // bytes bump-allocated so far

	mu       sync.Mutex
	dirty    [SpansPerRegion / 64]uint64 // one bit per span
	external map[uintptr]any             // external buffers owned by objects in this region
}

func newRegion(h *Heap, idx int, buf []byte, typ RegionType) *Region {
	return &Region{heap: h, index: idx, buf: buf, typ: typ}
}

// reset prepares a free-listed region for reuse as generation typ, clearing
// its bump pointer, dirty bits, and external-pointer list. The collector
// calls this (via Heap.Acquire) only after it has freed every external
// buffer the region's objects owned (§4.2 "External memory").
func (r *Region) reset(typ RegionType) {
	r.typ = typ
	r.used = 0
	r.dirty = [SpansPerRegion / 64]uint64{}
	r.external = nil
}

// Base returns the address of the first allocatable byte in the region.
func (r *Region) Base() uintptr {
	return r.heap.base + uintptr(r.index)*RegionSize
}

// Type returns the region's current generation/type.
func (r *Region) Type() RegionType { return r.typ }

// PromoteForTest reassigns a region's generation label without otherwise
// touching its contents. Production code only ever changes a region's type
// via reset (on acquisition) or evacuation; this exists so tests can set up
// an old-generation object without driving two real minor collections.
func (r *Region) PromoteForTest(typ RegionType) { r.typ = typ }

// Used returns the number of bytes bump-allocated in this region so far.
func (r *Region) Used() int64 { return r.used }

// Alloc bump-allocates size (already rounded by the caller to a multiple of
// 16) bytes of object space, returning the object's header address. Reports
// false if the region doesn't have room; the caller (a TAB) then requests a
// fresh region.
func (r *Region) Alloc(size int64) (uintptr, bool) {
	if size > int64(len(r.buf)) || r.used+size > int64(len(r.buf)) {
		return 0, false
	}
	addr := r.Base() + uintptr(r.used)
	r.used += size
	return addr, true
}

// spanIndex returns which 1 KiB span addr falls in, relative to this
// region's base.
func (r *Region) spanIndex(addr uintptr) int {
	return int((addr - r.Base()) / SpanSize)
}

// dirtySpanFor marks the span containing addr dirty: "some store in this
// span wrote a young pointer into an old-region object" (§4.1). Called by
// the Heap.SetField write barrier.
func (r *Region) dirtySpanFor(addr uintptr) {
	i := r.spanIndex(addr)
	r.mu.Lock()
	r.dirty[i/64] |= 1 << uint(i%64)
	r.mu.Unlock()
}

// IsSpanDirty reports whether span i is marked.
func (r *Region) IsSpanDirty(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty[i/64]&(1<<uint(i%64)) != 0
}

// ClearSpans resets every dirty bit, done at the start of each minor GC
// before rescanning (§4.2 "Card table maintenance").
func (r *Region) ClearSpans() {
	r.mu.Lock()
	r.dirty = [SpansPerRegion / 64]uint64{}
	r.mu.Unlock()
}

// DirtySpans returns the indices of every currently-dirty span.
func (r *Region) DirtySpans() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for w, word := range r.dirty {
		for word != 0 {
			b := word & (-word)
			bit := popcountTrailing(b)
			out = append(out, w*64+bit)
			word &^= b
		}
	}
	return out
}

func popcountTrailing(b uint64) int {
	n := 0
	for b > 1 {
		b >>= 1
		n++
	}
	return n
}

// ExternalBuffers returns every external-heap buffer owned by objects in
// this region, for the collector to free before the region is recycled
// (§4.2 "External memory").
func (r *Region) ExternalBuffers() map[uintptr]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.external
}

// SpanAddrRange returns the [start, end) byte range of span i.
func (r *Region) SpanAddrRange(i int) (uintptr, uintptr) {
	start := r.Base() + uintptr(i)*SpanSize
	return start, start + SpanSize
}

// objectsInSpan iterates the live object headers whose start address falls
// within span i, by walking bump-allocated objects from the region base.
// This linear walk is the straightforward implementation the spec assumes
// for "rescan that span's objects" (§4.1); a production implementation
// would keep a span->object index, noted as a possible follow-up.
func (r *Region) objectsInSpan(i int) []uintptr {
	start, end := r.SpanAddrRange(i)
	var out []uintptr
	addr := r.Base()
	limit := r.Base() + uintptr(r.used)
	for addr < limit {
		h := r.heap.Header(addr)
		size := value.Size(h.FieldCount(), false)
		if addr+uintptr(size) > start && addr < end {
			out = append(out, addr)
		}
		addr += uintptr(size)
	}
	return out
}
