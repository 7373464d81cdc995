// Package heap implements Charly's region-partitioned managed heap: a
// single self-aligned virtual reservation split into fixed-size regions,
// each owned at any moment by at most one generation, with a per-processor
// Thread Allocation Buffer bump-allocating into the current Eden region
// (spec §4.1).
package heap

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/charly-lang/charly/internal/value"
)

const (
	// Size is the single virtual range reserved for the whole heap.
	Size = 64 << 30 // 64 GiB
	// RegionSize is the size of one region, the unit the heap grows and
	// shrinks by.
	RegionSize = 512 << 10 // 512 KiB
	// SpanSize is the card-table granularity within a region.
	SpanSize = 1 << 10 // 1 KiB
	// SpansPerRegion is the number of dirty-bit cards per region.
	SpansPerRegion = RegionSize / SpanSize
	// MaxObjectPayload is the largest object payload a region can host;
	// anything bigger escapes to an external buffer (§4.1).
	MaxObjectPayload = RegionSize - value.HeaderSize
)

// Heap owns the single 64 GiB virtual reservation and the region
// bookkeeping layered over it. pointer & ^(Size-1) recovers h.base for any
// address the heap has handed out, per spec §4.1.
type Heap struct {
	raw  []byte  // the full, self-aligned, over-mapped reservation
	base uintptr // aligned base address within raw

	mu            sync.Mutex // guards free/unmapped lists and region type sets (§5)
	regionByIndex []*Region  // index == (addr-base)/RegionSize, lazily populated
	free          []*Region  // mapped, unused regions ready for immediate reuse
	unmapped      []int      // region indices reserved but not yet committed

	growThreshold   float64 // free/mapped ratio below which the heap grows
	shrinkThreshold float64 // idle-time ratio above which the heap shrinks
}

// New reserves the heap's virtual address range and returns a Heap ready to
// hand out regions. No regions are committed (mmap'd with real protection)
// until first acquisition, matching §4.1 "mmap is deferred until first
// acquisition".
func New() (*Heap, error) {
	// Plain mmap gives no alignment guarantee, so reserve 2x and carve out
	// a self-aligned Size-byte window from the middle, releasing the
	// unused slack back to the OS. This is the standard trick for getting
	// self-aligned mappings without a platform-specific MAP_ALIGN flag.
	raw, err := unix.Mmap(-1, 0, 2*Size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes: %w", 2*Size, err)
	}
	rawBase := uintptr(unsafe.Pointer(&raw[0]))
	base := (rawBase + uintptr(Size) - 1) &^ uintptr(Size-1)

	if prefix := base - rawBase; prefix > 0 {
		if err := unix.Munmap(raw[:prefix]); err != nil {
			return nil, fmt.Errorf("heap: release alignment prefix: %w", err)
		}
	}
	suffixOff := (base - rawBase) + uintptr(Size)
	if suffixOff < uintptr(len(raw)) {
		if err := unix.Munmap(raw[suffixOff:]); err != nil {
			return nil, fmt.Errorf("heap: release alignment suffix: %w", err)
		}
	}

	numRegions := Size / RegionSize
	h := &Heap{
		raw:             raw,
		base:            base,
		regionByIndex:   make([]*Region, numRegions),
		unmapped:        make([]int, numRegions),
		growThreshold:   0.1,
		shrinkThreshold: 0.5,
	}
	for i := range h.unmapped {
		h.unmapped[i] = i
	}
	return h, nil
}

// Close releases the heap's virtual reservation entirely. Only meant for
// process shutdown / tests.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := unsafe.Slice((*byte)(unsafe.Pointer(h.base)), Size)
	return unix.Munmap(buf)
}

// Base returns the heap's aligned base address.
func (h *Heap) Base() uintptr { return h.base }

// regionBytes returns the byte slice covering a region's full extent
// (header-table + object space), given its index.
func (h *Heap) regionBytes(idx int) []byte {
	addr := h.base + uintptr(idx)*RegionSize
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), RegionSize)
}

// indexOf returns the region index owning addr.
func (h *Heap) indexOf(addr uintptr) int {
	return int((addr - h.base) / RegionSize)
}

// Acquire hands out a region for generation gen, preferring the free list
// (already-mapped regions) and falling back to committing a fresh page
// range from the unmapped list. Returns an error if the heap is fully
// committed and has no free regions (the caller, typically a TAB, should
// trigger a GC and retry, per §4.1).
func (h *Heap) Acquire(gen RegionType) (*Region, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.free); n > 0 {
		r := h.free[n-1]
		h.free = h.free[:n-1]
		r.reset(gen)
		return r, nil
	}
	if n := len(h.unmapped); n > 0 {
		idx := h.unmapped[n-1]
		h.unmapped = h.unmapped[:n-1]
		buf := h.regionBytes(idx)
		if err := unix.Mprotect(buf, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			h.unmapped = append(h.unmapped, idx)
			return nil, fmt.Errorf("heap: commit region %d: %w", idx, err)
		}
		r := newRegion(h, idx, buf, gen)
		h.regionByIndex[idx] = r
		return r, nil
	}
	return nil, ErrHeapExhausted
}

// Release returns an emptied region to the free list for immediate reuse.
// Called by the collector once a region's survivors have all been
// evacuated elsewhere (§4.2).
func (h *Heap) Release(r *Region) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.typ = Unused
	h.free = append(h.free, r)
}

// Unmap hands a free region's pages back to the OS (mprotect PROT_NONE),
// the shrink half of §4.1. It checks no threshold itself; the caller
// decides when the heap should shrink.
func (h *Heap) Unmap(r *Region) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := unix.Mprotect(r.buf, unix.PROT_NONE); err != nil {
		return fmt.Errorf("heap: unmap region %d: %w", r.index, err)
	}
	h.unmapped = append(h.unmapped, r.index)
	h.regionByIndex[r.index] = nil
	return nil
}

// ShouldGrow reports whether the free/mapped ratio has fallen below the
// growth threshold and the heap should acquire more regions proactively.
func (h *Heap) ShouldGrow() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	mapped := len(h.regionByIndex) - len(h.unmapped)
	if mapped == 0 {
		return false
	}
	return float64(len(h.free))/float64(mapped) < h.growThreshold
}

// ErrHeapExhausted is returned by Acquire when every region is committed
// and in use.
var ErrHeapExhausted = fmt.Errorf("heap: no free or unmapped regions available")

// regionAt returns the region owning addr, or nil if addr doesn't fall
// within a committed region.
func (h *Heap) regionAt(addr uintptr) *Region {
	if addr < h.base || addr >= h.base+Size {
		return nil
	}
	return h.regionByIndex[h.indexOf(addr)]
}

// --- value.Memory implementation -------------------------------------------

func (h *Heap) Header(addr uintptr) value.Header {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), value.HeaderSize)
	return value.NewHeader(buf)
}

func fieldPtr(addr uintptr, i int) *uint64 {
	return (*uint64)(unsafe.Pointer(addr + value.HeaderSize + uintptr(i)*8))
}

func (h *Heap) Field(addr uintptr, i int) value.Value {
	return value.Value(*fieldPtr(addr, i))
}

func (h *Heap) SetField(addr uintptr, i int, v value.Value) {
	*fieldPtr(addr, i) = uint64(v)
	if v.IsYoungPointer() {
		if r := h.regionAt(addr); r != nil && r.typ != Eden {
			r.dirtySpanFor(addr)
		}
	}
}

func bytePtr(addr uintptr, i int) *byte {
	return (*byte)(unsafe.Pointer(addr + value.HeaderSize + uintptr(i)))
}

func (h *Heap) Byte(addr uintptr, i int) byte     { return *bytePtr(addr, i) }
func (h *Heap) SetByte(addr uintptr, i int, b byte) { *bytePtr(addr, i) = b }

func (h *Heap) External(addr uintptr) any {
	r := h.regionAt(addr)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.external[addr]
}

func (h *Heap) SetExternal(addr uintptr, p any) {
	r := h.regionAt(addr)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		delete(r.external, addr)
		return
	}
	if r.external == nil {
		r.external = make(map[uintptr]any)
	}
	r.external[addr] = p
}

// CopyObject copies size bytes (header + payload) from src to dst. Used by
// the collector during evacuation (§4.2).
func (h *Heap) CopyObject(dst, src uintptr, size int64) {
	dstBuf := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	srcBuf := unsafe.Slice((*byte)(unsafe.Pointer(src)), size)
	copy(dstBuf, srcBuf)
}

// RegionAt exposes regionAt to other packages (the collector needs to find
// an object's containing region to recycle/rescan it).
func (h *Heap) RegionAt(addr uintptr) *Region { return h.regionAt(addr) }

// AllRegions returns every committed region, in index order. Used by the
// collector to enumerate old/intermediate regions for dirty-span rescans
// and by --validate_heap for a full-heap walk.
func (h *Heap) AllRegions() []*Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Region
	for _, r := range h.regionByIndex {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

var _ value.Memory = (*Heap)(nil)
