package heap

import (
	"fmt"

	"github.com/charly-lang/charly/internal/value"
)

// TAB is a Thread Allocation Buffer: the per-Processor bump allocator into
// the heap's Eden regions (§4.1). Despite the name (carried over from the
// spec's terminology), one TAB belongs to a Processor, not an OS thread —
// consistent with §4.3's Processor/Worker split.
type TAB struct {
	heap   *Heap
	gen    RegionType
	region *Region
}

// NewTAB creates an empty TAB bound to heap, bump-allocating into Eden
// regions. It acquires its first region lazily, on the first Allocate
// call.
func NewTAB(h *Heap) *TAB {
	return &TAB{heap: h, gen: Eden}
}

// NewTABForGeneration creates a TAB that allocates directly into regions
// of the given generation. The collector uses this for evacuation targets
// (Intermediate during minor GC, Old during major GC) instead of the
// Eden-only mutator path (§4.2 "Evacuation").
func NewTABForGeneration(h *Heap, gen RegionType) *TAB {
	return &TAB{heap: h, gen: gen}
}

// ErrObjectTooLarge is returned when size exceeds what a single region can
// host; such objects must use the huge-object escape path instead (§4.1).
var ErrObjectTooLarge = fmt.Errorf("heap: object payload exceeds region capacity")

// Allocate reserves size bytes (header + payload, 16-byte aligned) for a
// new object and returns its header address. On region overflow it
// releases the exhausted region (it will be collected shortly) and
// acquires a fresh one; if the heap has no region to give, it returns
// ErrHeapExhausted and the caller must trigger a GC and retry (§4.1).
func (t *TAB) Allocate(size int64) (uintptr, error) {
	if size > MaxObjectPayload+value.HeaderSize {
		return 0, ErrObjectTooLarge
	}
	if t.region != nil {
		if addr, ok := t.region.Alloc(size); ok {
			return addr, nil
		}
		// Exhausted: the region will be swept up by the next GC. We don't
		// return it to the free list ourselves — the collector owns that
		// decision once it has scanned for survivors.
		t.region = nil
	}
	r, err := t.heap.Acquire(t.gen)
	if err != nil {
		return 0, err
	}
	t.region = r
	addr, ok := r.Alloc(size)
	if !ok {
		return 0, ErrObjectTooLarge
	}
	return addr, nil
}

// Region returns the TAB's current Eden region, or nil if none has been
// acquired yet.
func (t *TAB) Region() *Region { return t.region }

// Reset drops the TAB's current region reference without returning it to
// the heap; used when a GC has already reclaimed or repurposed the region
// out from under the TAB.
func (t *TAB) Reset() { t.region = nil }
