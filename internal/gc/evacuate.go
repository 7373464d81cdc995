package gc

import (
	"fmt"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// evacuator runs one collection cycle: it owns the destination TABs, the
// worklist of newly-copied objects still needing their fields scanned, and
// the set of source regions being collected this round (released once
// every survivor has been copied out).
type evacuator struct {
	c     *Collector
	major bool

	intermediateTAB *heap.TAB
	oldTAB          *heap.TAB

	worklist []uintptr // addresses of freshly evacuated objects awaiting field scan
	sources  []*heap.Region

	stats Stats
}

func (ev *evacuator) tabFor(gen heap.RegionType) *heap.TAB {
	switch gen {
	case heap.Intermediate:
		if ev.intermediateTAB == nil {
			ev.intermediateTAB = heap.NewTABForGeneration(ev.c.Heap, heap.Intermediate)
		}
		return ev.intermediateTAB
	case heap.Old:
		if ev.oldTAB == nil {
			ev.oldTAB = heap.NewTABForGeneration(ev.c.Heap, heap.Old)
		}
		return ev.oldTAB
	default:
		panic(fmt.Sprintf("gc: no evacuation target for region type %v", gen))
	}
}

// targetGen decides where a surviving object should land: Eden objects
// always go to a fresh Intermediate region; Intermediate objects promote to
// Old once their survivor count reaches 2 (§4.2, §3.5); Old objects only
// move during a Major collection's compaction pass, and stay Old.
func (ev *evacuator) targetGen(h value.Header, srcType heap.RegionType) heap.RegionType {
	switch srcType {
	case heap.Eden:
		return heap.Intermediate
	case heap.Intermediate:
		if h.SurvivorCount()+1 >= 2 {
			return heap.Old
		}
		return heap.Intermediate
	case heap.Old:
		return heap.Old
	default:
		panic("gc: evacuating object out of a region with no generation")
	}
}

// shouldFollow decides whether a pointer field's target needs to be
// evacuated at all. A Minor collection only evacuates Eden and
// Intermediate objects — reaching an Old-generation pointer during normal
// traversal is a dead end, per §4.2's "traversal stops at old-generation
// pointers unless force_mark is set". A Major collection evacuates and
// compacts every generation, so it always follows.
func (ev *evacuator) shouldFollow(region *heap.Region) bool {
	if ev.major {
		return true
	}
	return region.Type() != heap.Old
}

// evacuate copies the object at oldAddr to its generation-appropriate
// destination (or returns its already-recorded forwarding address if
// another path already evacuated it), and schedules its fields for
// scanning.
func (ev *evacuator) evacuate(oldAddr uintptr) uintptr {
	h := ev.c.Heap.Header(oldAddr)
	if h.IsForwarded() {
		return ev.c.Heap.Base() + uintptr(h.ForwardSlot())*16
	}

	srcRegion := ev.c.Heap.RegionAt(oldAddr)
	dataShaped := value.IsDataShaped(h.ShapeID())
	size := value.Size(h.FieldCount(), dataShaped)
	destGen := ev.targetGen(h, srcRegion.Type())

	newAddr, err := ev.tabFor(destGen).Allocate(size)
	if err != nil {
		// An evacuation target region couldn't be acquired: the heap is
		// fully committed mid-collection. This is the fatal-abort path of
		// §7.3 (invariant violation, not a language-level condition the
		// mutator can react to).
		panic(fmt.Sprintf("gc: FAIL out of memory while evacuating: %v", err))
	}
	ev.c.Heap.CopyObject(newAddr, oldAddr, size)
	if ext := ev.c.Heap.External(oldAddr); ext != nil {
		ev.c.Heap.SetExternal(newAddr, ext)
	}

	newHeader := ev.c.Heap.Header(newAddr)
	newHeader.ClearForwardSlot()
	if destGen == heap.Old {
		newHeader.ClearFlag(value.FlagYoungGeneration)
	} else {
		newHeader.SetFlag(value.FlagYoungGeneration)
		newHeader.IncSurvivorCount()
	}

	h.SetForwardSlot(uint32((newAddr - ev.c.Heap.Base()) / 16))

	ev.stats.Evacuated++
	ev.stats.Bytes += size
	if !dataShaped {
		ev.worklist = append(ev.worklist, newAddr)
	}
	return newAddr
}

// retag builds the Value that should be stored in place of a pointer whose
// target just moved to destGen.
func retag(addr uintptr, destGen heap.RegionType) value.Value {
	return value.NewPointer(addr, destGen != heap.Old)
}

// visitField evacuates (if needed) the pointer currently stored at
// (ownerAddr, field) and rewrites it to the post-evacuation address.
func (ev *evacuator) visitField(ownerAddr uintptr, field int) {
	v := ev.c.Heap.Field(ownerAddr, field)
	if !v.IsPointer() {
		return
	}
	targetRegion := ev.c.Heap.RegionAt(v.Address())
	if targetRegion == nil || !ev.shouldFollow(targetRegion) {
		return
	}
	newAddr := ev.evacuate(v.Address())
	destRegion := ev.c.Heap.RegionAt(newAddr)
	ev.c.Heap.SetField(ownerAddr, field, retag(newAddr, destRegion.Type()))
}

// visitRootCell evacuates (if needed) the pointer held by a root cell and
// rewrites the cell in place.
func (ev *evacuator) visitRootCell(cell *value.Value) {
	v := *cell
	if !v.IsPointer() {
		return
	}
	targetRegion := ev.c.Heap.RegionAt(v.Address())
	if targetRegion == nil || !ev.shouldFollow(targetRegion) {
		return
	}
	newAddr := ev.evacuate(v.Address())
	destRegion := ev.c.Heap.RegionAt(newAddr)
	*cell = retag(newAddr, destRegion.Type())
}

// run executes one full collection cycle.
func (ev *evacuator) run() {
	// Snapshot the regions being collected before acquiring any fresh
	// destination regions, so we never accidentally release a region we
	// just evacuated survivors into.
	for _, r := range ev.c.Heap.AllRegions() {
		switch r.Type() {
		case heap.Eden, heap.Intermediate:
			ev.sources = append(ev.sources, r)
		case heap.Old:
			if ev.major {
				ev.sources = append(ev.sources, r)
			}
		}
	}

	// Dirty-span rescan over Old regions: the only mechanism that
	// discovers old→young/intermediate edges, since normal traversal
	// never visits Old objects' fields (§4.2 "Card table maintenance").
	for _, r := range ev.c.Heap.AllRegions() {
		if r.Type() != heap.Old {
			continue
		}
		for _, span := range r.DirtySpans() {
			start, end := r.SpanAddrRange(span)
			for objAddr, limit := r.Base(), r.Base()+uintptr(r.Used()); objAddr < limit; {
				h := ev.c.Heap.Header(objAddr)
				next := objAddr + uintptr(value.Size(h.FieldCount(), value.IsDataShaped(h.ShapeID())))
				if next <= start || objAddr >= end || value.IsDataShaped(h.ShapeID()) {
					objAddr = next
					continue
				}
				for i := 0; i < int(h.FieldCount()); i++ {
					if value.IsOpaqueField(h.ShapeID(), i) {
						continue
					}
					ev.visitField(objAddr, i)
				}
				objAddr = next
			}
		}
		r.ClearSpans()
	}

	// Runtime roots.
	for _, cell := range ev.c.Roots.Roots() {
		ev.visitRootCell(cell)
	}

	// Drain the worklist (Cheney-style breadth-first evacuation).
	for len(ev.worklist) > 0 {
		addr := ev.worklist[len(ev.worklist)-1]
		ev.worklist = ev.worklist[:len(ev.worklist)-1]
		h := ev.c.Heap.Header(addr)
		if value.IsDataShaped(h.ShapeID()) {
			continue
		}
		for i := 0; i < int(h.FieldCount()); i++ {
			if value.IsOpaqueField(h.ShapeID(), i) {
				continue
			}
			ev.visitField(addr, i)
		}
	}

	// Every source region's survivors have now been copied out (or, for
	// Old regions during a non-major collection, were never sources).
	// Free each source's external buffers and return it to the free list
	// (§4.2 "External memory", §4.1 free list).
	for _, r := range ev.sources {
		for _, buf := range r.ExternalBuffers() {
			_ = buf // released by letting Go's own GC reclaim it; ownership ends here.
		}
		ev.c.Heap.Release(r)
		ev.stats.Freed++
	}
}
