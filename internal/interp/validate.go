package interp

import (
	"fmt"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// ValidateHeapConsistency walks every committed region's live bytes and
// re-checks the invariants a broken evacuator or header update would
// violate: every object's shape id must still be registered, its size must
// be positive, and its generation flag must agree with the region it is
// sitting in — an Old-region object never carries FlagYoungGeneration, and
// an Eden/Intermediate one always does (§4.1;
// internal/gc/evacuate.go's evacuate is the sole writer of this invariant).
// Forwarding slots and dirty-span coverage are not checked.
// Grounded on internal/gocore's DWARF-cross-validated object walk in the
// teacher's own gocore_test.go, replayed here against the shape registry
// instead of DWARF type info. Meant for --validate_heap debugging, not the
// hot path: only ever called from outside any Worker goroutine, between
// collections, the same best-effort-live-snapshot caveat internal/debugapi's
// HeapStats documents.
func (rt *Runtime) ValidateHeapConsistency() []error {
	var errs []error
	for _, r := range rt.Heap.AllRegions() {
		base := r.Base()
		limit := base + uintptr(r.Used())
		for addr := base; addr < limit; {
			hdr := rt.Heap.Header(addr)
			shapeID := hdr.ShapeID()

			if _, ok := rt.Shapes.Lookup(shapeID); !ok {
				errs = append(errs, fmt.Errorf("object at %#x: unregistered shape id %d", addr, shapeID))
			}

			young := hdr.HasFlag(value.FlagYoungGeneration)
			if r.Type() == heap.Old && young {
				errs = append(errs, fmt.Errorf("object at %#x: FlagYoungGeneration set in an Old region", addr))
			} else if r.Type() != heap.Old && r.Type() != heap.Unused && !young {
				errs = append(errs, fmt.Errorf("object at %#x: FlagYoungGeneration clear in a %s region", addr, r.Type()))
			}

			size := value.Size(hdr.FieldCount(), value.IsDataShaped(shapeID))
			if size <= 0 {
				errs = append(errs, fmt.Errorf("object at %#x: non-positive size %d, aborting region walk", addr, size))
				break
			}
			addr += uintptr(size)
		}
	}
	return errs
}
