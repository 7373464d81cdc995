// Package gc implements Charly's stop-the-world, evacuating, compacting,
// generational garbage collector (spec §4.2).
package gc

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// RootProvider supplies the collector with every root storage cell: local
// variables, operand-stack slots, captured-context slots, and global
// variables. Roots are handed back as *value.Value rather than plain
// values so the collector can rewrite them in place once evacuation moves
// an object (the Cheney-style "fix-up pass" of §4.2).
type RootProvider interface {
	// Roots returns every root cell live right now. Called with the world
	// stopped (§4.3's safepoint protocol guarantees no concurrent writer).
	Roots() []*value.Value
	// Old regions with dirty spans are not supplied here: the collector
	// finds them itself by walking every committed region (§4.2 "Minor"
	// traversal).
}

// Collector drives minor and major collections over a heap, consulting a
// RootProvider for the root set and a shape registry to tell data-shaped
// objects (opaque bytes) from tuple/instance-shaped ones (Value fields).
type Collector struct {
	Heap   *heap.Heap
	Shapes *value.ShapeRegistry
	Roots  RootProvider

	// stopRequested is observed by every Worker at its next safepoint
	// (§4.3 "Safepoint protocol"); Collector.RequestStop sets it, and
	// Collect clears it when the collection it runs returns.
	stopRequested int32

	mu sync.Mutex // serializes concurrent collection requests
}

// New creates a Collector over h, using registry for shape metadata and
// roots for the root set.
func New(h *heap.Heap, registry *value.ShapeRegistry, roots RootProvider) *Collector {
	return &Collector{Heap: h, Shapes: registry, Roots: roots}
}

// RequestStop sets the global "collect" request flag. Workers observe this
// at their next checkpoint and park (§4.3).
func (c *Collector) RequestStop() { atomic.StoreInt32(&c.stopRequested, 1) }

// StopRequested reports whether a collection has been requested. The
// interpreter's safepoint check (internal/interp) polls this.
func (c *Collector) StopRequested() bool { return atomic.LoadInt32(&c.stopRequested) != 0 }

func (c *Collector) clearStopRequested() { atomic.StoreInt32(&c.stopRequested, 0) }

// Stats summarizes one completed collection, useful for CLI reporting
// (--heap-stats) and tests.
type Stats struct {
	Major     bool
	Evacuated int64 // objects copied
	Bytes     int64 // bytes copied
	Freed     int64 // regions returned to the free list
}

// Collect runs one stop-the-world collection. major selects the Major
// algorithm (§4.2); otherwise a Minor collection runs. The caller (the
// scheduler) is responsible for having already driven every other Worker
// to a safepoint before calling this.
func (c *Collector) Collect(major bool) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.clearStopRequested()

	ev := &evacuator{c: c, major: major}
	ev.run()

	log.Printf("gc: major=%v evacuated=%d bytes=%d freed_regions=%d",
		major, ev.stats.Evacuated, ev.stats.Bytes, ev.stats.Freed)
	return ev.stats
}
