package interp

import (
	"log"
	"sync"

	"github.com/charly-lang/charly/internal/gc"
	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/module"
	"github.com/charly-lang/charly/internal/sched"
	"github.com/charly-lang/charly/internal/value"
)

// Runtime is the process-global handle every Thread shares: the heap, the
// collector, the scheduler, and the three global tables (symbols, shapes,
// globals) the spec calls out as reader-writer-locked shared state (§5
// "Global runtime tables"). It also owns module registration, since a
// freshly registered module's functions need a GC root until some fiber
// closure captures them (internal/module.Module.Roots).
type Runtime struct {
	Heap      *heap.Heap
	Collector *gc.Collector
	Scheduler *sched.Scheduler
	Symbols   *value.SymbolRegistry
	Shapes    *value.ShapeRegistry
	Globals   *value.GlobalTable

	modulesMu sync.Mutex
	modules   []*module.Module

	gcRequest chan bool // non-blocking GC trigger; bool selects major

	// ValidateHeap enables a full heap-consistency walk after every
	// collection (--validate_heap), running
	// ValidateHeapConsistency (validate.go). Off by default: the walk is
	// O(live heap) and only meant for debugging a GC change.
	ValidateHeap bool

	// ReadLine, if set, backs the "readline" builtin: repl.ch calls it to
	// read one line of interactive input. cmd/charly's REPL front-end sets
	// this to a github.com/chzyer/readline-backed closure before running
	// repl.ch; headless runs (a plain script file) leave it nil, and the
	// builtin reports end-of-input immediately.
	ReadLine func(prompt string) (line string, ok bool)
}

// New wires a fresh Runtime: a heap, a shape registry, a global table, a
// collector whose root provider is the Runtime itself, and a scheduler
// sized to numProcessors (spec §2 "Control flow").
func New(numProcessors int) (*Runtime, error) {
	h, err := heap.New()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Heap:      h,
		Shapes:    value.NewShapeRegistry(),
		Symbols:   value.NewSymbolRegistry(),
		Globals:   value.NewGlobalTable(),
		gcRequest: make(chan bool, 1),
	}
	rt.Collector = gc.New(h, rt.Shapes, rt)
	rt.Scheduler = sched.NewScheduler(numProcessors, rt.Collector)
	return rt, nil
}

// Start launches the scheduler's workers and the background GC-request
// driver, and must be called before any fiber is spawned.
func (rt *Runtime) Start() {
	rt.Scheduler.Start()
	go rt.driveGC()
}

// Stop shuts the scheduler down. The GC driver goroutine exits once
// gcRequest is never sent to again; it is not explicitly cancelled since
// Stop only happens at process exit in practice.
func (rt *Runtime) Stop() { rt.Scheduler.Stop() }

// driveGC serializes every GC request through Scheduler.RequestCollection
// from outside any pinned Worker goroutine — running it on a Worker's own
// goroutine would deadlock, since RequestCollection waits for every Worker
// (including the one that would be calling it) to reach a safepoint first
// (spec §4.2 "Safepoint protocol": "every OTHER Worker observes it").
func (rt *Runtime) driveGC() {
	for major := range rt.gcRequest {
		rt.Scheduler.RequestCollection(major)
		if rt.ValidateHeap {
			if errs := rt.ValidateHeapConsistency(); len(errs) > 0 {
				for _, e := range errs {
					log.Printf("charly: heap validation: %v", e)
				}
			}
		}
	}
}

// RequestGC asks for a collection without blocking the caller. If one is
// already pending, the request is dropped — a second GC before the first
// even started would accomplish nothing.
func (rt *Runtime) RequestGC(major bool) {
	select {
	case rt.gcRequest <- major:
	default:
	}
}

// wakeParkedFiber turns a Future wait-queue entry (a FiberID, carried as a
// raw uintptr since value.WaitQueue is declared opaque to internal/value)
// back into a schedulable Fiber and reschedules it.
func (rt *Runtime) wakeParkedFiber(raw uintptr) {
	if f, ok := rt.Scheduler.Lookup(sched.FiberID(raw)); ok {
		rt.Scheduler.Wake(f)
	}
}

// RegisterModule installs b and keeps it alive for the Runtime's lifetime.
func (rt *Runtime) RegisterModule(tab *heap.TAB, b *module.Bundle) (*module.Module, error) {
	m, err := module.RegisterModule(rt.Heap, tab, rt.Symbols, rt.Shapes, b)
	if err != nil {
		return nil, err
	}
	rt.modulesMu.Lock()
	rt.modules = append(rt.modules, m)
	rt.modulesMu.Unlock()
	return m, nil
}

// GlobalNames returns the source name of every currently declared global,
// for tooling that wants to list or complete against them (cmd/charly's
// REPL tab completion) without reaching into rt.Globals/rt.Symbols itself.
func (rt *Runtime) GlobalNames() []string {
	names := rt.Globals.Names()
	out := make([]string, 0, len(names))
	for _, n := range names {
		if s, ok := rt.Symbols.Lookup(n); ok {
			out = append(out, s)
		}
	}
	return out
}

// Roots implements gc.RootProvider: every live fiber's frame chain, plus
// the global table, plus every registered module's function table (spec
// §4.2 "Minor... Roots: runtime roots", §5).
func (rt *Runtime) Roots() []*value.Value {
	var out []*value.Value
	out = append(out, rt.Globals.Roots()...)

	rt.modulesMu.Lock()
	for _, m := range rt.modules {
		out = append(out, m.Roots()...)
	}
	rt.modulesMu.Unlock()

	for _, sf := range rt.Scheduler.Fibers() {
		th, ok := sf.Body.(*Thread)
		if !ok {
			continue
		}
		out = append(out, th.roots()...)
	}
	return out
}
