// Package sched implements Charly's M:N fiber scheduler: a fixed pool of
// Worker OS threads multiplexing Processors, each running Fibers drawn from
// a local run queue, the global run queue, or stolen from a peer (spec
// §4.3).
package sched

import (
	"sync/atomic"
	"time"
)

// FiberID identifies a Fiber for the lifetime of the runtime. A value.Fiber
// heap object's "owner" field stores a FiberID (not a raw Go pointer) so
// the scheduler's bookkeeping never hands out an address Go's own garbage
// collector doesn't know about; the Scheduler keeps the authoritative
// *Fiber alive in a lookup table.
type FiberID uint64

// RunResult reports why a Body.Step call returned control to the
// scheduler.
type RunResult int

const (
	// Yielded means the fiber hit a safepoint (backwards branch, call,
	// allocation-triggered GC, or time-budget overrun) and should be
	// rescheduled onto a run queue.
	Yielded RunResult = iota
	// Parked means the fiber blocked on a pending Future (await) or a
	// timer (sleep) and must not be rescheduled until something wakes
	// it explicitly via Scheduler.Wake.
	Parked
	// Completed means the fiber's body returned or unwound past its
	// entry frame; its Future has already been resolved or rejected.
	Completed
)

// Body is implemented by the interpreter. Step resumes a fiber's bytecode
// dispatch loop from wherever it last yielded and runs it until the next
// safepoint, matching the "boost::context fcontext" cooperative handoff of
// §4.3 without needing real OS-level stack switching: the interpreter's
// frame/pc/stack state lives in the Fiber (or in state Body itself owns),
// and each Step call is one resumable slice of execution.
type Body interface {
	Step(f *Fiber) RunResult
}

// state tracks a Fiber's scheduling status, independent of its Body's
// internal bytecode-level state.
type state int32

const (
	stateRunnable state = iota
	stateRunning
	stateParked
	stateDone
)

// Fiber is the scheduler's resumable unit of work: a Body plus the
// bookkeeping needed to place it on a queue, steal it, time-budget it, and
// wake it. It is the scheduling-layer analogue of value.Fiber (the heap
// object): value.Fiber.OwnerAddr() stores this Fiber's ID so the two can
// find each other without an import cycle.
type Fiber struct {
	ID   FiberID
	Body Body

	// HeapAddr is the address of this fiber's backing value.Fiber object,
	// as passed to Scheduler.Spawn; the scheduler stores it and reads
	// nothing through it.
	HeapAddr uintptr

	state        int32 // atomic state
	proc         *Processor
	scheduledAt  time.Time // when this fiber was last handed to a Worker
	budget       time.Duration
	timeExceeded int32 // atomic; stamped by the watchdog (§5)
}

// DefaultTimeBudget bounds how long a fiber may run before the watchdog
// marks it overrun, forcing a yield at its next safepoint check (§5
// "Safepoints").
const DefaultTimeBudget = 10 * time.Millisecond

func newFiber(id FiberID, body Body, heapAddr uintptr) *Fiber {
	return &Fiber{ID: id, Body: body, HeapAddr: heapAddr, budget: DefaultTimeBudget}
}

func (f *Fiber) setState(s state) { atomic.StoreInt32(&f.state, int32(s)) }
func (f *Fiber) getState() state  { return state(atomic.LoadInt32(&f.state)) }

// Overrun reports whether the watchdog has stamped this fiber as exceeding
// its time budget since it last started running. The interpreter's
// safepoint check consults this alongside the worker's stop flag.
func (f *Fiber) Overrun() bool { return atomic.LoadInt32(&f.timeExceeded) != 0 }

func (f *Fiber) markOverrun()  { atomic.StoreInt32(&f.timeExceeded, 1) }
func (f *Fiber) clearOverrun() { atomic.StoreInt32(&f.timeExceeded, 0) }

// Processor returns the Processor this fiber is currently (or was last)
// scheduled on — nil only before the fiber has ever been enqueued. The
// interpreter routes every heap allocation through it (§4.1).
func (f *Fiber) Processor() *Processor { return f.proc }
