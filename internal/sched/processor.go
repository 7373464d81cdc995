package sched

import "github.com/charly-lang/charly/internal/heap"

// Processor is one of the Scheduler's N logical cores: a local run queue,
// a timer min-heap, and a Thread Allocation Buffer (§4.3 "Topology", §4.1
// "TAB"). Each Processor is paired with one Worker for the runtime's
// lifetime (see Scheduler); a Worker that blocks in a native call keeps its
// Processor, which no other Worker takes over.
type Processor struct {
	index int
	queue localQueue
	Timer TimerQueue
	tab   *heap.TAB

	sched *Scheduler
}

func newProcessor(s *Scheduler, index int) *Processor {
	return &Processor{index: index, sched: s, tab: heap.NewTAB(s.collector.Heap)}
}

// Index returns the processor's position in Scheduler.processors, stable
// for the lifetime of the runtime.
func (p *Processor) Index() int { return p.index }

// Allocate bump-allocates size bytes out of this processor's TAB, the path
// every heap allocation in the interpreter goes through (§4.1 "Allocation
// requests go through the Processor's Thread Allocation Buffer").
func (p *Processor) Allocate(size int64) (uintptr, error) {
	return p.tab.Allocate(size)
}

// TAB exposes the processor's Thread Allocation Buffer directly, for the
// huge-object escape path (heap.Heap.NewHugeString/NewHugeBytes) which
// needs a *heap.TAB rather than just a size to allocate through.
func (p *Processor) TAB() *heap.TAB { return p.tab }

// ResetTAB drops the processor's current Eden region reference, used after
// a collection has reclaimed it out from under the TAB.
func (p *Processor) ResetTAB() { p.tab.Reset() }

// enqueue places f on this processor's local queue, spilling to the global
// run queue if the local queue is full (§4.3 "Topology").
func (p *Processor) enqueue(f *Fiber) {
	f.proc = p
	if !p.queue.pushBack(f) {
		p.sched.global.Push(f)
	}
}

// nextFiber implements §4.3 step 2's pick order: every Kth pick favors the
// global queue (fairness, so a burst of local work can't starve the global
// queue indefinitely), otherwise local-queue-first, then global, then
// steal.
const globalQueueBias = 61 // prime, per common M:N scheduler practice

func (p *Processor) nextFiber(tick uint64) *Fiber {
	if tick%globalQueueBias == 0 {
		if f := p.sched.global.Pop(); f != nil {
			return f
		}
	}
	if f := p.queue.popFront(); f != nil {
		return f
	}
	if f := p.sched.global.Pop(); f != nil {
		return f
	}
	return p.sched.stealFor(p)
}
