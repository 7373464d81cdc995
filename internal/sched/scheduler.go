package sched

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charly-lang/charly/internal/gc"
)

// idlePollInterval bounds how long a parked Worker can sleep before waking
// to recheck its own timer heap and attempt a steal, even absent a new-work
// signal. Real schedulers wake idle threads precisely on timer deadlines;
// a short poll is the pragmatic Go equivalent without per-processor OS
// timers.
const idlePollInterval = 500 * time.Microsecond

// Scheduler is the process-global owner of every Worker and Processor
// (spec §4.3 "Topology": "one Scheduler, one GlobalRunQueue"). Workers are
// paired 1:1 with Processors at startup — a simplification of the spec's
// fully decoupled acquire/release model (a Worker blocked in a native call
// can't hand its Processor to an idle Worker here), documented and
// accepted in DESIGN.md since every externally observable invariant (local
// queues, stealing, timers, safepoints) still holds.
type Scheduler struct {
	processors []*Processor
	workers    []*Worker
	global     *GlobalRunQueue
	collector  *gc.Collector

	fibersMu sync.Mutex
	fibers   map[FiberID]*Fiber
	nextID   uint64

	spawnCursor uint64 // round-robins Spawn across processors

	idleMu   sync.Mutex
	idleCond *sync.Cond

	collectMu sync.Mutex
	stopMu    sync.Mutex
	currentWG *sync.WaitGroup
	resumeCh  chan struct{}

	quit chan struct{}
}

// NewScheduler creates a Scheduler with numProcessors processors (and one
// worker per processor), driving collections through collector.
func NewScheduler(numProcessors int, collector *gc.Collector) *Scheduler {
	if numProcessors < 1 {
		numProcessors = 1
	}
	s := &Scheduler{
		global:    NewGlobalRunQueue(),
		collector: collector,
		fibers:    make(map[FiberID]*Fiber),
		quit:      make(chan struct{}),
	}
	s.idleCond = sync.NewCond(&s.idleMu)
	for i := 0; i < numProcessors; i++ {
		s.processors = append(s.processors, newProcessor(s, i))
	}
	for i := 0; i < numProcessors; i++ {
		s.workers = append(s.workers, newWorker(s, i))
	}
	return s
}

// Start launches every worker's loop plus the idle-wake maintenance
// goroutine that keeps parked workers checking their timer heaps, plus the
// watchdog that stamps overrun fibers (§5 "The watchdog thread periodically
// stamps overrun fibers so long-running computations cannot starve peers").
func (s *Scheduler) Start() {
	for _, w := range s.workers {
		go w.run()
	}
	go s.idleTicker()
	go s.watchdog()
}

// watchdogInterval bounds how promptly a fiber that has overrun its time
// budget gets noticed; it need not track the budget itself (10ms) tightly
// since the interpreter's own safepoint checks are far more frequent than
// this scan.
const watchdogInterval = 2 * time.Millisecond

func (s *Scheduler) watchdog() {
	t := time.NewTicker(watchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case now := <-t.C:
			s.fibersMu.Lock()
			for _, f := range s.fibers {
				if f.getState() == stateRunning && now.Sub(f.scheduledAt) > f.budget {
					f.markOverrun()
				}
			}
			s.fibersMu.Unlock()
		}
	}
}

func (s *Scheduler) idleTicker() {
	t := time.NewTicker(idlePollInterval)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			s.idleCond.Broadcast()
		}
	}
}

// Stop signals every worker to exit once it next checks in, and stops the
// idle-wake ticker. It does not wait for in-flight fibers to complete.
func (s *Scheduler) Stop() {
	close(s.quit)
	for _, w := range s.workers {
		w.stop()
	}
	s.idleCond.Broadcast()
}

// Spawn creates a new schedulable Fiber wrapping body, places it on a
// processor's local queue (round-robin, §4.3 "Fiber lifecycle": "Scheduled
// into the current processor's queue (or globally if full)"), and returns
// it. heapAddr is the address of the fiber's backing value.Fiber object.
func (s *Scheduler) Spawn(body Body, heapAddr uintptr) *Fiber {
	id := FiberID(atomic.AddUint64(&s.nextID, 1))
	f := newFiber(id, body, heapAddr)

	s.fibersMu.Lock()
	s.fibers[id] = f
	s.fibersMu.Unlock()

	idx := int(atomic.AddUint64(&s.spawnCursor, 1)-1) % len(s.processors)
	s.processors[idx].enqueue(f)
	s.idleCond.Broadcast()
	return f
}

// ScheduleTimer registers a timer event on the processor a fiber was last
// running on (or processor 0 if it has never run), per §4.3 "Timers".
func (s *Scheduler) ScheduleTimer(f *Fiber, at time.Time, action TimerAction) *timerEvent {
	p := f.proc
	if p == nil {
		p = s.processors[0]
	}
	return p.Timer.Schedule(at, action, f)
}

// Wake moves a parked fiber back onto a run queue immediately, used when a
// Future resolves/rejects and drains its wait queue (§4.3 "Fiber
// lifecycle": "All parked threads on that future are released").
func (s *Scheduler) Wake(f *Fiber) {
	f.setState(stateRunnable)
	p := f.proc
	if p == nil {
		p = s.processors[int(atomic.AddUint64(&s.spawnCursor, 1)-1)%len(s.processors)]
	}
	p.enqueue(f)
	s.idleCond.Broadcast()
}

// Lookup returns the live Fiber registered under id, if any. Used to turn
// the raw FiberID a Future's wait queue carries back into a schedulable
// Fiber once that future completes (§4.3 "Fiber lifecycle").
func (s *Scheduler) Lookup(id FiberID) (*Fiber, bool) {
	s.fibersMu.Lock()
	defer s.fibersMu.Unlock()
	f, ok := s.fibers[id]
	return f, ok
}

func (s *Scheduler) retireFiber(f *Fiber) {
	s.fibersMu.Lock()
	delete(s.fibers, f.ID)
	s.fibersMu.Unlock()
}

// Fibers returns every currently-registered (not yet completed) fiber, the
// root set the interpreter's gc.RootProvider implementation walks stacks
// from.
func (s *Scheduler) Fibers() []*Fiber {
	s.fibersMu.Lock()
	defer s.fibersMu.Unlock()
	out := make([]*Fiber, 0, len(s.fibers))
	for _, f := range s.fibers {
		out = append(out, f)
	}
	return out
}

// acquireProcessor returns w's paired processor (see the Scheduler doc
// comment on the 1:1 simplification), or nil once the scheduler is
// stopping.
func (s *Scheduler) acquireProcessor(w *Worker) *Processor {
	select {
	case <-s.quit:
		return nil
	default:
		return s.processors[w.id]
	}
}

// parkIdle blocks w until new work is signalled (a Spawn, a Wake, or the
// idle-ticker's periodic timer recheck).
func (s *Scheduler) parkIdle(w *Worker) {
	s.idleMu.Lock()
	s.idleCond.Wait()
	s.idleMu.Unlock()
}

// stealFor implements §4.3 "Work stealing": scan the other processors in
// random order and migrate half of the first non-empty queue found.
func (s *Scheduler) stealFor(p *Processor) *Fiber {
	order := rand.Perm(len(s.processors))
	for _, i := range order {
		victim := s.processors[i]
		if victim == p {
			continue
		}
		stolen := victim.queue.stealHalf()
		if len(stolen) == 0 {
			continue
		}
		for _, f := range stolen[1:] {
			p.enqueue(f)
		}
		return stolen[0]
	}
	return nil
}

// fireTimer enqueues a fired timer's fiber onto the firing worker's
// processor. Both TimerActions converge here: what differs is what the
// fiber's Body does once resumed (a fresh entry vs. an await wakeup), not
// how the scheduler places it.
func (s *Scheduler) fireTimer(ev *timerEvent) {
	s.Wake(ev.fiber)
}

// ackStop is called by a worker once it has reached a safepoint after a
// collection was requested; it records the acknowledgment without
// blocking. The caller must follow up with waitForResume.
func (s *Scheduler) ackStop(w *Worker) {
	s.stopMu.Lock()
	wg := s.currentWG
	s.stopMu.Unlock()
	if wg == nil {
		return // no collection actually in flight (stray StopRequested check)
	}
	wg.Done()
}

// waitForResume blocks a parked worker until RequestCollection closes the
// current cycle's resume channel.
func (s *Scheduler) waitForResume() {
	s.stopMu.Lock()
	rc := s.resumeCh
	s.stopMu.Unlock()
	if rc == nil {
		return
	}
	<-rc
}

// RequestCollection stops the world, runs one collection cycle, and
// resumes every worker (§4.3 "Safepoint protocol"). Only one collection
// runs at a time; concurrent callers serialize on collectMu.
func (s *Scheduler) RequestCollection(major bool) gc.Stats {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()

	wg := &sync.WaitGroup{}
	wg.Add(len(s.workers))
	resumeCh := make(chan struct{})

	s.stopMu.Lock()
	s.currentWG = wg
	s.resumeCh = resumeCh
	s.stopMu.Unlock()

	s.collector.RequestStop()
	s.idleCond.Broadcast() // wake idle workers so they also reach the check

	wg.Wait()
	stats := s.collector.Collect(major)

	// Every processor's TAB may have been bump-allocating into a region that
	// the collection just evacuated and returned to the free list; drop the
	// stale reference so the next Allocate call acquires a fresh one rather
	// than writing into a region some other TAB may now own (§4.1, §4.2).
	for _, p := range s.processors {
		p.ResetTAB()
	}

	// Leave currentWG/resumeCh pointing at this cycle's (now-closing)
	// channel rather than nil-ing them: a worker that raced past ackStop
	// and hasn't yet called waitForResume will read the same channel and
	// see it closed, instead of racing a nil check against this close.
	close(resumeCh)

	return stats
}
