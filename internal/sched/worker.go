package sched

import (
	"runtime"
	"sync/atomic"
	"time"
)

// WorkerState mirrors the state machine of §4.3: "AcquiringProc → Running →
// Idle (with transient WorldStopped and Native states)".
type WorkerState int32

const (
	WorkerAcquiringProc WorkerState = iota
	WorkerRunning
	WorkerIdle
	WorkerWorldStopped
	WorkerNative
)

func (s WorkerState) String() string {
	switch s {
	case WorkerAcquiringProc:
		return "acquiring_proc"
	case WorkerRunning:
		return "running"
	case WorkerIdle:
		return "idle"
	case WorkerWorldStopped:
		return "world_stopped"
	case WorkerNative:
		return "native"
	default:
		return "invalid"
	}
}

// Worker is one OS thread driving the scheduler loop. Pinned with
// runtime.LockOSThread the same way program/server's ptraceRun pins its
// dedicated thread: the scheduler's safepoint bookkeeping assumes a fixed
// Worker-to-OS-thread mapping so a stop-the-world request can enumerate
// and wait on a known, stable set of threads.
type Worker struct {
	id    int
	sched *Scheduler
	state int32 // atomic WorkerState
	proc  *Processor
	tick  uint64

	stopAck chan struct{} // never sent; stop acknowledgement goes through Scheduler.ackStop
	quit    chan struct{}
}

func newWorker(s *Scheduler, id int) *Worker {
	return &Worker{
		id:      id,
		sched:   s,
		stopAck: make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

func (w *Worker) setState(s WorkerState) { atomic.StoreInt32(&w.state, int32(s)) }

// State returns the worker's current state, for --heap-stats-style
// introspection (internal/debugapi).
func (w *Worker) State() WorkerState { return WorkerState(atomic.LoadInt32(&w.state)) }

// run is the Worker's main loop (§4.3 "Worker loop"), executed on its own
// locked OS thread.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-w.quit:
			return
		default:
		}

		w.setState(WorkerAcquiringProc)
		proc := w.sched.acquireProcessor(w)
		if proc == nil {
			return // scheduler shutting down
		}
		w.proc = proc

		for {
			if w.sched.collector.StopRequested() {
				w.parkForCollection()
			}

			w.tick++
			now := time.Now()
			for _, ev := range proc.Timer.Expired(now) {
				w.sched.fireTimer(ev)
			}

			f := proc.nextFiber(w.tick)
			if f == nil {
				w.setState(WorkerIdle)
				w.sched.parkIdle(w)
				break // processor released; re-acquire at outer loop
			}

			w.setState(WorkerRunning)
			w.runFiber(f)
		}
	}
}

// runFiber steps a fiber once, through to its next safepoint, and
// reschedules or finalizes it according to the result (§4.3 steps 4-5).
func (w *Worker) runFiber(f *Fiber) {
	f.setState(stateRunning)
	f.scheduledAt = time.Now()
	f.clearOverrun()

	result := f.Body.Step(f)

	switch result {
	case Yielded:
		f.setState(stateRunnable)
		w.proc.enqueue(f)
	case Parked:
		f.setState(stateParked)
		// The Body is responsible for having already registered f for a
		// wakeup (Future.Park or a sleep timer); the scheduler's job here
		// is only to not requeue it.
	case Completed:
		f.setState(stateDone)
		w.sched.retireFiber(f)
	}
}

// parkForCollection acknowledges a pending stop-the-world request and
// blocks until the collector has run (§4.3 "Safepoint protocol").
func (w *Worker) parkForCollection() {
	w.setState(WorkerWorldStopped)
	w.sched.ackStop(w)
	w.sched.waitForResume()
	w.setState(WorkerAcquiringProc)
}

// stop signals the worker to exit its loop once it next checks quit.
func (w *Worker) stop() { close(w.quit) }
