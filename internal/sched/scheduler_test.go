package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/charly-lang/charly/internal/gc"
	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// countingBody completes after exactly n Step calls, yielding every time
// before that — a stand-in for the interpreter's dispatch loop.
type countingBody struct {
	remaining int32
	ran       int32
}

func (b *countingBody) Step(f *Fiber) RunResult {
	atomic.AddInt32(&b.ran, 1)
	if atomic.AddInt32(&b.remaining, -1) <= 0 {
		return Completed
	}
	return Yielded
}

type noRoots struct{}

func (noRoots) Roots() []*value.Value { return nil }

func newTestScheduler(t *testing.T, numProcessors int) *Scheduler {
	t.Helper()
	h, err := heap.New()
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	collector := gc.New(h, value.NewShapeRegistry(), noRoots{})
	s := NewScheduler(numProcessors, collector)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestSpawnedFiberRunsToCompletion(t *testing.T) {
	s := newTestScheduler(t, 2)
	body := &countingBody{remaining: 5}
	s.Spawn(body, 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&body.ran) >= 5 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("fiber did not complete: ran=%d", atomic.LoadInt32(&body.ran))
}

func TestWorkStealingDrainsAnOverloadedProcessor(t *testing.T) {
	s := newTestScheduler(t, 4)

	const n = 100
	bodies := make([]*countingBody, n)
	for i := range bodies {
		bodies[i] = &countingBody{remaining: 1}
		// Bypass round-robin Spawn and pile everything onto processor 0,
		// simulating one hot processor that needs to shed work to peers.
		f := newFiber(FiberID(i+1), bodies[i], 0)
		s.processors[0].enqueue(f)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		done := 0
		for _, b := range bodies {
			if atomic.LoadInt32(&b.ran) > 0 {
				done++
			}
		}
		if done == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("not all fibers ran; work stealing likely stalled")
}

func TestTimerFiresAfterDeadline(t *testing.T) {
	s := newTestScheduler(t, 1)
	body := &countingBody{remaining: 1}
	f := newFiber(1, body, 0)
	f.proc = s.processors[0]
	f.setState(stateParked)

	s.ScheduleTimer(f, time.Now().Add(5*time.Millisecond), WakeFiber)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&body.ran) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timer never fired its fiber")
}

func TestRequestCollectionStopsAndResumesAllWorkers(t *testing.T) {
	s := newTestScheduler(t, 3)
	body := &countingBody{remaining: 1 << 20} // long-running, keeps workers busy
	s.Spawn(body, 0)
	time.Sleep(5 * time.Millisecond) // let workers pick it up and start spinning

	done := make(chan gc.Stats, 1)
	go func() { done <- s.RequestCollection(false) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RequestCollection did not complete — a worker failed to reach a safepoint")
	}
}
