package value

import "errors"

// FutureState is the exactly-one-of-three lifecycle state of a Future
// (spec §3.4, invariant §8.9).
type FutureState int64

const (
	FuturePending FutureState = iota
	FutureResolved
	FutureRejected
)

const (
	futureFieldState  = 0
	futureFieldResult = 1 // resolved value, or the rejection exception
	FutureFieldCount  = 2
)

// WaitQueue is the out-of-heap, dynamically grown array of parked fiber
// pointers a pending Future keeps (spec §3.4). It is created by the first
// Park on a pending Future and dropped on completion, so a completed
// Future never has one; installed/retrieved through
// Memory.External so the owning region's external-pointer list can free it
// once the Future is collected (§4.2 "External memory").
type WaitQueue struct {
	waiters []uintptr // raw Fiber/Thread addresses, opaque to this package
}

func (q *WaitQueue) Add(addr uintptr) { q.waiters = append(q.waiters, addr) }
func (q *WaitQueue) Drain() []uintptr {
	w := q.waiters
	q.waiters = nil
	return w
}

// Future is a typed view over a heap object shaped like ShapeFuture.
type Future struct{ Object }

// ErrFutureAlreadyCompleted is the language-level error raised on a second
// resolve/reject attempt (spec §7 "Policy").
var ErrFutureAlreadyCompleted = errors.New(`Future has already completed`)

// State returns the future's current lifecycle state.
func (f Future) State() FutureState {
	return FutureState(f.Field(futureFieldState).Int())
}

// waitQueue returns this future's external wait queue, creating it lazily
// the first time a fiber needs to park on a still-pending future.
func (f Future) waitQueue() *WaitQueue {
	if q, ok := f.Mem.External(f.Addr).(*WaitQueue); ok && q != nil {
		return q
	}
	q := &WaitQueue{}
	f.Mem.SetExternal(f.Addr, q)
	return q
}

// Park registers addr (an opaque fiber/thread handle) to be woken when this
// future completes. The header spinlock serialises concurrent parkers
// (§5 "Object header spinlock").
func (f Future) Park(addr uintptr) bool {
	h := f.Header()
	for !h.TryLock() {
	}
	defer h.Unlock()
	if f.State() != FuturePending {
		return false
	}
	f.waitQueue().Add(addr)
	return true
}

// Resolve transitions pending→resolved, returning the drained wait queue
// to wake. Returns ErrFutureAlreadyCompleted on a second attempt.
func (f Future) Resolve(result Value) ([]uintptr, error) {
	return f.complete(FutureResolved, result)
}

// Reject transitions pending→rejected with the given exception value.
func (f Future) Reject(exception Value) ([]uintptr, error) {
	return f.complete(FutureRejected, exception)
}

func (f Future) complete(state FutureState, result Value) ([]uintptr, error) {
	h := f.Header()
	for !h.TryLock() {
	}
	defer h.Unlock()
	if f.State() != FuturePending {
		return nil, ErrFutureAlreadyCompleted
	}
	f.SetField(futureFieldState, NewInt(int64(state)))
	f.SetField(futureFieldResult, result)
	q := f.waitQueue()
	woken := q.Drain()
	f.Mem.SetExternal(f.Addr, (*WaitQueue)(nil))
	return woken, nil
}

// Result returns the resolved value or rejection exception. Callers must
// check State first.
func (f Future) Result() Value { return f.Field(futureFieldResult) }
