package interp

import (
	"time"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/sched"
	"github.com/charly-lang/charly/internal/value"
)

// Thread is the interpreter's sched.Body: the mutable bytecode-execution
// state for one fiber, resumed and re-parked across many Step calls (spec
// §4.4, §4.3 "Body"). Unlike a native green thread, nothing here ever
// blocks the OS thread driving it — a pending Future await or a sleep
// timer is modeled as a registered wakeup plus a continuation closure run
// on the next Step.
type Thread struct {
	rt   *Runtime
	proc *sched.Processor

	// currentSchedFiber is the scheduler-level Fiber driving this Step
	// call, stashed so call-protocol helpers (fiberjoin's Park, builtins
	// needing to park) don't need it threaded through every function
	// signature between execOne and themselves.
	currentSchedFiber *sched.Fiber

	top *frame // innermost active frame, nil once the entry function returns

	// pendingResume, when non-nil, is run instead of decoding the next
	// instruction — the continuation of a blocking builtin (sleep) or an
	// awaited fiber (fiberjoin) that has just been woken. It returns the
	// value to push (or an exception to raise) the same way a call's
	// ordinary return value would be delivered.
	pendingResume func(th *Thread) stepOutcome

	// raised is set by raise/rethrow for the duration of one execOne call,
	// telling a multi-step opcode handler (opCall, opMakeClass, ...) that
	// frame/ip state was already fixed up by the unwinder and must not be
	// committed a second time. Reset at the start of every execOne.
	raised bool

	// pendingException, when non-null, is being unwound: every frame's
	// exception table is consulted in turn until a handler is found or the
	// entry frame is exhausted (spec §4.4 "Exception unwinding").
	pendingException value.Value

	resultFuture value.Value // this fiber's Future, resolved/rejected on completion
}

// NewThread creates a Thread ready to begin executing entry with the given
// self/context/args, backed by the processor its fiber is first scheduled
// on.
func NewThread(rt *Runtime, entry *value.SharedFunctionInfo, self, context value.Value, args []value.Value, resultFuture value.Value) *Thread {
	return &Thread{
		rt:           rt,
		top:          newFrame(nil, self, entry, context, args),
		resultFuture: resultFuture,
	}
}

// stepOutcome is execOne's report of what just happened, consumed by Step
// to decide whether to keep dispatching or hand control back to the
// scheduler.
type stepOutcome int

const (
	outcomeContinue stepOutcome = iota // ordinary instruction, keep looping
	outcomeYield                       // safepoint hit; reschedule later
	outcomeParked                      // blocked on a future/timer
	outcomeCompleted                   // entry frame returned or unwound past it
)

// Step implements sched.Body: it dispatches instructions until the next
// safepoint, matching §5's named safepoints (backwards branch, call,
// allocation, GC-stop-requested, time-budget overrun) with one conservative
// check per iteration rather than per named site, since Go gives no cheap
// way to distinguish them and over-yielding is always safe.
func (th *Thread) Step(sf *sched.Fiber) sched.RunResult {
	th.proc = sf.Processor()
	th.currentSchedFiber = sf
	for {
		if th.rt.Collector.StopRequested() {
			return sched.Yielded
		}
		if sf.Overrun() {
			return sched.Yielded
		}

		var outcome stepOutcome
		if th.pendingResume != nil {
			resume := th.pendingResume
			th.pendingResume = nil
			outcome = resume(th)
		} else {
			outcome = th.execOne()
		}

		switch outcome {
		case outcomeContinue:
			continue
		case outcomeYield:
			return sched.Yielded
		case outcomeParked:
			return sched.Parked
		case outcomeCompleted:
			return sched.Completed
		}
	}
}

// roots returns every live Value-holding cell across this thread's frame
// chain: self, context, each argument, each local, the in-use prefix of
// the operand stack, the return-value slot, and any in-flight exception
// (spec §4.2 "Roots": "local variables, operand-stack slots, the captured
// context, and pending exception of every live frame").
func (th *Thread) roots() []*value.Value {
	var out []*value.Value
	for fr := th.top; fr != nil; fr = fr.parent {
		out = append(out, &fr.self, &fr.context, &fr.retVal)
		for i := range fr.args {
			out = append(out, &fr.args[i])
		}
		for i := range fr.locals {
			out = append(out, &fr.locals[i])
		}
		for i := 0; i < fr.sp; i++ {
			out = append(out, &fr.stack[i])
		}
	}
	out = append(out, &th.pendingException, &th.resultFuture)
	return out
}

// parkOnTimer registers a wakeup for this thread's fiber at 'at' and sets
// resume as the continuation to run once woken, implementing blocking
// builtins like sleep without blocking the Worker's OS thread (spec §4.3
// "Timers", "Parked").
func (th *Thread) parkOnTimer(at time.Time, resume func(th *Thread) stepOutcome) stepOutcome {
	th.pendingResume = resume
	th.rt.Scheduler.ScheduleTimer(th.currentSchedFiber, at, sched.WakeFiber)
	return outcomeParked
}

// allocate routes a heap allocation through this thread's processor TAB,
// requesting a collection and yielding at the *current* instruction (ip
// uncommitted, so the next Step retries the same opcode) on exhaustion —
// the allocation-failure safepoint of §5.
func (th *Thread) allocate(size int64) (uintptr, stepOutcome, bool) {
	addr, err := th.proc.Allocate(size)
	if err == nil {
		return addr, outcomeContinue, true
	}
	if err == heap.ErrObjectTooLarge {
		// Caller must use the huge-object escape path instead; this is a
		// internal misuse (wrong call site), never a language-level error.
		panic("interp: allocate called with an oversized fixed-shape request")
	}
	th.rt.RequestGC(false)
	return 0, outcomeYield, false
}
