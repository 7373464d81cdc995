package interp

// StackFrame is one entry of a captured stack trace: the active function
// and the bytecode offset within it (spec §4.5 item 4, "a tuple of
// (function, ip)").
type StackFrame struct {
	Function string
	IP       int
}

// CaptureStackTrace walks th's frame chain from innermost to outermost,
// the debugger/tracing primitive §4.5 item 4 describes. It reads live
// frame state without pausing th or any other fiber, so a trace gathered
// across many fibers (internal/debugapi's job) is a best-effort snapshot:
// other fibers keep running while it is assembled.
func (th *Thread) CaptureStackTrace() []StackFrame {
	var out []StackFrame
	for fr := th.top; fr != nil; fr = fr.parent {
		name := fr.shared.Name
		if name == "" {
			name = "<anonymous>"
		}
		out = append(out, StackFrame{Function: name, IP: fr.ip})
	}
	return out
}

// FiberID exposes the scheduler-level FiberID driving this thread, for a
// debugger response to label which fiber a trace belongs to. Zero before
// the thread's first Step call.
func (th *Thread) FiberID() uint64 {
	if th.currentSchedFiber == nil {
		return 0
	}
	return uint64(th.currentSchedFiber.ID)
}
