package interp

import "github.com/charly-lang/charly/internal/value"

// maxHandlerReentry caps how many times raise can walk back into the same
// frame's exception table while a handler itself throws, guarding against
// a handler that rethrows its own catch variable forever. Not a spec
// invariant, just a defensive bound.
const maxHandlerReentry = 64

// raise begins unwinding exc up the frame chain, starting at the current
// frame's current ip (spec §4.4 "Exception unwinding"). If a handler is
// found, execution resumes there with the exception available to
// getexception; otherwise the fiber completes by rejecting its Future.
func (th *Thread) raise(exc value.Value) stepOutcome {
	th.raised = true
	for fr := th.top; fr != nil; fr = fr.parent {
		if handler, ok := fr.shared.HandlerFor(fr.ip); ok {
			if fr.handlerDepth >= maxHandlerReentry {
				continue
			}
			fr.handlerDepth++
			fr.ip = handler
			fr.sp = 0
			th.top = fr
			th.pendingException = exc
			return outcomeContinue
		}
	}
	return th.complete(value.Value(0), exc, false)
}

// rethrow is raised by a handler frame that itself throws while handling
// exc: the new exception's cause chain links back to the one being
// handled (spec §3.4 Exception "optional cause chain").
func (th *Thread) rethrow(newExc value.Value) stepOutcome {
	prev := th.pendingException
	if exc, ok := asException(th.rt.Heap, newExc); ok && prev.IsPointer() {
		exc.Object.SetField(2, prev)
	}
	return th.raise(newExc)
}

func asException(mem value.Memory, v value.Value) (value.Exception, bool) {
	if !v.IsPointer() {
		return value.Exception{}, false
	}
	return value.Exception{Object: value.ObjectOf(mem, v)}, true
}

// isStringValue reports whether v holds a string (small, inline, or a
// heap huge-string) rather than some other kind of value — OP(throwex)
// wraps only strings into an Exception before unwinding; every other
// thrown value (an existing Exception, an int, whatever) passes through
// unchanged (original `interpreter.cpp`'s `OP(throwex)`: "wrap thrown
// strings in an Exception instance").
func (th *Thread) isStringValue(v value.Value) bool {
	if v.IsSmallString() {
		return true
	}
	if !v.IsPointer() {
		return false
	}
	return value.ObjectOf(th.rt.Heap, v).Header().ShapeID() == value.ShapeHugeString
}

// complete finalizes this thread's fiber: resolves or rejects its result
// Future and tells Step the fiber is done. ok selects which; the other
// argument is ignored (callers pass the zero Value).
func (th *Thread) complete(result, exc value.Value, ok bool) stepOutcome {
	fut := value.Future{Object: value.ObjectOf(th.rt.Heap, th.resultFuture)}
	var woken []uintptr
	var err error
	if ok {
		woken, err = fut.Resolve(result)
	} else {
		woken, err = fut.Reject(exc)
	}
	if err == nil {
		for _, addr := range woken {
			th.rt.wakeParkedFiber(addr)
		}
	}
	return outcomeCompleted
}
