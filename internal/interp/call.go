package interp

import (
	"time"

	"github.com/charly-lang/charly/internal/value"
)

// maxCallDepth approximates the spec's literal "compare the current frame
// pointer against the fiber's stack low-water mark" stack-overflow check
// (§4.4 "Call protocol"): Go gives no portable way to read raw stack
// bounds from managed code, so a frame-depth counter stands in for it.
// Recorded as a deliberate approximation, not a silent divergence.
const maxCallDepth = 4096

// callValue dispatches call_value by the callee's runtime shape (spec
// §4.4 "call_value"): a Function executes its bytecode with self bound to
// the receiver popped alongside it, a Class constructs and initializes an
// instance (self is irrelevant there — construct binds the new instance
// itself), a BuiltinFunction runs the matching Go-side implementation.
// Anything else raises a not-callable exception.
func (th *Thread) callValue(self, callee value.Value, args []value.Value) stepOutcome {
	if !callee.IsPointer() {
		return th.throwMessage("value is not callable")
	}
	obj := value.ObjectOf(th.rt.Heap, callee)
	switch obj.Header().ShapeID() {
	case value.ShapeFunction:
		return th.callFunction(value.Function{Object: obj}, self, args)
	case value.ShapeBuiltinFunction:
		return th.callBuiltin(value.BuiltinFunction{Object: obj}, args)
	case value.ShapeClass:
		return th.construct(value.Class{Object: obj}, args)
	default:
		return th.throwMessage("value is not callable")
	}
}

// callFunction selects the best-matching overload for len(args) (exact
// argc match, else the highest-arity entry — spec §4.4 "call_function":
// "select the overload whose argc matches, or the richest one available"),
// enforces its declared [minargc, argc] bound, and pushes a fresh frame.
func (th *Thread) callFunction(fn value.Function, self value.Value, args []value.Value) stepOutcome {
	si := fn.Shared()
	if overload := th.selectOverload(fn, len(args)); overload != nil {
		si = overload
	}

	if len(args) < si.MinArgc || (len(args) > si.Argc && !si.SpreadArgument && !si.ArrowFunction) {
		return th.throwMessage("wrong number of arguments")
	}
	if th.depth() >= maxCallDepth {
		return th.throwMessage("stack overflow")
	}

	calleeSelf := self
	if si.ArrowFunction {
		calleeSelf = fn.Self()
	}

	// A spread-argument callee's last declared parameter is the rest tuple,
	// not a fixed positional slot, so it claims one of si.Argc's slots
	// (spec §4.4 "call_function": "populates the spread tail argument into
	// a tuple if needed").
	bound := si.Argc
	if si.SpreadArgument && bound > 0 {
		bound--
	}
	fixed := args
	if len(args) > bound {
		fixed = args[:bound]
	}
	if si.SpreadArgument {
		rest := args[len(fixed):]
		spread, outcome, ok := th.newTuple(append([]value.Value(nil), rest...))
		if !ok {
			return outcome
		}
		combined := make([]value.Value, len(fixed)+1)
		copy(combined, fixed)
		combined[len(fixed)] = spread.ToValue()
		fixed = combined
	}

	context := fn.Context()
	if si.HeapVariables > 0 {
		elems := make([]value.Value, si.HeapVariables+1)
		elems[0] = fn.Context()
		for i := 1; i < len(elems); i++ {
			elems[i] = value.Null
		}
		t, outcome, ok := th.newTuple(elems)
		if !ok {
			return outcome
		}
		context = t.ToValue()
	}

	th.top = newFrame(th.top, calleeSelf, si, context, fixed)
	return outcomeContinue
}

// selectOverload walks fn's overload table (a Tuple of Functions, Null if
// this declaration was never overloaded) looking for an exact argc match,
// falling back to the entry with the greatest Argc if none matches
// exactly. Returns nil if fn carries no overload table at all.
func (th *Thread) selectOverload(fn value.Function, argc int) *value.SharedFunctionInfo {
	table := fn.OverloadTable()
	if !table.IsPointer() {
		return nil
	}
	tuple := value.Tuple{Object: value.ObjectOf(th.rt.Heap, table)}
	var best *value.SharedFunctionInfo
	n := tuple.Len()
	for i := int64(0); i < n; i++ {
		cand := value.Function{Object: value.ObjectOf(th.rt.Heap, tuple.Get(i))}
		si := cand.Shared()
		if si.Argc == argc {
			return si
		}
		if best == nil || si.Argc > best.Argc {
			best = si
		}
	}
	return best
}

// depth counts active frames, the stand-in for a native stack-depth check.
func (th *Thread) depth() int {
	n := 0
	for fr := th.top; fr != nil; fr = fr.parent {
		n++
	}
	return n
}

// construct allocates a new instance of cls's instance shape and invokes
// its constructor function with the instance as self (spec §4.4
// "makeclass"/construction protocol). A class with ClassNonConstructable
// set raises instead; a class with no constructor returns the bare
// instance.
func (th *Thread) construct(cls value.Class, args []value.Value) stepOutcome {
	if cls.Flags()&value.ClassNonConstructable != 0 {
		return th.throwMessage("class is not constructable")
	}
	shapeID := value.ShapeID(cls.InstanceShapeID().Int())
	shape, ok := th.rt.Shapes.Lookup(shapeID)
	if !ok {
		return th.throwMessage("class has no registered instance shape")
	}
	instObj, outcome, ok := th.newObject(shape, len(shape.Fields), true)
	if !ok {
		return outcome
	}
	instance := instObj.ToValue()

	ctor := cls.Constructor()
	if !ctor.IsPointer() {
		return th.pushReturn(instance)
	}
	fn := value.Function{Object: value.ObjectOf(th.rt.Heap, ctor)}
	return th.callFunction(fn, instance, args)
}

// pushReturn delivers a call's result directly onto the current top
// frame's operand stack, without pushing a new frame — used for
// constructors with no declared body and for builtins, which never get
// their own frame (spec §4.4 "return value delivery").
func (th *Thread) pushReturn(v value.Value) stepOutcome {
	th.top.push(v)
	return outcomeContinue
}

// callBuiltin dispatches to the Go-side implementation named by b's id in
// the builtin table (spec §4.5.2 "Builtins").
func (th *Thread) callBuiltin(b value.BuiltinFunction, args []value.Value) stepOutcome {
	id := int(b.ID())
	if id < 0 || id >= len(builtinTable) {
		return th.throwMessage("unknown builtin")
	}
	return builtinTable[id].fn(th, args)
}

// makeFiber allocates an unscheduled fiber object; it is not handed to the
// scheduler until fiberjoin runs (DESIGN.md's resolution of the spec's
// "creates a fiber but does not schedule until joined/awaited" ambiguity:
// lazy spawn-on-first-join, matching the observation that an unjoined
// fiber is otherwise indistinguishable from one nobody cares about).
func (th *Thread) makeFiber(entry, context, args value.Value) stepOutcome {
	fiber, outcome, ok := th.newFiberObject(entry, context, args)
	if !ok {
		return outcome
	}
	return th.pushReturn(fiber.ToValue())
}

// fiberJoin spawns fiberVal into the scheduler on first join (a no-op if
// already running), then parks the calling thread on its Future until it
// resolves or rejects, delivering the result (or re-raising the rejection)
// without ever blocking the calling Worker's OS thread (spec §4.3 "Fiber
// lifecycle", §4.4 "fiberjoin").
func (th *Thread) fiberJoin(fiberVal value.Value) stepOutcome {
	fiberObj := value.Fiber{Object: value.ObjectOf(th.rt.Heap, fiberVal)}
	fut := fiberObj.Future()

	if fiberObj.OwnerAddr() == 0 {
		th.spawnFiber(fiberObj)
	}

	switch fut.State() {
	case value.FutureResolved:
		return th.pushReturn(fut.Result())
	case value.FutureRejected:
		return th.raise(fut.Result())
	}

	if fut.Park(uintptr(th.currentSchedFiber.ID)) {
		return outcomeParked
	}
	// Lost the race with completion between the State() check and Park;
	// the future is now settled, so re-check rather than parking forever.
	switch fut.State() {
	case value.FutureResolved:
		return th.pushReturn(fut.Result())
	default:
		return th.raise(fut.Result())
	}
}

// spawnFiber hands a previously unscheduled fiber object to the scheduler,
// wiring its sched.Fiber ID back into the heap object's owner field so a
// second join finds it already running (spec §4.3 "owning Thread").
func (th *Thread) spawnFiber(fiberObj value.Fiber) {
	entry := fiberObj.Entry()
	fn := value.Function{Object: value.ObjectOf(th.rt.Heap, entry)}
	si := fn.Shared()

	var args []value.Value
	if argsVal := fiberObj.Arguments(); argsVal.IsPointer() {
		tuple := value.Tuple{Object: value.ObjectOf(th.rt.Heap, argsVal)}
		n := tuple.Len()
		args = make([]value.Value, n)
		for i := int64(0); i < n; i++ {
			args[i] = tuple.Get(i)
		}
	}

	body := NewThread(th.rt, si, fn.Self(), fiberObj.Context(), args, fiberObj.Future().ToValue())
	scheduled := th.rt.Scheduler.Spawn(body, fiberObj.Addr)
	fiberObj.SetOwnerAddr(uintptr(scheduled.ID))
}

// throwMessage is a convenience for raising a runtime-generated exception
// from a small-string message, used by call-protocol error paths that
// have no user-supplied value to re-raise.
func (th *Thread) throwMessage(msg string) stepOutcome {
	small, ok := value.NewSmallString(msg)
	var message value.Value
	if ok {
		message = small
	} else {
		addr, err := th.rt.Heap.NewHugeString(th.proc.TAB(), msg)
		if err != nil {
			message = value.Null
		} else {
			message = value.NewPointer(addr, true)
		}
	}
	exc, outcome, ok2 := th.newException(message, value.Null)
	if !ok2 {
		return outcome
	}
	return th.raise(exc.ToValue())
}

// sleepBuiltin parks the calling fiber for args[0] milliseconds (zero if
// absent or not an int), then resumes by pushing
// Null (spec §4.5.2's example of a blocking builtin implemented without
// blocking a Worker thread).
func sleepBuiltin(th *Thread, args []value.Value) stepOutcome {
	var d time.Duration
	if len(args) > 0 && args[0].IsInt() {
		d = time.Duration(args[0].Int()) * time.Millisecond
	}
	return th.parkOnTimer(time.Now().Add(d), func(th *Thread) stepOutcome {
		return th.pushReturn(value.Null)
	})
}
