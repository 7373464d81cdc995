package interp

import (
	"unsafe"

	"github.com/charly-lang/charly/internal/value"
)

// Allocator is satisfied by both heap.TAB and sched.Processor: anything
// that can bump-allocate a fixed-size region for RegisterBuiltins and
// internal/module.RegisterModule to allocate through before a fiber (and
// therefore a Processor) necessarily exists yet.
type Allocator interface {
	Allocate(size int64) (uintptr, error)
}

// sharedInfoAddr encodes a SharedFunctionInfo pointer as the raw bits
// Function's shared-info field carries, exactly like
// internal/module.RegisterModule does for module-level functions.
func sharedInfoAddr(si *value.SharedFunctionInfo) uintptr {
	return uintptr(unsafe.Pointer(si))
}

// newObject bump-allocates a tuple/instance-shaped object of the given
// shape and field count, zero-initializes every field to Null, and stamps
// the header. On allocation exhaustion it reports outcomeYield so Step
// reschedules the fiber and retries this same instruction after the next
// collection (spec §4.1, §5).
func (th *Thread) newObject(shape *value.Shape, fieldCount int, young bool) (value.Object, stepOutcome, bool) {
	addr, outcome, ok := th.allocate(value.Size(uint16(fieldCount), false))
	if !ok {
		return value.Object{}, outcome, false
	}
	mem := th.rt.Heap
	hdr := mem.Header(addr)
	hdr.SetShapeID(shape.ID)
	hdr.SetFieldCount(uint16(fieldCount))
	if young {
		hdr.SetFlag(value.FlagYoungGeneration)
	}
	obj := value.Object{Mem: mem, Addr: addr}
	for i := 0; i < fieldCount; i++ {
		obj.SetField(i, value.Null)
	}
	return obj, outcomeContinue, true
}

// newTuple allocates a fixed-size tuple pre-populated with elems (spec
// §3.4 "Tuple").
func (th *Thread) newTuple(elems []value.Value) (value.Tuple, stepOutcome, bool) {
	shape := th.rt.Shapes.Root(value.ShapeTuple)
	obj, outcome, ok := th.newObject(shape, len(elems), true)
	if !ok {
		return value.Tuple{}, outcome, false
	}
	for i, v := range elems {
		obj.SetField(i, v)
	}
	return value.Tuple{Object: obj}, outcomeContinue, true
}

// newList allocates an empty growable list (spec §3.4 "List").
func (th *Thread) newList() (value.List, stepOutcome, bool) {
	shape := th.rt.Shapes.Root(value.ShapeList)
	obj, outcome, ok := th.newObject(shape, value.ListFieldCount, true)
	if !ok {
		return value.List{}, outcome, false
	}
	obj.SetField(0, value.ZeroInt)
	return value.List{Object: obj}, outcomeContinue, true
}

// newException allocates an Exception carrying message and an optional
// cause (Null if none), with a stack-trace tuple holding the name symbol of
// every frame in the current chain (spec §3.4 "Exception", §4.4 "throwex").
func (th *Thread) newException(message, cause value.Value) (value.Exception, stepOutcome, bool) {
	trace := th.captureStackTrace()
	traceVal, outcome, ok := th.newTuple(trace)
	if !ok {
		return value.Exception{}, outcome, false
	}
	shape := th.rt.Shapes.Root(value.ShapeException)
	obj, outcome, ok := th.newObject(shape, value.ExceptionFieldCount, true)
	if !ok {
		return value.Exception{}, outcome, false
	}
	obj.SetField(0, message)
	obj.SetField(1, traceVal.ToValue())
	obj.SetField(2, cause)
	return value.Exception{Object: obj}, outcomeContinue, true
}

// captureStackTrace returns one symbol Value per active frame, innermost
// first, for an Exception's stack-trace tuple (spec §4.5.4 "capture a
// stack trace").
func (th *Thread) captureStackTrace() []value.Value {
	var out []value.Value
	for fr := th.top; fr != nil; fr = fr.parent {
		out = append(out, fr.shared.NameSymbol)
	}
	return out
}

// newFunction allocates a Function heap object closing over context,
// sharing si with every other closure produced from the same declaration
// site (spec §3.4 "Function", §4.4 "makefunc").
func (th *Thread) newFunction(si *value.SharedFunctionInfo, context, self value.Value) (value.Function, stepOutcome, bool) {
	shape := th.rt.Shapes.Root(value.ShapeFunction)
	obj, outcome, ok := th.newObject(shape, value.FunctionFieldCount, true)
	if !ok {
		return value.Function{}, outcome, false
	}
	obj.SetField(0, si.NameSymbol)
	obj.SetField(1, context)
	obj.SetField(2, self)
	obj.SetField(3, value.Null)
	obj.SetField(4, value.Null)
	fn := value.Function{Object: obj}
	fn.SetField(value.FunctionFieldSharedInfo, value.Value(sharedInfoAddr(si)))
	return fn.WithShared(si), outcomeContinue, true
}

// newBuiltinFunction allocates a handle for builtin dispatch table entry
// id, named sym (spec's "builtins are exposed to bytecode the same way
// user functions are, via call_value" — §4.5.2).
func (th *Thread) newBuiltinFunction(sym value.Value, id int64) (value.BuiltinFunction, stepOutcome, bool) {
	shape := th.rt.Shapes.Root(value.ShapeBuiltinFunction)
	obj, outcome, ok := th.newObject(shape, value.BuiltinFunctionFieldCount, true)
	if !ok {
		return value.BuiltinFunction{}, outcome, false
	}
	obj.SetField(0, sym)
	obj.SetField(1, value.NewInt(id))
	return value.BuiltinFunction{Object: obj}, outcomeContinue, true
}

// newFiberObject allocates an unscheduled value.Fiber wrapping entry,
// context and args, with a fresh, still-pending Future (spec §3.4 "Fiber",
// §4.3 "Fiber lifecycle": makefiber only allocates; fiberjoin is what
// actually schedules — see DESIGN.md's resolution of this open question).
func (th *Thread) newFiberObject(entry, context, args value.Value) (value.Fiber, stepOutcome, bool) {
	futShape := th.rt.Shapes.Root(value.ShapeFuture)
	futObj, outcome, ok := th.newObject(futShape, value.FutureFieldCount, true)
	if !ok {
		return value.Fiber{}, outcome, false
	}
	futObj.SetField(0, value.NewInt(int64(value.FuturePending)))

	shape := th.rt.Shapes.Root(value.ShapeFiber)
	obj, outcome, ok := th.newObject(shape, value.FiberFieldCount, true)
	if !ok {
		return value.Fiber{}, outcome, false
	}
	obj.SetField(1, entry)
	obj.SetField(2, context)
	obj.SetField(3, args)
	obj.SetField(4, value.NewPointer(futObj.Addr, true))
	fiber := value.Fiber{Object: obj}
	fiber.SetOwnerAddr(0) // unscheduled until joined
	return fiber, outcomeContinue, true
}
