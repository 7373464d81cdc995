package value

// Fiber field offsets (spec §3.4: "a raw pointer to its owning Thread (or
// null if unscheduled), its entry function, captured context, arguments
// value, and a result Future"). The owner slot is opaque to this package:
// it carries the scheduler's FiberID as raw, untagged bits (0 while
// unscheduled), and the collector skips it like Function's
// SharedFunctionInfo pointer.
const (
	fiberFieldOwner   = 0 // raw sched.FiberID, 0 if unscheduled
	fiberFieldEntry   = 1
	fiberFieldContext = 2
	fiberFieldArgs    = 3
	fiberFieldFuture  = 4
	FiberFieldCount   = 5

	// FiberFieldOwner is exported for the same reason as
	// FunctionFieldSharedInfo: the collector must skip it rather than
	// treat its raw scheduler-id bits as a Charly heap pointer.
	FiberFieldOwner = fiberFieldOwner
)

// Fiber is a typed view over a heap object shaped like ShapeFiber.
type Fiber struct{ Object }

func (f Fiber) OwnerAddr() uintptr { return uintptr(f.Field(fiberFieldOwner)) }
func (f Fiber) SetOwnerAddr(addr uintptr) { f.SetField(fiberFieldOwner, Value(addr)) }
func (f Fiber) Entry() Value       { return f.Field(fiberFieldEntry) }
func (f Fiber) Context() Value     { return f.Field(fiberFieldContext) }
func (f Fiber) Arguments() Value   { return f.Field(fiberFieldArgs) }
func (f Fiber) Future() Future     { return Future{Object{Mem: f.Mem, Addr: f.Field(fiberFieldFuture).Address()}} }
