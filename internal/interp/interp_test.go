package interp

import (
	"encoding/binary"
	"testing"
	"time"
	"unsafe"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

// newTestFuture allocates a fresh, pending Future directly through a
// standalone TAB, standing in for the one internal/module.RegisterModule
// would normally wire up for a fiber spawned from user bytecode.
func newTestFuture(t *testing.T, rt *Runtime) value.Value {
	t.Helper()
	tab := heap.NewTAB(rt.Heap)
	addr, err := tab.Allocate(value.Size(value.FutureFieldCount, false))
	if err != nil {
		t.Fatalf("allocating future: %v", err)
	}
	hdr := rt.Heap.Header(addr)
	hdr.SetShapeID(value.ShapeFuture)
	hdr.SetFieldCount(value.FutureFieldCount)
	hdr.SetFlag(value.FlagYoungGeneration)
	obj := value.Object{Mem: rt.Heap, Addr: addr}
	obj.SetField(0, value.NewInt(int64(value.FuturePending)))
	obj.SetField(1, value.Null)
	return obj.ToValue()
}

// newTestFunction allocates a Function heap object wrapping si, the same
// raw-pointer wiring internal/module.RegisterModule uses for module-level
// functions.
func newTestFunction(t *testing.T, rt *Runtime, si *value.SharedFunctionInfo) value.Value {
	t.Helper()
	tab := heap.NewTAB(rt.Heap)
	addr, err := tab.Allocate(value.Size(value.FunctionFieldCount, false))
	if err != nil {
		t.Fatalf("allocating function: %v", err)
	}
	hdr := rt.Heap.Header(addr)
	hdr.SetShapeID(value.ShapeFunction)
	hdr.SetFieldCount(value.FunctionFieldCount)
	hdr.SetFlag(value.FlagYoungGeneration)
	obj := value.Object{Mem: rt.Heap, Addr: addr}
	obj.SetField(0, si.NameSymbol)
	obj.SetField(1, value.Null)
	obj.SetField(2, value.Null)
	obj.SetField(3, value.Null)
	obj.SetField(4, value.Null)
	obj.SetField(5, value.Value(uintptr(unsafe.Pointer(si))))
	return obj.ToValue()
}

// waitForFuture polls fut until it leaves the pending state, matching the
// deadline-polling style internal/sched's own tests use for asynchronous
// completion (it has no channel to block on; a Future's only observable
// signal is its state word).
func waitForFuture(t *testing.T, rt *Runtime, fut value.Value) value.Future {
	t.Helper()
	f := value.Future{Object: value.ObjectOf(rt.Heap, fut)}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.State() != value.FuturePending {
			return f
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("future never settled")
	return f
}

func encodeIXXX(op Opcode) uint32 { return uint32(op) }

func encodeIAXX(op Opcode, a uint8) uint32 { return uint32(op) | uint32(a)<<8 }

func encodeIAAX(op Opcode, ab uint16) uint32 {
	return uint32(op) | uint32(uint8(ab))<<8 | uint32(uint8(ab>>8))<<16
}

func encodeIAAA(op Opcode, abc uint32) uint32 {
	return uint32(op) | (abc&0xFFFFFF)<<8
}

func assembleCode(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func testFunctionInfo(name string, code []byte, stackSize int) *value.SharedFunctionInfo {
	return &value.SharedFunctionInfo{
		Name:       name,
		NameSymbol: value.NewSymbol(name),
		StackSize:  stackSize,
		Code:       code,
		EndOffset:  len(code),
	}
}

func TestArithmeticAndReturn(t *testing.T) {
	code := assembleCode(
		encodeIAAA(OpLoadSmi, 2),
		encodeIAAA(OpLoadSmi, 3),
		encodeIXXX(OpAdd),
		encodeIXXX(OpRet),
	)
	si := testFunctionInfo("main", code, 4)

	rt := newTestRuntime(t)
	fut := newTestFuture(t, rt)
	th := NewThread(rt, si, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := waitForFuture(t, rt, fut)
	if f.State() != value.FutureResolved {
		t.Fatalf("expected resolved, got state %v", f.State())
	}
	result := f.Result()
	if !result.IsInt() || result.Int() != 5 {
		t.Fatalf("expected int 5, got %#v", result)
	}
}

func TestUnhandledThrowRejectsFuture(t *testing.T) {
	code := assembleCode(
		encodeIAAA(OpLoadSmi, 42),
		encodeIXXX(OpThrowEx),
	)
	si := testFunctionInfo("main", code, 2)

	rt := newTestRuntime(t)
	fut := newTestFuture(t, rt)
	th := NewThread(rt, si, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := waitForFuture(t, rt, fut)
	if f.State() != value.FutureRejected {
		t.Fatalf("expected rejected, got state %v", f.State())
	}
	if got := f.Result(); !got.IsInt() || got.Int() != 42 {
		t.Fatalf("expected rejection value 42, got %#v", got)
	}
}

func TestCallDispatchesToFunctionAndReturnsValue(t *testing.T) {
	calleeCode := assembleCode(
		encodeIAAA(OpLoadSmi, 7),
		encodeIXXX(OpRet),
	)
	calleeSI := testFunctionInfo("callee", calleeCode, 2)

	callerCode := assembleCode(
		encodeIAXX(OpLoad, 0),
		encodeIAAX(OpLoadGlobal, 0),
		encodeIAXX(OpCall, 0),
		encodeIXXX(OpRet),
	)
	callerSI := testFunctionInfo("main", callerCode, 4)
	callerSI.Strings = []string{"callee"}

	rt := newTestRuntime(t)
	calleeFn := newTestFunction(t, rt, calleeSI)
	if err := rt.Globals.Declare(rt.Symbols.Intern("callee"), calleeFn, true); err != nil {
		t.Fatalf("declaring global: %v", err)
	}

	fut := newTestFuture(t, rt)
	th := NewThread(rt, callerSI, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := waitForFuture(t, rt, fut)
	if f.State() != value.FutureResolved {
		t.Fatalf("expected resolved, got state %v", f.State())
	}
	if result := f.Result(); !result.IsInt() || result.Int() != 7 {
		t.Fatalf("expected int 7, got %#v", result)
	}
}

func TestCallThreadsSelfToCallee(t *testing.T) {
	calleeCode := assembleCode(
		encodeIXXX(OpLoadSelf),
		encodeIXXX(OpRet),
	)
	calleeSI := testFunctionInfo("callee", calleeCode, 2)

	callerCode := assembleCode(
		encodeIAAA(OpLoadSmi, 99),
		encodeIAAX(OpLoadGlobal, 0),
		encodeIAXX(OpCall, 0),
		encodeIXXX(OpRet),
	)
	callerSI := testFunctionInfo("main", callerCode, 4)
	callerSI.Strings = []string{"callee"}

	rt := newTestRuntime(t)
	calleeFn := newTestFunction(t, rt, calleeSI)
	if err := rt.Globals.Declare(rt.Symbols.Intern("callee"), calleeFn, true); err != nil {
		t.Fatalf("declaring global: %v", err)
	}

	fut := newTestFuture(t, rt)
	th := NewThread(rt, callerSI, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := waitForFuture(t, rt, fut)
	if f.State() != value.FutureResolved {
		t.Fatalf("expected resolved, got state %v", f.State())
	}
	if result := f.Result(); !result.IsInt() || result.Int() != 99 {
		t.Fatalf("expected self (int 99) threaded through, got %#v", result)
	}
}

func TestMakeTupleAndLoadAttr(t *testing.T) {
	code := assembleCode(
		encodeIAAA(OpLoadSmi, 10),
		encodeIAAA(OpLoadSmi, 20),
		encodeIAAX(OpMakeTuple, 2),
		encodeIAAX(OpLoadAttr, 0),
		encodeIXXX(OpRet),
	)
	si := testFunctionInfo("main", code, 4)

	rt := newTestRuntime(t)
	fut := newTestFuture(t, rt)
	th := NewThread(rt, si, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := waitForFuture(t, rt, fut)
	if f.State() != value.FutureResolved {
		t.Fatalf("expected resolved, got state %v", f.State())
	}
	if result := f.Result(); !result.IsInt() || result.Int() != 10 {
		t.Fatalf("expected int 10 (tuple[0]), got %#v", result)
	}
}

func TestDivisionByZeroRaisesException(t *testing.T) {
	code := assembleCode(
		encodeIAAA(OpLoadSmi, 1),
		encodeIAAA(OpLoadSmi, 0),
		encodeIXXX(OpDiv),
		encodeIXXX(OpRet),
	)
	si := testFunctionInfo("main", code, 4)

	rt := newTestRuntime(t)
	fut := newTestFuture(t, rt)
	th := NewThread(rt, si, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := waitForFuture(t, rt, fut)
	if f.State() != value.FutureRejected {
		t.Fatalf("expected rejected, got state %v", f.State())
	}
	excVal := f.Result()
	if !excVal.IsPointer() {
		t.Fatalf("expected a heap exception, got %#v", excVal)
	}
	exc := value.Exception{Object: value.ObjectOf(rt.Heap, excVal)}
	msg := displayValue(th, exc.Message())
	if msg != "division by zero" {
		t.Fatalf("expected message %q, got %q", "division by zero", msg)
	}
}
