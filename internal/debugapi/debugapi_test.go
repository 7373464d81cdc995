package debugapi

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/interp"
	"github.com/charly-lang/charly/internal/value"
)

func newTestRuntime(t *testing.T) *interp.Runtime {
	t.Helper()
	rt, err := interp.New(2)
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

func newPendingFuture(t *testing.T, rt *interp.Runtime) value.Value {
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

func newDebugapiListener(t *testing.T, rt *interp.Runtime) *Client {
	t.Helper()
	l, err := Listen(rt, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	client, err := Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHeapStatsOverRPC(t *testing.T) {
	rt := newTestRuntime(t)
	newPendingFuture(t, rt) // leaves one live Future object on the heap

	client := newDebugapiListener(t, rt)

	resp, err := client.HeapStats()
	if err != nil {
		t.Fatalf("HeapStats: %v", err)
	}
	if resp.EdenRegions == 0 {
		t.Fatalf("expected at least one eden region, got %+v", resp)
	}

	var sawFuture bool
	for _, e := range resp.Histogram {
		if e.Shape == value.ShapeFuture.String() && e.Count >= 1 {
			sawFuture = true
		}
	}
	if !sawFuture {
		t.Fatalf("expected the allocated future to appear in the histogram, got %+v", resp.Histogram)
	}
}

// Bytecode encoding matching internal/interp's DecodeInstruction layout:
// opcode in byte 0, remaining bytes packed little-endian into the operand
// (IAAX/IAXX/IAAA forms this test needs).
const (
	opLoad       = 5  // internal/interp.OpLoad (IAXX: 0=null)
	opLoadSmi    = 6  // internal/interp.OpLoadSmi (IAAA: 24-bit immediate)
	opLoadGlobal = 15 // internal/interp.OpLoadGlobal (IAAX: 16-bit operand)
	opCall       = 25 // internal/interp.OpCall (IAXX: 8-bit operand)
	opRet        = 27 // internal/interp.OpRet (IXXX: no operand)
)

func wordIAAX(op byte, ab uint16) uint32 {
	return uint32(op) | uint32(ab)<<8
}

func wordIAAA(op byte, abc uint32) uint32 {
	return uint32(op) | (abc&0xFFFFFF)<<8
}

func wordIAXX(op byte, a uint8) uint32 {
	return uint32(op) | uint32(a)<<8
}

func wordIXXX(op byte) uint32 { return uint32(op) }

func assemble(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func TestCaptureStackTraceOverRPCWhileFiberParkedOnSleep(t *testing.T) {
	rt := newTestRuntime(t)
	tab := heap.NewTAB(rt.Heap)
	if err := rt.RegisterBuiltins(tab); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	code := assemble(
		wordIAXX(opLoad, 0),
		wordIAAX(opLoadGlobal, 0),
		wordIAAA(opLoadSmi, 500),
		wordIAXX(opCall, 1),
		wordIXXX(opRet),
	)
	si := &value.SharedFunctionInfo{
		Name:       "main",
		NameSymbol: value.NewSymbol("main"),
		StackSize:  4,
		Strings:    []string{"sleep"},
		Code:       code,
		EndOffset:  len(code),
	}

	fut := newPendingFuture(t, rt)
	th := interp.NewThread(rt, si, value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	client := newDebugapiListener(t, rt)

	deadline := time.Now().Add(2 * time.Second)
	var resp *CaptureStackTraceResponse
	var err error
	for time.Now().Before(deadline) {
		resp, err = client.CaptureStackTrace()
		if err != nil {
			t.Fatalf("CaptureStackTrace: %v", err)
		}
		if len(resp.Fibers) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(resp.Fibers) == 0 {
		t.Fatalf("expected at least one fiber mid-sleep, got none")
	}
	if resp.Fibers[0].Frames[0].Function != "main" {
		t.Fatalf("expected top frame function %q, got %q", "main", resp.Fibers[0].Frames[0].Function)
	}
}
