package module

import (
	"encoding/binary"
	"testing"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// buildBundle hand-assembles the minimal wire format Parse expects: a
// header, one symbol ("main"), a one-instruction code section (nop), and
// one function table entry for "main" with no exception table, source
// map, strings, or inline cache slots.
func buildBundle() []byte {
	var buf []byte
	put32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }

	// Reserve header space; patch offsets in after laying out the body.
	header := make([]byte, headerSize)
	buf = append(buf, header...)

	symOff := uint32(len(buf))
	put32(4) // string length
	buf = append(buf, "main"...)
	symCount := uint32(1)

	codeOff := uint32(len(buf))
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // one IXXX nop
	codeLen := uint32(4)

	fnOff := uint32(len(buf))
	put32(0)  // name index -> "main"
	put32(4)  // stacksize
	put32(0)  // local_variables
	put32(0)  // heap_variables
	put32(0)  // argc<<16 | minargc == 0
	put32(0)  // flags
	put32(0)  // bytecode_base_ptr
	put32(4)  // end_ptr
	put32(0)  // exception table count
	put32(0)  // source map count
	put32(0)  // string table count
	put32(0)  // inline cache count
	fnCount := uint32(1)

	binary.LittleEndian.PutUint32(buf[0:4], bundleMagic)
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	binary.LittleEndian.PutUint32(buf[8:12], symOff)
	binary.LittleEndian.PutUint32(buf[12:16], symCount)
	binary.LittleEndian.PutUint32(buf[16:20], fnOff)
	binary.LittleEndian.PutUint32(buf[20:24], fnCount)
	binary.LittleEndian.PutUint32(buf[24:28], codeOff)
	binary.LittleEndian.PutUint32(buf[28:32], codeLen)

	return buf
}

func TestParseRoundTrip(t *testing.T) {
	b, err := Parse("test.chlyb", buildBundle())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(b.SymbolTable) != 1 || b.SymbolTable[0] != "main" {
		t.Fatalf("unexpected symbol table: %v", b.SymbolTable)
	}
	if len(b.FunctionTable) != 1 || b.FunctionTable[0].Name != "main" {
		t.Fatalf("unexpected function table: %+v", b.FunctionTable)
	}
	if b.Instruction(0) != 0 {
		t.Fatalf("expected a single nop instruction, got %#x", b.Instruction(0))
	}
}

func TestRegisterModuleAllocatesFunctionObjects(t *testing.T) {
	b, err := Parse("test.chlyb", buildBundle())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	h, err := heap.New()
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	defer h.Close()

	tab := heap.NewTAB(h)
	symbols := value.NewSymbolRegistry()
	shapes := value.NewShapeRegistry()

	mod, err := RegisterModule(h, tab, symbols, shapes, b)
	if err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}
	if len(mod.Functions) != 1 {
		t.Fatalf("expected 1 function object, got %d", len(mod.Functions))
	}

	fn, ok := mod.FunctionByName("main")
	if !ok {
		t.Fatalf("FunctionByName(main) not found")
	}
	if fn.Header().ShapeID() != value.ShapeFunction {
		t.Fatalf("function object has wrong shape: %v", fn.Header().ShapeID())
	}
	if fn.Shared().Name != "main" {
		t.Fatalf("Shared().Name = %q, want main", fn.Shared().Name)
	}
	if name, ok := symbols.Lookup(fn.Field(0)); !ok || name != "main" {
		t.Fatalf("function name field did not round-trip through the symbol registry: %q, %v", name, ok)
	}
}
