package module

import (
	"unsafe"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// Module is the runtime-resident form of a parsed Bundle: every function's
// SharedFunctionInfo now backed by a heap-allocated Function object, and
// every symbol interned into the process-wide registry (spec §4.5.1).
type Module struct {
	Bundle    *Bundle
	Functions []value.Function
	Symbols   []value.Value // bundle.SymbolTable[i] interned, in order

	// functionValues[i] caches Functions[i].ToValue(), addressable so Roots
	// can hand the collector a stable *value.Value per module-level
	// function — these stay reachable independent of whether any fiber
	// currently holds a reference (e.g. "main" before its first call).
	functionValues []value.Value
}

// Roots returns one root cell per module-level function, so a freshly
// registered module's functions survive collections even before any fiber
// closure captures them (spec §4.5.1, §5 "global runtime tables").
func (m *Module) Roots() []*value.Value {
	out := make([]*value.Value, len(m.functionValues))
	for i := range m.functionValues {
		out[i] = &m.functionValues[i]
	}
	return out
}

// FunctionByName returns the module's first function named name, if any —
// the entry point a CLI invocation or REPL looks up to start execution.
func (m *Module) FunctionByName(name string) (value.Function, bool) {
	for i, si := range m.Bundle.FunctionTable {
		if si.Name == name {
			return m.Functions[i], true
		}
	}
	return value.Function{}, false
}

// RegisterModule installs a parsed Bundle into a running heap: it interns
// the symbol table into registry, allocates one Function heap object per
// SharedFunctionInfo (wired to that info through the raw pointer
// in its shared-info field), materializes each function's string
// table into heap Values, and returns the resulting Module (spec §4.5.1
// item 1).
func RegisterModule(mem *heap.Heap, tab *heap.TAB, registry *value.SymbolRegistry, shapes *value.ShapeRegistry, b *Bundle) (*Module, error) {
	symbols := make([]value.Value, len(b.SymbolTable))
	for i, s := range b.SymbolTable {
		symbols[i] = registry.Intern(s)
	}

	functionShape := shapes.Root(value.ShapeFunction)

	functions := make([]value.Function, len(b.FunctionTable))
	for i, si := range b.FunctionTable {
		si.Code = b.Buffer
		si.FunctionTable = b.FunctionTable

		addr, err := tab.Allocate(value.Size(value.FunctionFieldCount, false))
		if err != nil {
			return nil, errf(b.Filename, "allocating function %q: %v", si.Name, err)
		}
		hdr := mem.Header(addr)
		hdr.SetShapeID(functionShape.ID)
		hdr.SetFieldCount(value.FunctionFieldCount)

		hdr.SetFlag(value.FlagYoungGeneration)
		fn := value.Function{Object: value.Object{Mem: mem, Addr: addr}}
		fn.SetField(0, registry.Intern(si.Name)) // functionFieldName
		fn.SetField(1, value.Null)               // functionFieldContext: no capture at module scope
		fn.SetField(2, value.Null)               // functionFieldSelf
		fn.SetField(3, value.Null)               // functionFieldHostClass
		fn.SetField(4, value.Null)               // functionFieldOverloads: single-arity until an overload is added
		fn.SetField(5, value.Value(uintptr(unsafe.Pointer(si))))

		functions[i] = fn.WithShared(si)

		strs, err := materializeStrings(mem, tab, si.Strings)
		if err != nil {
			return nil, errf(b.Filename, "materializing strings for %q: %v", si.Name, err)
		}
		si.StringValues = strs
	}

	functionValues := make([]value.Value, len(functions))
	for i, fn := range functions {
		functionValues[i] = fn.ToValue()
	}

	return &Module{
		Bundle:         b,
		Functions:      functions,
		Symbols:        symbols,
		functionValues: functionValues,
	}, nil
}

// materializeStrings allocates a heap Value for every entry of a function's
// string table: inline for anything that fits in 7 bytes (value.NewSmallString),
// and as a huge-string wrapper object otherwise (§4.1 "huge variants escape
// to malloc").
func materializeStrings(mem *heap.Heap, tab *heap.TAB, strs []string) ([]value.Value, error) {
	out := make([]value.Value, len(strs))
	for i, s := range strs {
		if small, ok := value.NewSmallString(s); ok {
			out[i] = small
			continue
		}
		addr, err := mem.NewHugeString(tab, s)
		if err != nil {
			return nil, err
		}
		out[i] = value.NewPointer(addr, true)
	}
	return out, nil
}
