package interp

import (
	"fmt"
	"os"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/value"
)

// builtinImpl is one entry of the builtin dispatch table: the symbol
// bytecode resolves against (via loadglobal, same as a user function) and
// the Go-side implementation it runs (spec §4.5.2 "Builtins").
type builtinImpl struct {
	name string
	fn   func(th *Thread, args []value.Value) stepOutcome
}

// builtinTable is the fixed, process-wide set of natively implemented
// functions. Its index is the only thing a heap-resident BuiltinFunction
// carries (value.BuiltinFunction.ID), deliberately never a Go closure
// pointer — see value/builtin.go's doc comment.
var builtinTable = []builtinImpl{
	{name: "print", fn: printBuiltin},
	{name: "sleep", fn: sleepBuiltin},
	{name: "exit", fn: exitBuiltin},
	{name: "readline", fn: readlineBuiltin},
}

// builtinIndex maps a builtin's name to its table slot, built once at
// package init so RegisterBuiltins can resolve names the way
// RegisterModule resolves symbols.
var builtinIndex = func() map[string]int {
	m := make(map[string]int, len(builtinTable))
	for i, b := range builtinTable {
		m[b.name] = i
	}
	return m
}()

// RegisterBuiltins installs one BuiltinFunction global per entry of
// builtinTable into globals, so ordinary bytecode can resolve "print" or
// "sleep" via loadglobal exactly like any user-defined global function
// (spec §4.5.2).
func (rt *Runtime) RegisterBuiltins(tab Allocator) error {
	for i, b := range builtinTable {
		addr, err := tab.Allocate(value.Size(value.BuiltinFunctionFieldCount, false))
		if err != nil {
			return fmt.Errorf("interp: registering builtin %q: %w", b.name, err)
		}
		hdr := rt.Heap.Header(addr)
		hdr.SetShapeID(value.ShapeBuiltinFunction)
		hdr.SetFieldCount(value.BuiltinFunctionFieldCount)
		hdr.SetFlag(value.FlagYoungGeneration)
		obj := value.Object{Mem: rt.Heap, Addr: addr}
		sym := rt.Symbols.Intern(b.name)
		obj.SetField(0, sym)
		obj.SetField(1, value.NewInt(int64(i)))
		rt.Globals.Declare(sym, obj.ToValue(), true)
	}
	return nil
}

// printBuiltin writes each argument's display form to stdout, space
// separated, followed by a newline — the minimal always-available I/O
// primitive every example program needs (spec §4.5.2).
func printBuiltin(th *Thread, args []value.Value) stepOutcome {
	for i, v := range args {
		if i > 0 {
			fmt.Fprint(os.Stdout, " ")
		}
		fmt.Fprint(os.Stdout, displayValue(th, v))
	}
	fmt.Fprintln(os.Stdout)
	return th.pushReturn(value.Null)
}

// exitBuiltin terminates the process immediately with the given code,
// the "arbitrary code from exit(n)" path of spec §6.3. Unlike every other
// builtin it never returns to its caller.
func exitBuiltin(th *Thread, args []value.Value) stepOutcome {
	code := 0
	if len(args) > 0 && args[0].IsInt() {
		code = int(args[0].Int())
	}
	os.Exit(code)
	panic("unreachable")
}

// readlineBuiltin reads one line of interactive input through whatever
// front-end cmd/charly's REPL wired up (spec §6.4's repl.ch), writing
// prompt first. With no front-end wired (a plain script run) it returns
// null immediately, matching an REPL builtin called outside a REPL.
func readlineBuiltin(th *Thread, args []value.Value) stepOutcome {
	if th.rt.ReadLine == nil {
		return th.pushReturn(value.Null)
	}
	prompt := ""
	if len(args) > 0 {
		prompt = displayValue(th, args[0])
	}
	line, ok := th.rt.ReadLine(prompt)
	if !ok {
		return th.pushReturn(value.Null)
	}
	if small, ok := value.NewSmallString(line); ok {
		return th.pushReturn(small)
	}
	addr, err := th.rt.Heap.NewHugeString(th.proc.TAB(), line)
	if err != nil {
		return th.throwMessage("allocation failed while returning readline result")
	}
	return th.pushReturn(value.NewPointer(addr, true))
}

// displayValue renders v the way print/stack-trace formatting does: small
// strings and symbols as their text, everything else by a best-effort
// Go-syntax-free description (spec §4.5.4 reuses the same rendering for
// debugger output).
func displayValue(th *Thread, v value.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsInt():
		return fmt.Sprintf("%d", v.Int())
	case v.IsFloat():
		return fmt.Sprintf("%g", v.Float())
	case v.IsBool():
		return fmt.Sprintf("%t", v.Bool())
	case v.IsSmallString():
		return string(v.View())
	case v.IsSymbol():
		if s, ok := th.rt.Symbols.Lookup(v); ok {
			return s
		}
		return fmt.Sprintf("#<symbol %08x>", v.SymbolHash())
	case v.IsPointer():
		return displayHeapValue(th, v)
	default:
		return "<value>"
	}
}

func displayHeapValue(th *Thread, v value.Value) string {
	obj := value.ObjectOf(th.rt.Heap, v)
	switch obj.Header().ShapeID() {
	case value.ShapeHugeString:
		if hb, ok := th.rt.Heap.External(obj.Addr).(*heap.HugeBuffer); ok {
			return string(hb.Data)
		}
		return "<string>"
	case value.ShapeException:
		exc := value.Exception{Object: obj}
		return displayValue(th, exc.Message())
	default:
		return "<object>"
	}
}
