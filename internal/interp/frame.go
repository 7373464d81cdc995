package interp

import "github.com/charly-lang/charly/internal/value"

// frame is a stack-allocated (in the source; Go-heap-allocated here, a
// fresh one per call) activation record: parent frame
// pointer, self, a pointer to the SharedFunctionInfo, captured context,
// argument tuple and count, a locals array, an operand stack, a
// return-value slot, and the instruction pointer (spec §4.4 "Frame").
//
// ip always addresses the instruction about to execute, inside the shared
// function's slice of the module code buffer; it is only committed back
// from a local variable once an instruction completes successfully, so a
// safepoint yield (allocation failure, GC stop, time-budget overrun) always
// resumes by re-decoding the same instruction.
type frame struct {
	parent *frame

	self   value.Value
	shared *value.SharedFunctionInfo

	context value.Value
	args    []value.Value

	locals []value.Value
	stack  []value.Value
	sp     int

	retVal value.Value
	ip     int

	// handlerDepth counts how many times this frame has re-entered its own
	// exception-table search while unwinding a cause chain, purely to cap
	// runaway handler loops; not part of the spec, just a defensive bound.
	handlerDepth int
}

func newFrame(parent *frame, self value.Value, shared *value.SharedFunctionInfo, context value.Value, args []value.Value) *frame {
	locals := make([]value.Value, shared.LocalVariables)
	for i := range locals {
		locals[i] = value.Null
	}
	n := len(args)
	if n > len(locals) {
		n = len(locals)
	}
	copy(locals[:n], args[:n])

	return &frame{
		parent:  parent,
		self:    self,
		shared:  shared,
		context: context,
		args:    args,
		locals:  locals,
		stack:   make([]value.Value, shared.StackSize),
		ip:      shared.BytecodeBase,
	}
}

// str returns the materialized heap Value for this function's string table
// entry i (operand to makestr).
func (f *frame) str(i int) value.Value { return f.shared.StringValues[i] }

func (f *frame) push(v value.Value) { f.stack[f.sp] = v; f.sp++ }

func (f *frame) pop() value.Value {
	f.sp--
	return f.stack[f.sp]
}

func (f *frame) peek() value.Value { return f.stack[f.sp-1] }

func (f *frame) popN(n int) []value.Value {
	out := make([]value.Value, n)
	copy(out, f.stack[f.sp-n:f.sp])
	f.sp -= n
	return out
}

// argAt returns argument i, or Null if the call supplied fewer arguments
// than the callee declared locals for (spec's minargc/argc bound is
// enforced earlier, at call time, in call.go).
func (f *frame) argAt(i int) value.Value {
	if i < 0 || i >= len(f.args) {
		return value.Null
	}
	return f.args[i]
}
