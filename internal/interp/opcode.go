// Package interp implements Charly's stack-based bytecode interpreter: the
// frame layout, instruction dispatch loop, call protocol, and exception
// unwinding that tie the value, heap, gc, and sched packages together
// (spec §4.4). It is the sole producer of heap pointers and the sole
// component that voluntarily yields at a safepoint (spec §5).
package interp

import "fmt"

// Opcode is the low byte of every instruction word (spec §6.2).
type Opcode uint8

// Opcodes are grouped the way §4.4 groups them. Numeric values are this
// package's own assignment — the spec names the opcodes but never their
// wire encoding, since the bytecode producer is an external collaborator
// (spec §1, §4.5 item 1).
const (
	OpNop Opcode = iota

	// Stack.
	OpPop      // IAXX: pop(n) - arg1 = n
	OpDup      // IXXX
	OpDup2     // IXXX
	OpSwap     // IXXX
	OpLoad     // IAXX: push one of {null, true, false} selected by arg1 (0,1,2)
	OpLoadSmi  // IAAA: push NewInt(sign-extended 24-bit immediate)
	OpLoadSelf // IXXX: push current frame's self
	OpLoadArgc // IXXX: push NewInt(current frame's argc)

	// Locals & closures.
	OpLoadLocal   // IAAX: arg16 = local index
	OpSetLocal    // IAAX: arg16 = local index
	OpLoadFar     // IABB: arg1 = depth, arg16(bytes 2-3) = heap-var index
	OpSetFar      // IABB: arg1 = depth, arg16(bytes 2-3) = heap-var index
	OpLoadFarSelf // IAXX: arg1 = depth

	// Globals.
	OpDeclareGlobal // IAAX: arg16 = string-table index of the name; pops flags (TOS, const bit), then the initial value
	OpLoadGlobal    // IAAX: arg16 = string-table index of the name
	OpSetGlobal     // IAAX: arg16 = string-table index of the name; pops new value

	// Member access.
	OpLoadAttr    // IAAX: arg16 interpreted as signed int16 tuple index (negative-wrap)
	OpLoadAttrSym // IAAX: arg16 = string-table index of the attribute name
	OpSetAttr     // IAAX: arg16 as signed int16 tuple index; pops value then target
	OpSetAttrSym  // IAAX: arg16 = string-table index; pops value then target

	// Control flow.
	OpJmp        // IAAX: arg16 as signed int16 byte offset from the jump instruction
	OpJmpF       // IAAX
	OpJmpT       // IAAX
	OpTestIntJmp // IABB: arg1 = k, arg16(bytes2-3) as signed int16 offset

	// Calls. Stack layout for both, bottom to top: [Self, Callee, Arg1..ArgN];
	// arg1 is the argument/segment count, not counting Self or the callee
	// itself, so each pops arg1+2 values total.
	OpCall       // IAXX: arg1 = argc
	OpCallSpread // IAXX: arg1 = segcount
	OpRet        // IXXX

	// Construction.
	OpMakeClass       // IXXX: pops flags, name, parent, ctor, memberFuncs, memberProps, staticFuncs, staticProps
	OpMakeFunc        // IAAX: arg16 = index into the module's function table
	OpMakeStr         // IAAX: arg16 = index into the current function's string table
	OpMakeTuple       // IAAX: arg16 = element count, popped off the stack in order
	OpMakeTupleSpread // IAXX: arg1 = segcount

	// Exceptions.
	OpThrowEx      // IXXX: pops a message (string or Exception); raises it
	OpGetException // IXXX: pushes the frame's pending exception

	// Concurrency.
	OpMakeFiber // IXXX: pops [fn, context, args]; pushes an unscheduled Fiber
	OpFiberJoin // IXXX: pops a Fiber; awaits its Future, pushes the result

	// Arithmetic / comparison / logic.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpNot
	OpNeg

	// Casts.
	OpCastInt
	OpCastFloat
	OpCastString
	OpCastBool

	// Marked UNIMPLEMENTED in the original source (spec §9 "Open
	// questions"); recognised here so a producer emitting them gets a
	// language-level exception instead of a decode failure.
	OpMakeList
	OpMakeDict

	opcodeCount
)

var opcodeNames = [...]string{
	OpNop: "nop", OpPop: "pop", OpDup: "dup", OpDup2: "dup2", OpSwap: "swap",
	OpLoad: "load", OpLoadSmi: "loadsmi", OpLoadSelf: "loadself", OpLoadArgc: "loadargc",
	OpLoadLocal: "loadlocal", OpSetLocal: "setlocal", OpLoadFar: "loadfar", OpSetFar: "setfar",
	OpLoadFarSelf: "loadfarself", OpDeclareGlobal: "declareglobal", OpLoadGlobal: "loadglobal",
	OpSetGlobal: "setglobal", OpLoadAttr: "loadattr", OpLoadAttrSym: "loadattrsym",
	OpSetAttr: "setattr", OpSetAttrSym: "setattrsym", OpJmp: "jmp", OpJmpF: "jmpf",
	OpJmpT: "jmpt", OpTestIntJmp: "testintjmp", OpCall: "call", OpCallSpread: "callspread",
	OpRet: "ret", OpMakeClass: "makeclass", OpMakeFunc: "makefunc", OpMakeStr: "makestr",
	OpMakeTuple: "maketuple", OpMakeTupleSpread: "maketuplespread", OpThrowEx: "throwex",
	OpGetException: "getexception", OpMakeFiber: "makefiber", OpFiberJoin: "fiberjoin",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpEq: "eq",
	OpNeq: "neq", OpLt: "lt", OpLte: "lte", OpGt: "gt", OpGte: "gte", OpAnd: "and",
	OpOr: "or", OpNot: "not", OpNeg: "neg", OpCastInt: "castint", OpCastFloat: "castfloat",
	OpCastString: "caststring", OpCastBool: "castbool", OpMakeList: "makelist",
	OpMakeDict: "makedict",
}

// String names an opcode for disassembly (cmd/charly's --asm), falling
// back to its raw numeric value for anything outside the known table
// (opcodeCount itself, or a decode of garbage bytes).
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op%d", uint8(op))
}

// Instruction is the decoded form of one 4-byte instruction word. Not every
// field is meaningful for every opcode; each handler reads the ones its
// encoding variant defines (spec §6.2).
type Instruction struct {
	Op   Opcode
	A, B, C uint8  // IABC's three byte operands
	AB   uint16 // bytes 1-2 as a little-endian u16 (IAAX, IDeclareGlobal, jumps, ...)
	BC   uint16 // bytes 2-3 as a little-endian u16 (IABB's second operand)
	ABC  uint32 // bytes 1-3 as a little-endian u24 (IAAA, used by loadsmi)
}

// DecodeInstruction splits a little-endian instruction word into its
// constituent byte/u16/u24 fields (spec §6.2 "Four-byte, little-endian").
func DecodeInstruction(word uint32) Instruction {
	b1 := uint8(word >> 8)
	b2 := uint8(word >> 16)
	b3 := uint8(word >> 24)
	return Instruction{
		Op:  Opcode(word & 0xFF),
		A:   b1,
		B:   b2,
		C:   b3,
		AB:  uint16(b1) | uint16(b2)<<8,
		BC:  uint16(b2) | uint16(b3)<<8,
		ABC: uint32(b1) | uint32(b2)<<8 | uint32(b3)<<16,
	}
}

// signed16 sign-extends a u16 that was packed from a jump-offset or
// negative-wrap index field.
func signed16(u uint16) int64 { return int64(int16(u)) }

// signed24 sign-extends a u24 loadsmi immediate (24 significant bits).
func signed24(u uint32) int64 {
	const signBit = 1 << 23
	if u&signBit != 0 {
		return int64(u) - (1 << 24)
	}
	return int64(u)
}
