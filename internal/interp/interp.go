package interp

import "github.com/charly-lang/charly/internal/value"

// execOne decodes and runs exactly one instruction of the current top
// frame, reporting what Step should do next (spec §4.4 "Dispatch loop").
// fr.ip is only advanced once the instruction fully completes, so a
// safepoint yield always re-decodes the same word on resume.
func (th *Thread) execOne() stepOutcome {
	fr := th.top
	if fr == nil {
		return outcomeCompleted
	}
	th.raised = false
	inst := DecodeInstruction(fr.shared.Word(fr.ip))
	next := fr.ip + 4

	switch inst.Op {
	case OpNop:
		fr.ip = next

	case OpPop:
		fr.popN(int(inst.A))
		fr.ip = next

	case OpDup:
		fr.push(fr.peek())
		fr.ip = next

	case OpDup2:
		a, b := fr.stack[fr.sp-2], fr.stack[fr.sp-1]
		fr.push(a)
		fr.push(b)
		fr.ip = next

	case OpSwap:
		fr.stack[fr.sp-1], fr.stack[fr.sp-2] = fr.stack[fr.sp-2], fr.stack[fr.sp-1]
		fr.ip = next

	case OpLoad:
		switch inst.A {
		case 0:
			fr.push(value.Null)
		case 1:
			fr.push(value.True)
		case 2:
			fr.push(value.False)
		}
		fr.ip = next

	case OpLoadSmi:
		fr.push(value.NewInt(signed24(inst.ABC)))
		fr.ip = next

	case OpLoadSelf:
		fr.push(fr.self)
		fr.ip = next

	case OpLoadArgc:
		fr.push(value.NewInt(int64(len(fr.args))))
		fr.ip = next

	case OpLoadLocal:
		fr.push(fr.locals[inst.AB])
		fr.ip = next

	case OpSetLocal:
		fr.locals[inst.AB] = fr.pop()
		fr.ip = next

	case OpLoadFar:
		fr.push(th.loadFar(fr, int(inst.A), int(inst.BC)))
		fr.ip = next

	case OpSetFar:
		th.setFar(fr, int(inst.A), int(inst.BC), fr.pop())
		fr.ip = next

	case OpLoadFarSelf:
		fr.push(th.selfAt(fr, int(inst.A)))
		fr.ip = next

	case OpDeclareGlobal:
		return th.opDeclareGlobal(fr, inst, next)

	case OpLoadGlobal:
		return th.opLoadGlobal(fr, inst, next)

	case OpSetGlobal:
		return th.opSetGlobal(fr, inst, next)

	case OpLoadAttr:
		return th.opLoadAttr(fr, signed16(inst.AB), next)

	case OpLoadAttrSym:
		return th.opLoadAttrSym(fr, inst, next)

	case OpSetAttr:
		return th.opSetAttr(fr, signed16(inst.AB), next)

	case OpSetAttrSym:
		return th.opSetAttrSym(fr, inst, next)

	case OpJmp:
		fr.ip = fr.ip + int(signed16(inst.AB))

	case OpJmpF:
		if !truthy(fr.pop()) {
			fr.ip = fr.ip + int(signed16(inst.AB))
		} else {
			fr.ip = next
		}

	case OpJmpT:
		if truthy(fr.pop()) {
			fr.ip = fr.ip + int(signed16(inst.AB))
		} else {
			fr.ip = next
		}

	case OpTestIntJmp:
		v := fr.pop()
		if v.IsInt() && v.Int() == int64(inst.A) {
			fr.ip = fr.ip + int(signed16(inst.BC))
		} else {
			fr.ip = next
		}

	case OpCall:
		return th.opCall(fr, int(inst.A), next)

	case OpCallSpread:
		return th.opCallSpread(fr, int(inst.A), next)

	case OpRet:
		return th.opRet(fr)

	case OpMakeClass:
		return th.opMakeClass(fr, next)

	case OpMakeFunc:
		return th.opMakeFunc(fr, inst, next)

	case OpMakeStr:
		fr.push(fr.shared.StringValues[inst.AB])
		fr.ip = next

	case OpMakeTuple:
		return th.opMakeTuple(fr, int(inst.AB), next)

	case OpMakeTupleSpread:
		return th.opMakeTupleSpread(fr, int(inst.A), next)

	case OpThrowEx:
		exc := fr.pop()
		if th.isStringValue(exc) {
			wrapped, outcome, ok := th.newException(exc, value.Null)
			if !ok {
				return outcome
			}
			exc = wrapped.ToValue()
		}
		if th.pendingException != value.Value(0) {
			return th.rethrow(exc)
		}
		return th.raise(exc)

	case OpGetException:
		fr.push(th.pendingException)
		fr.ip = next

	case OpMakeFiber:
		args, context, entry := fr.pop(), fr.pop(), fr.pop()
		outcome := th.makeFiber(entry, context, args)
		fr.ip = next
		return outcome

	case OpFiberJoin:
		fib := fr.pop()
		fr.ip = next // committed before parking: a resumed join re-enters at the continuation, not at fiberjoin again
		return th.fiberJoin(fib)

	case OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpAnd, OpOr:
		return th.opBinary(fr, inst.Op, next)

	case OpNot, OpNeg:
		return th.opUnary(fr, inst.Op, next)

	case OpCastInt, OpCastFloat, OpCastString, OpCastBool:
		return th.opCast(fr, inst.Op, next)

	case OpMakeList, OpMakeDict:
		return th.throwMessage("opcode not implemented")

	default:
		return th.throwMessage("unknown opcode")
	}
	return outcomeContinue
}

func truthy(v value.Value) bool {
	switch {
	case v.IsBool():
		return v.Bool()
	case v.IsNull():
		return false
	default:
		return true
	}
}

// loadFar/setFar walk depth captured-context links to reach an enclosing
// closure's heap variables. A context tuple's slot 0 is reserved for the
// parent context (Null at the outermost); slots 1..N are this closure's
// heap variables — the layout this package settles on for the spec's
// otherwise-unspecified context representation (§4.4 "loadfar/setfar").
func (th *Thread) loadFar(fr *frame, depth, idx int) value.Value {
	ctx := th.contextAt(fr, depth)
	if !ctx.IsPointer() {
		return value.Null
	}
	return value.Tuple{Object: value.ObjectOf(th.rt.Heap, ctx)}.Get(int64(idx) + 1)
}

func (th *Thread) setFar(fr *frame, depth, idx int, v value.Value) {
	ctx := th.contextAt(fr, depth)
	if !ctx.IsPointer() {
		return
	}
	value.Tuple{Object: value.ObjectOf(th.rt.Heap, ctx)}.Set(int64(idx)+1, v)
}

func (th *Thread) contextAt(fr *frame, depth int) value.Value {
	ctx := fr.context
	for i := 0; i < depth && ctx.IsPointer(); i++ {
		ctx = value.Tuple{Object: value.ObjectOf(th.rt.Heap, ctx)}.Get(0)
	}
	return ctx
}

func (th *Thread) selfAt(fr *frame, depth int) value.Value {
	f := fr
	for i := 0; i < depth && f.parent != nil; i++ {
		f = f.parent
	}
	return f.self
}

