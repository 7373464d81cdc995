package interp

import (
	"errors"

	"github.com/charly-lang/charly/internal/value"
)

var errUnknownParentShape = errors.New("interp: parent class has no registered instance shape")

// opDeclareGlobal implements declareglobal: arg16 names the global (via the
// current function's string table), and the stack carries [initial, flags]
// with flags' low bit selecting const (spec §4.4 "Globals").
func (th *Thread) opDeclareGlobal(fr *frame, inst Instruction, next int) stepOutcome {
	flags := fr.pop()
	initial := fr.pop()
	name := th.rt.Symbols.Intern(fr.shared.Strings[inst.AB])
	if err := th.rt.Globals.Declare(name, initial, flags.IsInt() && flags.Int()&1 != 0); err != nil {
		fr.push(initial)
		fr.push(flags)
		return th.throwMessage(err.Error())
	}
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opLoadGlobal(fr *frame, inst Instruction, next int) stepOutcome {
	name := th.rt.Symbols.Intern(fr.shared.Strings[inst.AB])
	v, ok := th.rt.Globals.Load(name)
	if !ok {
		return th.throwMessage("global not declared")
	}
	fr.push(v)
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opSetGlobal(fr *frame, inst Instruction, next int) stepOutcome {
	v := fr.pop()
	name := th.rt.Symbols.Intern(fr.shared.Strings[inst.AB])
	if err := th.rt.Globals.Store(name, v); err != nil {
		fr.push(v)
		return th.throwMessage(err.Error())
	}
	fr.ip = next
	return outcomeContinue
}

// tupleIndex resolves a possibly-negative index against length n, the
// "negative-wrap" addressing loadattr/setattr share with List.Set.
func tupleIndex(i int64, n int64) int64 {
	if i < 0 {
		i += n
	}
	return i
}

func (th *Thread) opLoadAttr(fr *frame, idx int64, next int) stepOutcome {
	target := fr.pop()
	if !target.IsPointer() {
		return th.throwMessage("loadattr on a non-object value")
	}
	tuple := value.Tuple{Object: value.ObjectOf(th.rt.Heap, target)}
	i := tupleIndex(idx, tuple.Len())
	if i < 0 || i >= tuple.Len() {
		fr.push(value.NewError(value.ErrorOutOfBounds))
		fr.ip = next
		return outcomeContinue
	}
	fr.push(tuple.Get(i))
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opLoadAttrSym(fr *frame, inst Instruction, next int) stepOutcome {
	target := fr.pop()
	if !target.IsPointer() {
		return th.throwMessage("loadattrsym on a non-object value")
	}
	obj := value.ObjectOf(th.rt.Heap, target)
	sym := th.rt.Symbols.Intern(fr.shared.Strings[inst.AB])
	shape, ok := th.rt.Shapes.Lookup(obj.Header().ShapeID())
	if !ok {
		return th.throwMessage("object has no registered shape")
	}
	offset, _, found := shape.Offset(sym)
	if !found {
		fr.push(value.NewError(value.ErrorNotFound))
		fr.ip = next
		return outcomeContinue
	}
	fr.push(obj.Field(offset))
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opSetAttr(fr *frame, idx int64, next int) stepOutcome {
	v := fr.pop()
	target := fr.pop()
	if !target.IsPointer() {
		return th.throwMessage("setattr on a non-object value")
	}
	tuple := value.Tuple{Object: value.ObjectOf(th.rt.Heap, target)}
	i := tupleIndex(idx, tuple.Len())
	if i < 0 || i >= tuple.Len() {
		fr.push(value.NewError(value.ErrorOutOfBounds))
		fr.ip = next
		return outcomeContinue
	}
	tuple.Set(i, v)
	fr.push(v)
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opSetAttrSym(fr *frame, inst Instruction, next int) stepOutcome {
	v := fr.pop()
	target := fr.pop()
	if !target.IsPointer() {
		return th.throwMessage("setattrsym on a non-object value")
	}
	obj := value.ObjectOf(th.rt.Heap, target)
	sym := th.rt.Symbols.Intern(fr.shared.Strings[inst.AB])
	shape, ok := th.rt.Shapes.Lookup(obj.Header().ShapeID())
	if !ok {
		return th.throwMessage("object has no registered shape")
	}
	offset, flags, found := shape.Offset(sym)
	if !found {
		// A shape transition would add a slot beyond the object's allocated
		// field count (Header.SetShapeID "widens an instance's layout in
		// place is NOT supported" — only makeclass grows field counts, by
		// allocating the whole instance fresh). Assigning an undeclared
		// property is therefore a language-level error, not a silent shape
		// mutation.
		fr.push(value.NewError(value.ErrorNotFound))
		fr.ip = next
		return outcomeContinue
	}
	if flags&value.FieldReadOnly != 0 {
		fr.push(value.NewError(value.ErrorReadOnly))
		fr.ip = next
		return outcomeContinue
	}
	obj.SetField(offset, v)
	fr.push(v)
	fr.ip = next
	return outcomeContinue
}

// opCall implements call_value (spec §4.4): pops argc arguments, the
// callee, and self — stack layout [Self, Callee, Arg1..ArgN], bottom to
// top — dispatches, and commits the stack-pop only once the callee
// dispatch hasn't asked for a retry (allocation-exhaustion safepoint). On
// retry the popped values are pushed back so execOne re-decodes an
// identical stack.
func (th *Thread) opCall(fr *frame, argc int, next int) stepOutcome {
	args := fr.popN(argc)
	callee := fr.pop()
	self := fr.pop()

	outcome := th.callValue(self, callee, args)

	if outcome == outcomeYield {
		fr.push(self)
		fr.push(callee)
		for _, a := range args {
			fr.push(a)
		}
		return outcome
	}
	if th.raised {
		return outcome
	}
	fr.ip = next
	return outcome
}

// opCallSpread implements call_value's spread-argument variant: segcount
// segments are popped, each either a single value or a tuple to splice
// (marked by the tuple's own shape — spec §4.4 "callspread"). Segment
// Values are pre-flattened here rather than at the opcode's wire format,
// since the format never specifies a per-segment "is spread" tag
// separately from the value's own shape.
func (th *Thread) opCallSpread(fr *frame, segcount int, next int) stepOutcome {
	segs := fr.popN(segcount)
	callee := fr.pop()
	self := fr.pop()

	var args []value.Value
	for _, seg := range segs {
		if seg.IsPointer() {
			if obj := value.ObjectOf(th.rt.Heap, seg); obj.Header().ShapeID() == value.ShapeTuple {
				tuple := value.Tuple{Object: obj}
				n := tuple.Len()
				for i := int64(0); i < n; i++ {
					args = append(args, tuple.Get(i))
				}
				continue
			}
		}
		args = append(args, seg)
	}

	outcome := th.callValue(self, callee, args)
	if outcome == outcomeYield {
		fr.push(self)
		fr.push(callee)
		for _, s := range segs {
			fr.push(s)
		}
		return outcome
	}
	if th.raised {
		return outcome
	}
	fr.ip = next
	return outcome
}

// opRet implements ret: pops the current frame, delivering its return
// value to the caller's stack (or completing the fiber if this was the
// entry frame) (spec §4.4 "ret").
func (th *Thread) opRet(fr *frame) stepOutcome {
	result := value.Null
	if fr.sp > 0 {
		result = fr.pop()
	}
	parent := fr.parent
	th.top = parent
	if parent == nil {
		return th.complete(result, value.Value(0), true)
	}
	parent.push(result)
	return outcomeContinue
}

// opMakeFunc allocates a closure over the current frame's context for the
// module function-table entry named by arg16 (spec §4.4 "makefunc"). The
// bundle format has no separate per-function nested-function section, so
// every function shares its owning module's flat FunctionTable and
// makefunc's operand simply indexes into it.
func (th *Thread) opMakeFunc(fr *frame, inst Instruction, next int) stepOutcome {
	si := fr.shared.FunctionTable[inst.AB]
	fn, outcome, ok := th.newFunction(si, fr.context, fr.self)
	if !ok {
		return outcome
	}
	fr.push(fn.ToValue())
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opMakeTuple(fr *frame, count int, next int) stepOutcome {
	elems := fr.popN(count)
	tuple, outcome, ok := th.newTuple(elems)
	if !ok {
		for _, e := range elems {
			fr.push(e)
		}
		return outcome
	}
	fr.push(tuple.ToValue())
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opMakeTupleSpread(fr *frame, segcount int, next int) stepOutcome {
	segs := fr.popN(segcount)
	var elems []value.Value
	for _, seg := range segs {
		if seg.IsPointer() {
			if obj := value.ObjectOf(th.rt.Heap, seg); obj.Header().ShapeID() == value.ShapeTuple {
				tuple := value.Tuple{Object: obj}
				n := tuple.Len()
				for i := int64(0); i < n; i++ {
					elems = append(elems, tuple.Get(i))
				}
				continue
			}
		}
		elems = append(elems, seg)
	}
	tuple, outcome, ok := th.newTuple(elems)
	if !ok {
		for _, s := range segs {
			fr.push(s)
		}
		return outcome
	}
	fr.push(tuple.ToValue())
	fr.ip = next
	return outcomeContinue
}

// opMakeClass pops the eight class-declaration operands makeclass always
// carries (spec §4.4 "makeclass"), derives a fresh instance shape by
// chaining field transitions for every declared member property, and
// allocates the Class object.
func (th *Thread) opMakeClass(fr *frame, next int) stepOutcome {
	staticProps := fr.pop()
	staticFuncs := fr.pop()
	memberProps := fr.pop()
	memberFuncs := fr.pop()
	ctor := fr.pop()
	parent := fr.pop()
	name := fr.pop()
	flags := fr.pop()

	restore := func() {
		fr.push(flags)
		fr.push(name)
		fr.push(parent)
		fr.push(ctor)
		fr.push(memberFuncs)
		fr.push(memberProps)
		fr.push(staticFuncs)
		fr.push(staticProps)
	}

	instanceShape, err := th.deriveInstanceShape(parent, memberProps)
	if err != nil {
		restore()
		return th.throwMessage(err.Error())
	}

	shape := th.rt.Shapes.Root(value.ShapeClass)
	obj, outcome, ok := th.newObject(shape, value.ClassFieldCount, true)
	if !ok {
		restore()
		return outcome
	}
	obj.SetField(0, flags)
	obj.SetField(1, value.Null) // ancestors: filled in below once parent is known
	obj.SetField(2, name)
	obj.SetField(3, parent)
	obj.SetField(4, value.NewInt(int64(instanceShape.ID)))
	obj.SetField(5, memberFuncs)
	obj.SetField(6, ctor)
	obj.SetField(7, staticFuncs)

	ancestors, outcome, ok := th.buildAncestors(parent, obj.ToValue())
	if !ok {
		restore()
		return outcome
	}
	obj.SetField(1, ancestors.ToValue())

	fr.push(obj.ToValue())
	fr.ip = next
	return outcomeContinue
}

// deriveInstanceShape chains one shape transition per declared member
// property onto parent's instance shape (or the empty root shape for a
// class with no parent), so every instance of this class starts from a
// shape that already has every declared property's slot (spec §3.3
// "Shapes", §4.4 "makeclass").
func (th *Thread) deriveInstanceShape(parent, memberProps value.Value) (*value.Shape, error) {
	var base *value.Shape
	if parent.IsPointer() {
		parentCls := value.Class{Object: value.ObjectOf(th.rt.Heap, parent)}
		s, ok := th.rt.Shapes.Lookup(value.ShapeID(parentCls.InstanceShapeID().Int()))
		if !ok {
			return nil, errUnknownParentShape
		}
		base = s
	} else {
		var err error
		base, err = th.rt.Shapes.EmptyInstanceRoot()
		if err != nil {
			return nil, err
		}
	}

	if !memberProps.IsPointer() {
		return base, nil
	}
	props := value.Tuple{Object: value.ObjectOf(th.rt.Heap, memberProps)}
	n := props.Len()
	shape := base
	for i := int64(0); i < n; i++ {
		var err error
		shape, err = th.rt.Shapes.Transition(shape, props.Get(i), 0)
		if err != nil {
			return nil, err
		}
	}
	return shape, nil
}

// buildAncestors allocates the ancestor tuple used by Class.IsA: parent's
// own ancestors (if any) followed by parent itself followed by self.
func (th *Thread) buildAncestors(parent, self value.Value) (value.Tuple, stepOutcome, bool) {
	var chain []value.Value
	if parent.IsPointer() {
		parentCls := value.Class{Object: value.ObjectOf(th.rt.Heap, parent)}
		if anc := parentCls.Ancestors(); anc.IsPointer() {
			ancTuple := value.Tuple{Object: value.ObjectOf(th.rt.Heap, anc)}
			n := ancTuple.Len()
			for i := int64(0); i < n; i++ {
				chain = append(chain, ancTuple.Get(i))
			}
		}
		chain = append(chain, parent)
	}
	chain = append(chain, self)
	return th.newTuple(chain)
}

// opBinary implements the arithmetic/comparison/logic opcode group. Mixed
// int/float operands promote to float, matching the spec's silence on
// mixed arithmetic by following the common dynamic-language convention
// (DESIGN.md open question).
func (th *Thread) opBinary(fr *frame, op Opcode, next int) stepOutcome {
	b := fr.pop()
	a := fr.pop()
	result, err := evalBinary(op, a, b)
	if err != "" {
		fr.push(a)
		fr.push(b)
		return th.throwMessage(err)
	}
	fr.push(result)
	fr.ip = next
	return outcomeContinue
}

func evalBinary(op Opcode, a, b value.Value) (value.Value, string) {
	switch op {
	case OpEq:
		return value.NewBool(a == b), ""
	case OpNeq:
		return value.NewBool(a != b), ""
	case OpAnd:
		return value.NewBool(truthy(a) && truthy(b)), ""
	case OpOr:
		return value.NewBool(truthy(a) || truthy(b)), ""
	}

	if a.IsInt() && b.IsInt() {
		x, y := a.Int(), b.Int()
		switch op {
		case OpAdd:
			return value.NewInt(x + y), ""
		case OpSub:
			return value.NewInt(x - y), ""
		case OpMul:
			return value.NewInt(x * y), ""
		case OpDiv:
			if y == 0 {
				return 0, "division by zero"
			}
			return value.NewInt(x / y), ""
		case OpMod:
			if y == 0 {
				return 0, "division by zero"
			}
			return value.NewInt(x % y), ""
		case OpLt:
			return value.NewBool(x < y), ""
		case OpLte:
			return value.NewBool(x <= y), ""
		case OpGt:
			return value.NewBool(x > y), ""
		case OpGte:
			return value.NewBool(x >= y), ""
		}
	}

	if (a.IsInt() || a.IsFloat()) && (b.IsInt() || b.IsFloat()) {
		x, y := asFloat(a), asFloat(b)
		switch op {
		case OpAdd:
			return value.NewFloat(x + y), ""
		case OpSub:
			return value.NewFloat(x - y), ""
		case OpMul:
			return value.NewFloat(x * y), ""
		case OpDiv:
			return value.NewFloat(x / y), ""
		case OpLt:
			return value.NewBool(x < y), ""
		case OpLte:
			return value.NewBool(x <= y), ""
		case OpGt:
			return value.NewBool(x > y), ""
		case OpGte:
			return value.NewBool(x >= y), ""
		}
	}

	if op == OpAdd && a.IsSmallString() && b.IsSmallString() {
		if s, ok := value.NewSmallString(string(a.View()) + string(b.View())); ok {
			return s, ""
		}
		return 0, "string concatenation result too large for inline encoding"
	}

	return 0, "unsupported operand types"
}

func asFloat(v value.Value) float64 {
	if v.IsInt() {
		return float64(v.Int())
	}
	return v.Float()
}

func (th *Thread) opUnary(fr *frame, op Opcode, next int) stepOutcome {
	a := fr.pop()
	switch op {
	case OpNot:
		fr.push(value.NewBool(!truthy(a)))
	case OpNeg:
		switch {
		case a.IsInt():
			fr.push(value.NewInt(-a.Int()))
		case a.IsFloat():
			fr.push(value.NewFloat(-a.Float()))
		default:
			fr.push(a)
			return th.throwMessage("operand does not support negation")
		}
	}
	fr.ip = next
	return outcomeContinue
}

func (th *Thread) opCast(fr *frame, op Opcode, next int) stepOutcome {
	a := fr.pop()
	switch op {
	case OpCastInt:
		switch {
		case a.IsInt():
			fr.push(a)
		case a.IsFloat():
			fr.push(value.NewInt(int64(a.Float())))
		case a.IsBool():
			if a.Bool() {
				fr.push(value.NewInt(1))
			} else {
				fr.push(value.NewInt(0))
			}
		default:
			fr.push(value.NewError(value.ErrorException))
		}
	case OpCastFloat:
		switch {
		case a.IsFloat():
			fr.push(a)
		case a.IsInt():
			fr.push(value.NewFloat(float64(a.Int())))
		default:
			fr.push(value.NewError(value.ErrorException))
		}
	case OpCastBool:
		fr.push(value.NewBool(truthy(a)))
	case OpCastString:
		if s, ok := value.NewSmallString(displayValue(th, a)); ok {
			fr.push(s)
		} else {
			addr, err := th.rt.Heap.NewHugeString(th.proc.TAB(), displayValue(th, a))
			if err != nil {
				fr.push(a)
				return th.throwMessage("allocation failed during cast")
			}
			fr.push(value.NewPointer(addr, true))
		}
	}
	fr.ip = next
	return outcomeContinue
}
