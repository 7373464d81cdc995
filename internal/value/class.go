package value

// ClassFlag bits live in a Class's flags field.
type ClassFlag uint8

const (
	ClassFinal ClassFlag = 1 << iota
	ClassNonConstructable
	ClassStatic
)

// Class field offsets (spec §3.4: "8 fields: flags, ancestor tuple, name
// symbol, parent class, instance shape, function table, constructor").
// The 8th slot holds the static-member function table, needed to resolve
// static calls without growing the function table's arity dimension.
const (
	classFieldFlags        = 0
	classFieldAncestors     = 1
	classFieldName          = 2
	classFieldParent        = 3
	classFieldInstanceShape = 4
	classFieldFunctionTable = 5
	classFieldConstructor   = 6
	classFieldStaticFuncs   = 7
	ClassFieldCount         = 8
)

// Class is a typed view over a heap object shaped like ShapeClass.
type Class struct{ Object }

func (c Class) Flags() ClassFlag      { return ClassFlag(c.Field(classFieldFlags).Int()) }
func (c Class) Ancestors() Value      { return c.Field(classFieldAncestors) }
func (c Class) Name() Value           { return c.Field(classFieldName) }
func (c Class) Parent() Value         { return c.Field(classFieldParent) }
func (c Class) InstanceShapeID() Value { return c.Field(classFieldInstanceShape) }
func (c Class) FunctionTable() Value  { return c.Field(classFieldFunctionTable) }
func (c Class) Constructor() Value    { return c.Field(classFieldConstructor) }
func (c Class) StaticFunctions() Value { return c.Field(classFieldStaticFuncs) }

// IsA reports whether this class's ancestor tuple contains other, giving
// the O(1) "is-a" check the spec calls out (§3.4).
func (c Class) IsA(mem Memory, other Value) bool {
	anc := Tuple{Object{Mem: mem, Addr: c.Ancestors().Address()}}
	n := anc.Len()
	for i := int64(0); i < n; i++ {
		if anc.Get(i) == other {
			return true
		}
	}
	return false
}
