package value

// BuiltinFunction field offsets. Unlike Function, a builtin carries no raw
// Go pointer: its identity is a symbol (for error messages and stack
// traces) plus a small tagged int indexing into the interpreter's
// Go-side dispatch table (internal/interp.builtinTable). Keeping the
// dispatch table out of the heap avoids reintroducing the
// opaque-raw-pointer problem Function.Shared() already has to work around.
const (
	builtinFieldName = 0
	builtinFieldID   = 1
	BuiltinFunctionFieldCount = 2
)

// BuiltinFunction is a typed view over a heap object shaped like
// ShapeBuiltinFunction.
type BuiltinFunction struct{ Object }

func (b BuiltinFunction) Name() Value { return b.Field(builtinFieldName) }

// ID returns the index into the interpreter's builtin dispatch table.
func (b BuiltinFunction) ID() int64 { return b.Field(builtinFieldID).Int() }
