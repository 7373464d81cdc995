package value

import (
	"strconv"
	"sync"
)

// FieldFlag marks access restrictions on a shape's key, mirroring the
// flags a class declaration can attach to a property (spec §3.3).
type FieldFlag uint8

const (
	FieldInternal FieldFlag = 1 << iota
	FieldReadOnly
	FieldPrivate
)

// Field is one entry of a Shape's ordered key table: an encoded symbol and
// its access flags.
type Field struct {
	Symbol Value
	Flags  FieldFlag
}

// ShapeID indexes the process-wide shape registry. 22 bits wide per §3.3.
type ShapeID uint32

const maxShapeID ShapeID = 1<<22 - 1

// Shape is an immutable descriptor of an object's field layout: an ordered
// list of (symbol, flags) pairs, a parent shape, and a transition table
// mapping "add this key" to the resulting child shape.
//
// Two adjacent objects with the same field set share a Shape; attribute
// lookup is "find offset in shape's key table", which the registry makes
// O(1) via transitions rather than re-deriving shapes from scratch.
type Shape struct {
	ID     ShapeID
	Parent *Shape
	Fields []Field // ordered; index == field offset

	mu          sync.Mutex
	transitions map[uint64]*Shape // keyed by (symbol hash, flags)
}

// Offset returns the field offset for sym, and whether it was found.
func (s *Shape) Offset(sym Value) (int, FieldFlag, bool) {
	for i, f := range s.Fields {
		if f.Symbol == sym {
			return i, f.Flags, true
		}
	}
	return 0, 0, false
}

func transitionKey(sym Value, flags FieldFlag) uint64 {
	return uint64(sym)<<8 | uint64(flags)
}

// transitionTo returns the child shape obtained by adding (sym, flags) to
// s, creating and registering it in reg if it doesn't exist yet. Invariant
// (§8 item 7): two insertions of the same key from the same parent shape
// always reuse the same child.
func (s *Shape) transitionTo(reg *ShapeRegistry, sym Value, flags FieldFlag) (*Shape, error) {
	key := transitionKey(sym, flags)

	s.mu.Lock()
	if s.transitions == nil {
		s.transitions = make(map[uint64]*Shape)
	}
	if child, ok := s.transitions[key]; ok {
		s.mu.Unlock()
		return child, nil
	}
	s.mu.Unlock()

	fields := make([]Field, len(s.Fields)+1)
	copy(fields, s.Fields)
	fields[len(s.Fields)] = Field{Symbol: sym, Flags: flags}

	child, err := reg.register(s, fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.transitions[key]; ok {
		// Lost the race; another goroutine installed a transition first.
		s.mu.Unlock()
		return existing, nil
	}
	s.transitions[key] = child
	s.mu.Unlock()
	return child, nil
}

// Reserved built-in shape ids (§3.3: "the first ~30 ids are reserved").
const (
	ShapeInt ShapeID = iota
	ShapeFloat
	ShapeBool
	ShapeSymbol
	ShapeNull
	ShapeSmallString
	ShapeSmallBytes
	ShapeHugeString
	ShapeHugeBytes
	ShapeTuple
	ShapeList
	ShapeClass
	ShapeShape
	ShapeFunction
	ShapeFiber
	ShapeFuture
	ShapeException
	ShapeBuiltinFunction
	firstUserShapeID
)

var builtinShapeNames = map[ShapeID]string{
	ShapeInt:             "int",
	ShapeFloat:           "float",
	ShapeBool:            "bool",
	ShapeSymbol:          "symbol",
	ShapeNull:            "null",
	ShapeSmallString:     "small_string",
	ShapeSmallBytes:      "small_bytes",
	ShapeHugeString:      "huge_string",
	ShapeHugeBytes:       "huge_bytes",
	ShapeTuple:           "tuple",
	ShapeList:            "list",
	ShapeClass:           "class",
	ShapeShape:           "shape",
	ShapeFunction:        "function",
	ShapeFiber:           "fiber",
	ShapeFuture:          "future",
	ShapeException:       "exception",
	ShapeBuiltinFunction: "builtin_function",
}

// String names a shape id for reporting (histograms, stack traces): one of
// the reserved built-in names, or "instance#N" for a user class's shape.
func (id ShapeID) String() string {
	if name, ok := builtinShapeNames[id]; ok {
		return name
	}
	return "instance#" + strconv.FormatUint(uint64(id), 10)
}

// ShapeRegistry is the process-wide vector of Shapes, indexed by ShapeID.
// Writes (class definitions) are rare relative to reads (attribute lookups
// via cached offsets), so the registry is guarded by a single mutex rather
// than anything fancier (§5 "global runtime tables").
type ShapeRegistry struct {
	mu     sync.RWMutex
	shapes []*Shape

	emptyInstanceRoot *Shape
}

// NewShapeRegistry creates a registry pre-populated with empty root shapes
// for every reserved built-in id.
func NewShapeRegistry() *ShapeRegistry {
	r := &ShapeRegistry{}
	for id := ShapeID(0); id < firstUserShapeID; id++ {
		r.shapes = append(r.shapes, &Shape{ID: id})
	}
	return r
}

// Root returns the empty root shape for a reserved built-in id.
func (r *ShapeRegistry) Root(id ShapeID) *Shape {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shapes[id]
}

// Lookup returns the shape registered under id.
func (r *ShapeRegistry) Lookup(id ShapeID) (*Shape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.shapes) {
		return nil, false
	}
	return r.shapes[id], true
}

// EmptyInstanceRoot returns the single, shared zero-field shape every
// parentless class's instance shape chain starts from, so that two
// unrelated classes declaring the same property name still end up sharing
// the resulting child shape (§8 item 7's sharing invariant, which would
// otherwise only hold for classes with a common ancestor). It is a real,
// registered shape (not a synthetic one outside the shapes vector), so its
// ID round-trips through Lookup like any other.
func (r *ShapeRegistry) EmptyInstanceRoot() (*Shape, error) {
	r.mu.RLock()
	root := r.emptyInstanceRoot
	r.mu.RUnlock()
	if root != nil {
		return root, nil
	}

	s, err := r.register(nil, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.emptyInstanceRoot == nil {
		r.emptyInstanceRoot = s
	}
	root = r.emptyInstanceRoot
	r.mu.Unlock()
	return root, nil
}

// register appends a newly derived shape to the registry. It is the only
// mutation path for the shapes slice; transitions are cached separately on
// the parent shape so repeated class definitions don't re-walk here.
func (r *ShapeRegistry) register(parent *Shape, fields []Field) (*Shape, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ShapeID(len(r.shapes)) > maxShapeID {
		// Open question resolved (DESIGN.md): give this a graceful error
		// path via a plain Go error instead of overrunning the vector.
		return nil, ErrShapeRegistryFull
	}
	s := &Shape{
		ID:     ShapeID(len(r.shapes)),
		Parent: parent,
		Fields: fields,
	}
	r.shapes = append(r.shapes, s)
	return s, nil
}

// Transition adds (sym, flags) to shape, returning the resulting child
// shape. This is the entry point classes/instances use when a new field is
// declared or assigned for the first time (makeclass, setattrsym on an
// unknown key).
func (r *ShapeRegistry) Transition(s *Shape, sym Value, flags FieldFlag) (*Shape, error) {
	return s.transitionTo(r, sym, flags)
}

// shapeRegistryError is a sentinel distinct from value.Value errors; it
// surfaces at the Go-API boundary (module loading, class definition),
// which is why it is a plain error rather than an ErrorKind (§7.2).
type shapeRegistryError string

func (e shapeRegistryError) Error() string { return string(e) }

// ErrShapeRegistryFull is returned when the 2^22-entry shape registry would
// overflow.
const ErrShapeRegistryFull = shapeRegistryError("value: shape registry exhausted (2^22 entries)")

// IsDataShaped reports whether objects of shape id hold count raw bytes
// (huge strings/byte vectors) rather than count Value-typed fields (§3.2:
// "data-shaped objects... have count bytes of opaque data"). Every other
// built-in and every user class shape is tuple/instance-shaped.
func IsDataShaped(id ShapeID) bool {
	return id == ShapeHugeString || id == ShapeHugeBytes
}

// IsOpaqueField reports whether field on an object of the given built-in
// shape holds a raw, non-tagged identifier (a scheduler FiberID or a
// SharedFunctionInfo pointer) rather than a Value the collector should
// ever inspect or evacuate through. Two fields in the whole built-in set
// need this: Fiber's owner and Function's shared-info pointer (spec §3.4
// describes both as "a raw pointer", deliberately outside the tagged
// value scheme). Without this check the collector's generic field scan
// could misread raw bits that happen to decode as a pointer tag and
// evacuate through a garbage address.
func IsOpaqueField(shapeID ShapeID, field int) bool {
	switch shapeID {
	case ShapeFiber:
		return field == FiberFieldOwner
	case ShapeFunction:
		return field == FunctionFieldSharedInfo
	default:
		return false
	}
}
