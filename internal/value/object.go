package value

// Memory abstracts the byte-addressed heap so that value's typed object
// views (Class, Function, Fiber, Future, Tuple, List, Exception) don't need
// to import internal/heap directly — avoiding an import cycle, since the
// heap in turn needs to know how to size and trace these same shapes.
// internal/heap.Heap implements this interface over its mmap'd regions.
type Memory interface {
	// Header returns the object header view at addr.
	Header(addr uintptr) Header
	// Field reads/writes the i'th Value-typed field of a tuple- or
	// instance-shaped object at addr.
	Field(addr uintptr, i int) Value
	SetField(addr uintptr, i int, v Value)
	// Byte reads/writes the i'th raw byte of a data-shaped object at addr
	// (strings, byte vectors).
	Byte(addr uintptr, i int) byte
	SetByte(addr uintptr, i int, b byte)
	// External fetches/installs the external-heap buffer owned by the
	// object at addr (huge-string/bytes data, a List's backing array, a
	// Future's wait queue). The owning region's external-pointer list
	// (§4.1, §4.2) is what the collector consults to free these when the
	// owning object is proven unreachable.
	External(addr uintptr) any
	SetExternal(addr uintptr, p any)
}

// Object is a handle onto a heap-allocated value: the (Memory, address)
// pair needed to read or write its fields. It is the common base every
// typed view (Class, Function, ...) embeds.
type Object struct {
	Mem  Memory
	Addr uintptr
}

// Header returns this object's header.
func (o Object) Header() Header { return o.Mem.Header(o.Addr) }

// Field reads field i as a Value.
func (o Object) Field(i int) Value { return o.Mem.Field(o.Addr, i) }

// SetField writes field i.
func (o Object) SetField(i int, v Value) { o.Mem.SetField(o.Addr, i, v) }

// ToValue wraps this object's address as a pointer Value, tagged by its
// header's young-generation flag.
func (o Object) ToValue() Value {
	young := o.Header().HasFlag(FlagYoungGeneration)
	return NewPointer(o.Addr, young)
}

// ObjectOf unwraps a pointer Value back into an Object handle.
func ObjectOf(mem Memory, v Value) Object {
	return Object{Mem: mem, Addr: v.Address()}
}
