package value

// Tuple is a fixed-size indexed sequence of Values (spec §3.4). Its length
// is exactly the object header's field count; tuples never reallocate.
type Tuple struct{ Object }

func (t Tuple) Len() int64        { return int64(t.Header().FieldCount()) }
func (t Tuple) Get(i int64) Value { return t.Field(int(i)) }
func (t Tuple) Set(i int64, v Value) { t.SetField(int(i), v) }

// listBacking is the external, growable backing array for a List, owned by
// the List object and freed by the collector via the external-pointer list
// once the List is unreachable (§3.4, §4.2).
type listBacking struct {
	data []Value
}

const (
	listFieldLen = 0 // logical length; backing capacity lives off-heap
	ListFieldCount = 1
)

// List is a growable indexed sequence of Values (spec §3.4).
type List struct{ Object }

func (l List) backing() *listBacking {
	if b, ok := l.Mem.External(l.Addr).(*listBacking); ok && b != nil {
		return b
	}
	b := &listBacking{}
	l.Mem.SetExternal(l.Addr, b)
	return b
}

func (l List) Len() int64 { return l.Field(listFieldLen).Int() }

func (l List) Get(i int64) Value {
	b := l.backing()
	if i < 0 || i >= int64(len(b.data)) {
		return NewError(ErrorOutOfBounds)
	}
	return b.data[i]
}

// Set writes index i, honoring negative-wrap addressing the way loadattr
// does for tuples (spec §4.4).
func (l List) Set(i int64, v Value) Value {
	b := l.backing()
	if i < 0 {
		i += int64(len(b.data))
	}
	if i < 0 || i >= int64(len(b.data)) {
		return NewError(ErrorOutOfBounds)
	}
	b.data[i] = v
	return NewError(ErrorOk)
}

// Push appends v, growing the external backing array and serialising
// against concurrent mutators with the header spinlock (§5).
func (l List) Push(v Value) {
	h := l.Header()
	for !h.TryLock() {
	}
	defer h.Unlock()
	b := l.backing()
	b.data = append(b.data, v)
	l.SetField(listFieldLen, NewInt(int64(len(b.data))))
}

// Exception field offsets (spec §3.4: "message string, stack-trace tuple,
// optional cause chain").
const (
	exceptionFieldMessage = 0
	exceptionFieldStack   = 1
	exceptionFieldCause   = 2
	ExceptionFieldCount   = 3
)

// Exception is a typed view over a heap object shaped like ShapeException
// (or a user-defined subclass shape descending from it).
type Exception struct{ Object }

func (e Exception) Message() Value { return e.Field(exceptionFieldMessage) }
func (e Exception) StackTrace() Value { return e.Field(exceptionFieldStack) }
func (e Exception) Cause() Value   { return e.Field(exceptionFieldCause) }

// CauseChainLength walks the cause chain, counting this exception and each
// linked cause. Used by the top-level handler (§7.1) which prints the
// chain "limited to a fixed depth".
func (e Exception) CauseChainLength(mem Memory, limit int) int {
	n := 1
	cur := e.Cause()
	for n < limit && cur.IsPointer() {
		n++
		next := Exception{Object{Mem: mem, Addr: cur.Address()}}
		cur = next.Cause()
	}
	return n
}
