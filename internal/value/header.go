package value

import (
	"sync/atomic"
	"unsafe"
)

// HeaderSize is the fixed, 16-byte-aligned object header preceding every
// heap object's payload (spec §3.2).
const HeaderSize = 32

// HeaderFlag bits live in the header's flag byte.
type HeaderFlag uint8

const (
	FlagReachable HeaderFlag = 1 << iota
	FlagHasCachedHashcode
	FlagYoungGeneration
)

// Header is a typed view over the 32 raw bytes that precede every heap
// object's payload. It never copies the backing storage: all accessors
// read/write directly through the pointer, and the spinlock, survivor
// count, forward slot, and reachability flag are manipulated with
// sync/atomic so GC and mutator fibers can race safely on them (§5
// "Ordering": "the spinlock, survivor count, forward slot, and
// reachability flag are all word-sized atomics").
type Header struct {
	words *[4]uint64
}

// word layout:
//   words[0]: bits 0-21 shape id, 22-24 survivor count, 25-40 field count,
//             41-48 spinlock byte, 49-56 flag byte
//   words[1]: bits 0-31 cached hashcode, 32-63 forwarding slot
//   words[2], words[3]: reserved padding to keep the header 16-byte aligned
//   and room for future metadata without reshuffling existing fields.

const (
	shiftShapeID     = 0
	bitsShapeID      = 22
	shiftSurvivor    = 22
	bitsSurvivor     = 3
	shiftFieldCount  = 25
	bitsFieldCount   = 16
	shiftSpinlock    = 41
	bitsSpinlock     = 8
	shiftFlags       = 49
	bitsFlags        = 8
)

func mask(bits uint) uint64 { return (uint64(1) << bits) - 1 }

// NewHeader constructs a Header view over buf, which must be exactly
// HeaderSize bytes and 8-byte aligned (the allocator guarantees 16-byte
// alignment, which is stricter).
func NewHeader(buf []byte) Header {
	if len(buf) < HeaderSize {
		panic("value: header buffer too small")
	}
	return Header{words: (*[4]uint64)(unsafe.Pointer(&buf[0]))}
}

func (h Header) load0() uint64 { return atomic.LoadUint64(&h.words[0]) }

func (h Header) cas0(old, new uint64) bool {
	return atomic.CompareAndSwapUint64(&h.words[0], old, new)
}

// ShapeID returns the object's shape id.
func (h Header) ShapeID() ShapeID {
	return ShapeID(h.load0() >> shiftShapeID & mask(bitsShapeID))
}

// SetShapeID stores a new shape id (used when a shape transition widens an
// instance's layout in place is NOT supported; this is used at
// construction time only).
func (h Header) SetShapeID(id ShapeID) {
	for {
		old := h.load0()
		new := old&^(mask(bitsShapeID)<<shiftShapeID) | (uint64(id) << shiftShapeID)
		if h.cas0(old, new) {
			return
		}
	}
}

// SurvivorCount returns how many minor collections this object has
// survived. A count >= 2 promotes the object to the old generation (§4.2).
func (h Header) SurvivorCount() uint8 {
	return uint8(h.load0() >> shiftSurvivor & mask(bitsSurvivor))
}

// IncSurvivorCount atomically increments the survivor count and returns the
// new value, saturating at the 3-bit field's maximum.
func (h Header) IncSurvivorCount() uint8 {
	for {
		old := h.load0()
		cur := old >> shiftSurvivor & mask(bitsSurvivor)
		if cur == mask(bitsSurvivor) {
			return uint8(cur)
		}
		new := old&^(mask(bitsSurvivor)<<shiftSurvivor) | ((cur + 1) << shiftSurvivor)
		if h.cas0(old, new) {
			return uint8(cur + 1)
		}
	}
}

// FieldCount returns the object's field (or byte) count, depending on
// whether its shape is tuple/instance-shaped or data-shaped.
func (h Header) FieldCount() uint16 {
	return uint16(h.load0() >> shiftFieldCount & mask(bitsFieldCount))
}

// SetFieldCount stores the field count at construction time.
func (h Header) SetFieldCount(n uint16) {
	for {
		old := h.load0()
		new := old&^(mask(bitsFieldCount)<<shiftFieldCount) | (uint64(n) << shiftFieldCount)
		if h.cas0(old, new) {
			return
		}
	}
}

// TryLock attempts to acquire the header's spinlock byte, used to
// serialise non-trivial mutations of a Future's wait queue or a List's
// backing storage (§5 "Shared resources").
func (h Header) TryLock() bool {
	for {
		old := h.load0()
		if old>>shiftSpinlock&mask(bitsSpinlock) != 0 {
			return false
		}
		new := old | (1 << shiftSpinlock)
		if h.cas0(old, new) {
			return true
		}
	}
}

// Unlock releases the header's spinlock byte.
func (h Header) Unlock() {
	for {
		old := h.load0()
		new := old &^ (mask(bitsSpinlock) << shiftSpinlock)
		if h.cas0(old, new) {
			return
		}
	}
}

// Flags returns the header's flag byte.
func (h Header) Flags() HeaderFlag {
	return HeaderFlag(h.load0() >> shiftFlags & mask(bitsFlags))
}

// SetFlag atomically ORs flag into the header's flag byte.
func (h Header) SetFlag(flag HeaderFlag) {
	for {
		old := h.load0()
		new := old | (uint64(flag) << shiftFlags)
		if h.cas0(old, new) {
			return
		}
	}
}

// ClearFlag atomically clears flag from the header's flag byte.
func (h Header) ClearFlag(flag HeaderFlag) {
	for {
		old := h.load0()
		new := old &^ (uint64(flag) << shiftFlags)
		if h.cas0(old, new) {
			return
		}
	}
}

// HasFlag reports whether flag is set.
func (h Header) HasFlag(flag HeaderFlag) bool {
	return h.Flags()&flag != 0
}

// CachedHashcode returns the cached hashcode, valid only when
// FlagHasCachedHashcode is set.
func (h Header) CachedHashcode() uint32 {
	return uint32(atomic.LoadUint64(&h.words[1]))
}

// SetCachedHashcode stores a hashcode and sets FlagHasCachedHashcode.
func (h Header) SetCachedHashcode(hc uint32) {
	for {
		old := atomic.LoadUint64(&h.words[1])
		new := old&^0xFFFFFFFF | uint64(hc)
		if atomic.CompareAndSwapUint64(&h.words[1], old, new) {
			h.SetFlag(FlagHasCachedHashcode)
			return
		}
	}
}

// ForwardSlot returns the forwarding offset (in units of 16-byte object
// alignment), or 0 if the object has not been forwarded by the collector.
func (h Header) ForwardSlot() uint32 {
	return uint32(atomic.LoadUint64(&h.words[1]) >> 32)
}

// SetForwardSlot atomically publishes a forwarding offset. Used exactly
// once per collection per object, by the evacuator (internal/gc).
func (h Header) SetForwardSlot(offsetUnits uint32) {
	for {
		old := atomic.LoadUint64(&h.words[1])
		new := old&0xFFFFFFFF | uint64(offsetUnits)<<32
		if atomic.CompareAndSwapUint64(&h.words[1], old, new) {
			return
		}
	}
}

// ClearForwardSlot resets the forwarding offset to 0 ("not forwarded"),
// done once per object at the start of each collection cycle it
// participates in.
func (h Header) ClearForwardSlot() {
	for {
		old := atomic.LoadUint64(&h.words[1])
		new := old & 0xFFFFFFFF
		if atomic.CompareAndSwapUint64(&h.words[1], old, new) {
			return
		}
	}
}

// IsForwarded reports whether the collector has already evacuated this
// object (invariant §8.2: no forward pointer remains set on a reachable
// object once a collection completes).
func (h Header) IsForwarded() bool {
	return h.ForwardSlot() != 0
}

// UnitSize returns the per-field/per-byte unit size implied by shapeKind:
// value.Value (8 bytes) for tuple/instance-shaped objects, 1 byte for
// data-shaped objects (strings, byte vectors).
func UnitSize(dataShaped bool) int64 {
	if dataShaped {
		return 1
	}
	return 8
}

// Align16 rounds n up to the next multiple of 16, the allocator's mandatory
// alignment for every object payload (§4.1, invariant §8.1).
func Align16(n int64) int64 {
	return (n + 15) &^ 15
}

// Size computes an object's total heap footprint: header plus
// align16(count * unit size), matching invariant §8.1.
func Size(fieldCount uint16, dataShaped bool) int64 {
	return HeaderSize + Align16(int64(fieldCount)*UnitSize(dataShaped))
}
