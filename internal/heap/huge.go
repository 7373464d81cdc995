package heap

import "github.com/charly-lang/charly/internal/value"

// HugeBuffer is the external-heap backing for strings/byte vectors too
// large to fit in a region (§4.1: "huge variants of strings/bytes escape
// to malloc and are referenced via a small wrapper object whose buffer
// pointer the GC tracks via the region's external-pointer list"). In Go
// terms the "malloc" is just a slice on the Go heap; ownership is tracked
// through Region.external exactly like any other external buffer. The
// collector moves the entry along with an evacuated wrapper; a source
// region's remaining entries are dropped when the region is reused, and
// Go's own GC then reclaims the buffers.
type HugeBuffer struct {
	Data []byte
}

// NewHugeString allocates a wrapper object (shape ShapeHugeString) whose
// single field count is 0 (all data lives off-heap) and installs s as its
// external buffer.
func (h *Heap) NewHugeString(tab *TAB, s string) (uintptr, error) {
	return h.newHugeWrapper(tab, []byte(s), value.ShapeHugeString)
}

// NewHugeBytes is the byte-vector analogue of NewHugeString.
func (h *Heap) NewHugeBytes(tab *TAB, b []byte) (uintptr, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	return h.newHugeWrapper(tab, cp, value.ShapeHugeBytes)
}

func (h *Heap) newHugeWrapper(tab *TAB, data []byte, shapeID value.ShapeID) (uintptr, error) {
	addr, err := tab.Allocate(int64(value.HeaderSize))
	if err != nil {
		return 0, err
	}
	hdr := h.Header(addr)
	hdr.SetShapeID(shapeID)
	hdr.SetFieldCount(0)
	hdr.SetFlag(value.FlagYoungGeneration)
	h.SetExternal(addr, &HugeBuffer{Data: data})
	return addr, nil
}
