package debugapi

import (
	"net"
	"net/rpc"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/interp"
	"github.com/charly-lang/charly/internal/value"
)

// Server exposes a running Runtime over net/rpc, the way the teacher's
// program/server.Server exposes a ptraced process: one exported method per
// request/response pair in this package, registered and served over a
// listener by Listen.
type Server struct {
	rt *interp.Runtime
}

// NewServer wraps rt for RPC access.
func NewServer(rt *interp.Runtime) *Server {
	return &Server{rt: rt}
}

// CaptureStackTrace implements the spec's "capture stack trace" primitive
// (§4.5 item 4) over every currently live fiber.
func (s *Server) CaptureStackTrace(req *CaptureStackTraceRequest, resp *CaptureStackTraceResponse) error {
	for _, sf := range s.rt.Scheduler.Fibers() {
		th, ok := sf.Body.(*interp.Thread)
		if !ok {
			continue
		}
		frames := th.CaptureStackTrace()
		stackFrames := make([]StackFrame, len(frames))
		for i, f := range frames {
			stackFrames[i] = StackFrame{Function: f.Function, IP: f.IP}
		}
		resp.Fibers = append(resp.Fibers, FiberTrace{
			FiberID: uint64(sf.ID),
			Frames:  stackFrames,
		})
	}
	return nil
}

// HeapStats implements the supplemented "histogram / breakdown reporting"
// feature: a linear walk of every committed region's live bytes, grouped
// by shape (grounded on internal/heap/region.go's objectsInSpan walk and
// on cmd/viewcore's per-type histogram command).
func (s *Server) HeapStats(req *HeapStatsRequest, resp *HeapStatsResponse) error {
	counts := make(map[value.ShapeID]int64)
	bytes := make(map[value.ShapeID]int64)

	for _, r := range s.rt.Heap.AllRegions() {
		switch r.Type() {
		case heap.Eden:
			resp.EdenRegions++
		case heap.Intermediate:
			resp.MidRegions++
		case heap.Old:
			resp.OldRegions++
		}

		base := r.Base()
		limit := base + uintptr(r.Used())
		for addr := base; addr < limit; {
			hdr := s.rt.Heap.Header(addr)
			shapeID := hdr.ShapeID()
			size := value.Size(hdr.FieldCount(), value.IsDataShaped(shapeID))
			counts[shapeID]++
			bytes[shapeID] += size
			resp.TotalBytes += size
			addr += uintptr(size)
		}
	}

	for id, n := range counts {
		resp.Histogram = append(resp.Histogram, HistogramEntry{
			Shape: id.String(),
			Count: n,
			Bytes: bytes[id],
		})
	}
	return nil
}

// Listen registers rt's Server and binds network/addr (e.g. "unix",
// "/tmp/charly-debug.sock", or "tcp", "127.0.0.1:0"), returning the bound
// listener so the caller can read its actual address (useful for ":0").
// It starts accepting connections in the background immediately; close
// the listener to shut the service down.
func Listen(rt *interp.Runtime, network, addr string) (net.Listener, error) {
	srv := rpc.NewServer()
	if err := srv.Register(NewServer(rt)); err != nil {
		return nil, err
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	go serve(srv, l)
	return l, nil
}

// serve accepts connections until l is closed, handing each its own
// goroutine — the same rpc.Register + rpc.ServeConn shape as the teacher's
// cmd/ogleproxy, generalised from one hardcoded stdin/stdout pipe to a real
// listener since debugapi serves more than one client across a VM's
// lifetime.
func serve(srv *rpc.Server, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go srv.ServeConn(conn)
	}
}
