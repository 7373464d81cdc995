package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/charly-lang/charly/internal/debugapi"
	"github.com/charly-lang/charly/internal/interp"
)

// printHeapStats prints a per-shape object histogram in the same
// tabwriter shape as cmd/viewcore/main.go's "histogram" command (count,
// bytes, type), sorted by total bytes descending, plus the per-generation
// region counts (spec's supplemented "histogram / breakdown reporting"
// feature). Reuses internal/debugapi.Server's HeapStats in-process rather
// than re-walking the heap itself, the way Dial'd-RPC and local reporting
// share the one implementation.
func printHeapStats(w io.Writer, rt *interp.Runtime) {
	resp := &debugapi.HeapStatsResponse{}
	if err := debugapi.NewServer(rt).HeapStats(&debugapi.HeapStatsRequest{}, resp); err != nil {
		fmt.Fprintf(w, "charly: --heap-stats: %v\n", err)
		return
	}

	sort.Slice(resp.Histogram, func(i, j int) bool { return resp.Histogram[i].Bytes > resp.Histogram[j].Bytes })

	t := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "count\tbytes\t type\n")
	for _, e := range resp.Histogram {
		fmt.Fprintf(t, "%d\t%d\t %s\n", e.Count, e.Bytes, e.Shape)
	}
	t.Flush()
	fmt.Fprintf(w, "regions: eden=%d intermediate=%d old=%d\n", resp.EdenRegions, resp.MidRegions, resp.OldRegions)
}
