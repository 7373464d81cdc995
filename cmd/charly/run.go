package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charly-lang/charly/internal/debugapi"
	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/interp"
	"github.com/charly-lang/charly/internal/module"
	"github.com/charly-lang/charly/internal/value"
)

// preparedRuntime is everything both the file-running path and the REPL
// path need before they diverge on where their entry module's bytes come
// from: a started Runtime with builtins and boot.ch already registered.
type preparedRuntime struct {
	rt  *interp.Runtime
	tab *heap.TAB
}

// prepareRuntime builds a Runtime per cfg (processor count, heap warming,
// --validate_heap, --debug-listen) and registers the builtin table and
// boot.ch, the common prefix of both Main's file-running path and runREPL.
func prepareRuntime(cfg *Config) (*preparedRuntime, func(), error) {
	numProcs := cfg.MaxProcs
	if numProcs <= 0 {
		numProcs = runtime.GOMAXPROCS(0)
	}
	rt, err := interp.New(numProcs)
	if err != nil {
		return nil, nil, err
	}
	warmHeap(rt, cfg.InitialHeapRegions)
	rt.ValidateHeap = cfg.ValidateHeap
	rt.Start()
	cleanup := func() { rt.Stop() }

	if cfg.DebugListen != "" {
		l, err := listenDebugAPI(rt, cfg.DebugListen)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("--debug-listen: %w", err)
		}
		prev := cleanup
		cleanup = func() { l.Close(); prev() }
	}

	tab := heap.NewTAB(rt.Heap)
	if err := rt.RegisterBuiltins(tab); err != nil {
		cleanup()
		return nil, nil, err
	}
	loadBoot(rt, tab)

	return &preparedRuntime{rt: rt, tab: tab}, cleanup, nil
}

// Main loads and, unless --skipexec, runs cfg.Filename and returns the
// process exit code (spec §6.3: "0 on success; 1 on unhandled exception in
// the main fiber; arbitrary code from exit(n)"). With no filename it
// starts the interactive REPL instead.
func Main(cfg *Config) int {
	if cfg.Filename == "" {
		return runREPL(cfg)
	}

	prepared, cleanup, err := prepareRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	defer cleanup()
	rt, tab := prepared.rt, prepared.tab

	raw, err := os.ReadFile(cfg.Filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	bundle, err := module.Parse(cfg.Filename, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}

	if cfg.IR || cfg.AST {
		fmt.Fprintln(os.Stderr, "charly: --ir/--ast have no effect: this VM only ever sees compiled bytecode, never an AST or IR")
	}

	mod, err := rt.RegisterModule(tab, bundle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}

	if cfg.Asm {
		// RegisterModule stamps si.Code onto every SharedFunctionInfo in
		// place, so the disassembler only needs the registered bundle.
		disassembleBundle(os.Stdout, bundle)
	}

	argv, err := buildArgv(rt, tab, cfg.UserArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	rt.Globals.Declare(rt.Symbols.Intern("ARGV"), argv, true)

	if cfg.SkipExec {
		return 0
	}

	code, err := runMain(rt, mod)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}

	if cfg.HeapStats {
		printHeapStats(os.Stdout, rt)
	}
	return code
}

// warmHeap eagerly commits n eden regions before any allocation happens, so
// a workload's first allocations don't pay the first-touch mmap cost
// (§6.3 "--initial_heap_regions"). heap.New() defers all region commits
// until first Acquire; this just calls Acquire early and releases the
// regions back to the heap's free list for the TAB/processors to claim.
func warmHeap(rt *interp.Runtime, n int) {
	var warmed []*heap.Region
	for i := 0; i < n; i++ {
		r, err := rt.Heap.Acquire(heap.Eden)
		if err != nil {
			log.Printf("charly: warming heap region %d/%d: %v", i+1, n, err)
			break
		}
		warmed = append(warmed, r)
	}
	for _, r := range warmed {
		rt.Heap.Release(r)
	}
}

// buildArgv allocates a Tuple of the user's trailing "-- args…" as Charly
// strings, the same allocate-then-stamp-header sequence
// internal/module.RegisterModule uses for every heap object it builds
// outside of any running fiber.
func buildArgv(rt *interp.Runtime, tab *heap.TAB, args []string) (value.Value, error) {
	addr, err := tab.Allocate(value.Size(uint16(len(args)), false))
	if err != nil {
		return value.Value{}, fmt.Errorf("allocating ARGV: %w", err)
	}
	hdr := rt.Heap.Header(addr)
	hdr.SetShapeID(value.ShapeTuple)
	hdr.SetFieldCount(uint16(len(args)))
	hdr.SetFlag(value.FlagYoungGeneration)
	obj := value.Object{Mem: rt.Heap, Addr: addr}
	for i, a := range args {
		if small, ok := value.NewSmallString(a); ok {
			obj.SetField(i, small)
			continue
		}
		strAddr, err := rt.Heap.NewHugeString(tab, a)
		if err != nil {
			return value.Value{}, fmt.Errorf("allocating ARGV[%d]: %w", i, err)
		}
		obj.SetField(i, value.NewPointer(strAddr, true))
	}
	return obj.ToValue(), nil
}

// runMain spawns cfg's "main" function on a fresh fiber and blocks until
// its Future settles, returning the process exit code the result implies
// (spec §7.1 "top-level handler").
func runMain(rt *interp.Runtime, mod *module.Module) (int, error) {
	entry, ok := mod.FunctionByName("main")
	if !ok {
		return 0, fmt.Errorf("module %s has no top-level \"main\" function", mod.Bundle.Filename)
	}

	fut := newResultFuture(rt)
	th := interp.NewThread(rt, entry.Shared(), value.Null, value.Null, nil, fut)
	rt.Scheduler.Spawn(th, 0)

	f := value.Future{Object: value.ObjectOf(rt.Heap, fut)}
	for f.State() == value.FuturePending {
		time.Sleep(time.Millisecond)
	}
	if f.State() == value.FutureResolved {
		return exitCodeForResult(f.Result()), nil
	}
	printUnhandledException(os.Stderr, rt, f.Result())
	return 1, nil
}

// exitCodeForResult maps main's returned value to a process exit code: an
// int return is the code verbatim (the "exit(n)" builtin is the common
// path in practice, this covers a plain `return n` too), anything else is
// success (spec §6.3).
func exitCodeForResult(v value.Value) int {
	if v.IsInt() {
		return int(v.Int())
	}
	return 0
}

// newResultFuture allocates a standalone pending Future to drive the main
// fiber the same way internal/module wires a Function: raw TAB allocate,
// stamp header, zero fields (internal/interp/interp_test.go's
// newTestFuture does the identical sequence for exactly this reason).
func newResultFuture(rt *interp.Runtime) value.Value {
	tab := heap.NewTAB(rt.Heap)
	addr, err := tab.Allocate(value.Size(value.FutureFieldCount, false))
	if err != nil {
		panic(fmt.Sprintf("charly: allocating main's result future: %v", err))
	}
	hdr := rt.Heap.Header(addr)
	hdr.SetShapeID(value.ShapeFuture)
	hdr.SetFieldCount(value.FutureFieldCount)
	hdr.SetFlag(value.FlagYoungGeneration)
	obj := value.Object{Mem: rt.Heap, Addr: addr}
	obj.SetField(0, value.NewInt(int64(value.FuturePending)))
	obj.SetField(1, value.Null)
	return obj.ToValue()
}

// printUnhandledException prints an exception's cause chain, depth-limited
// per spec §7.1, the way program/server's error reporting never exceeds a
// handful of wrapped layers either.
const maxCauseChainDepth = 32

func printUnhandledException(w *os.File, rt *interp.Runtime, excVal value.Value) {
	fmt.Fprintln(w, "Uncaught exception:")
	cur := excVal
	for depth := 0; depth < maxCauseChainDepth && cur.IsPointer(); depth++ {
		exc := value.Exception{Object: value.ObjectOf(rt.Heap, cur)}
		fmt.Fprintf(w, "  %s\n", describeValue(rt, exc.Message()))
		if trace := exc.StackTrace(); trace.IsPointer() {
			t := value.Tuple{Object: value.ObjectOf(rt.Heap, trace)}
			for i := int64(0); i < t.Len(); i++ {
				fmt.Fprintf(w, "    at %s\n", describeValue(rt, t.Get(i)))
			}
		}
		cur = exc.Cause()
		if cur.IsPointer() {
			fmt.Fprintln(w, "  caused by:")
		}
	}
}

// describeValue is a minimal, cmd/charly-local echo of internal/interp's
// unexported displayValue: small strings/symbols as text, everything else
// a placeholder. Top-level reporting only ever sees messages and stack
// symbols, so it doesn't need the full rendering internal/interp keeps
// private to its package.
func describeValue(rt *interp.Runtime, v value.Value) string {
	switch {
	case v.IsSmallString():
		return string(v.View())
	case v.IsSymbol():
		if s, ok := rt.Symbols.Lookup(v); ok {
			return s
		}
	case v.IsPointer():
		return "<string>"
	}
	return "<value>"
}

// loadBoot best-effort loads <CHARLYVMDIR>/src/charly/stdlib/boot.ch, the
// prelude module every user module implicitly depends on (spec §6.4). This
// repo ships no stdlib, so a missing CHARLYVMDIR or boot.ch is logged and
// skipped rather than treated as fatal.
func loadBoot(rt *interp.Runtime, tab *heap.TAB) {
	root := os.Getenv("CHARLYVMDIR")
	if root == "" {
		return
	}
	path := filepath.Join(root, "src", "charly", "stdlib", "boot.ch")
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("charly: boot.ch not loaded: %v", err)
		return
	}
	bundle, err := module.Parse(path, raw)
	if err != nil {
		log.Printf("charly: parsing boot.ch: %v", err)
		return
	}
	if _, err := rt.RegisterModule(tab, bundle); err != nil {
		log.Printf("charly: registering boot.ch: %v", err)
	}
}

// listenDebugAPI wires --debug-listen's "network:addr" pair (e.g.
// "unix:/tmp/charly.sock" or "tcp:127.0.0.1:4242") to internal/debugapi.
func listenDebugAPI(rt *interp.Runtime, spec string) (net.Listener, error) {
	network, addr, ok := splitNetworkAddr(spec)
	if !ok {
		return nil, fmt.Errorf("expected network:addr (e.g. unix:/tmp/charly.sock), got %q", spec)
	}
	return debugapi.Listen(rt, network, addr)
}

func splitNetworkAddr(spec string) (network, addr string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:], true
		}
	}
	return "", "", false
}
