package main

import (
	"testing"

	"github.com/charly-lang/charly/internal/heap"
	"github.com/charly-lang/charly/internal/interp"
	"github.com/charly-lang/charly/internal/value"
)

func newTestRuntime(t *testing.T) *interp.Runtime {
	t.Helper()
	rt, err := interp.New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

func TestSplitNetworkAddr(t *testing.T) {
	cases := []struct {
		in      string
		network string
		addr    string
		ok      bool
	}{
		{"unix:/tmp/charly.sock", "unix", "/tmp/charly.sock", true},
		{"tcp:127.0.0.1:4242", "tcp", "127.0.0.1:4242", true},
		{"garbage", "", "", false},
	}
	for _, c := range cases {
		network, addr, ok := splitNetworkAddr(c.in)
		if network != c.network || addr != c.addr || ok != c.ok {
			t.Errorf("splitNetworkAddr(%q) = %q, %q, %v; want %q, %q, %v", c.in, network, addr, ok, c.network, c.addr, c.ok)
		}
	}
}

func TestExitCodeForResult(t *testing.T) {
	if got := exitCodeForResult(value.NewInt(7)); got != 7 {
		t.Errorf("exitCodeForResult(7) = %d, want 7", got)
	}
	if got := exitCodeForResult(value.Null); got != 0 {
		t.Errorf("exitCodeForResult(null) = %d, want 0", got)
	}
	if got := exitCodeForResult(value.NewBool(true)); got != 0 {
		t.Errorf("exitCodeForResult(true) = %d, want 0", got)
	}
}

func TestBuildArgvEmpty(t *testing.T) {
	rt := newTestRuntime(t)
	tab := heap.NewTAB(rt.Heap)

	v, err := buildArgv(rt, tab, nil)
	if err != nil {
		t.Fatalf("buildArgv: %v", err)
	}
	tup := value.Tuple{Object: value.ObjectOf(rt.Heap, v)}
	if tup.Len() != 0 {
		t.Errorf("ARGV length = %d, want 0", tup.Len())
	}
}

func TestBuildArgvRoundTrips(t *testing.T) {
	rt := newTestRuntime(t)
	tab := heap.NewTAB(rt.Heap)

	args := []string{"one", "two", "a string long enough to not fit inline as a small string"}
	v, err := buildArgv(rt, tab, args)
	if err != nil {
		t.Fatalf("buildArgv: %v", err)
	}
	tup := value.Tuple{Object: value.ObjectOf(rt.Heap, v)}
	if tup.Len() != int64(len(args)) {
		t.Fatalf("ARGV length = %d, want %d", tup.Len(), len(args))
	}
	for i, want := range args {
		got := describeValue(rt, tup.Get(int64(i)))
		if got == "<value>" {
			t.Errorf("ARGV[%d] did not resolve to a displayable string for %q", i, want)
		}
	}
}

func TestNewResultFutureStartsPending(t *testing.T) {
	rt := newTestRuntime(t)
	v := newResultFuture(rt)
	f := value.Future{Object: value.ObjectOf(rt.Heap, v)}
	if f.State() != value.FuturePending {
		t.Errorf("new result future state = %v, want FuturePending", f.State())
	}
}

func TestIsIdentRune(t *testing.T) {
	for _, r := range []rune{'a', 'Z', '_', '0'} {
		if !isIdentRune(r) {
			t.Errorf("isIdentRune(%q) = false, want true", r)
		}
	}
	for _, r := range []rune{' ', '.', '(', '-'} {
		if isIdentRune(r) {
			t.Errorf("isIdentRune(%q) = true, want false", r)
		}
	}
}

func TestGlobalNameCompleter(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Globals.Declare(rt.Symbols.Intern("foo_bar"), value.Null, true)
	rt.Globals.Declare(rt.Symbols.Intern("foo_baz"), value.Null, true)
	rt.Globals.Declare(rt.Symbols.Intern("other"), value.Null, true)

	c := globalNameCompleter{rt: rt}
	line := []rune("foo_")
	completions, length := c.Do(line, len(line))
	if length != len("foo_") {
		t.Errorf("completion prefix length = %d, want %d", length, len("foo_"))
	}
	if len(completions) != 2 {
		t.Fatalf("got %d completions, want 2: %v", len(completions), completions)
	}
}

func TestWarmHeapCommitsThenReleasesRegions(t *testing.T) {
	rt := newTestRuntime(t)
	warmHeap(rt, 3)

	regions := rt.Heap.AllRegions()
	if len(regions) < 3 {
		t.Fatalf("AllRegions() returned %d regions, want at least 3 committed by warmHeap", len(regions))
	}
	for _, r := range regions {
		if r.Type() != heap.Unused {
			t.Errorf("region at %#x has type %v after warmHeap, want Unused (released back to the free list)", r.Base(), r.Type())
		}
	}
}
