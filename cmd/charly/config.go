package main

// Config holds every flag cobra parses, passed down into the loader/runner
// instead of threading a dozen separate arguments (spec §6.3).
type Config struct {
	Filename string
	UserArgs []string

	MaxProcs           int
	InitialHeapRegions int
	SkipExec           bool
	ValidateHeap       bool
	NoASTOpt           bool
	IR                 bool
	Asm                bool
	AST                bool
	HeapStats          bool
	DebugListen        string
}
