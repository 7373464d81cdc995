package main

import (
	"fmt"
	"io"

	"github.com/charly-lang/charly/internal/interp"
	"github.com/charly-lang/charly/internal/module"
)

// disassembleBundle prints every function's bytecode as
// "offset  opcode  a b c" lines, the --asm debug dump (spec §6.3). There is
// no AST/IR here to dump alongside it (this VM never sees source), so
// --asm is the only one of the three dump flags with anything to show.
func disassembleBundle(w io.Writer, b *module.Bundle) {
	for _, si := range b.FunctionTable {
		fmt.Fprintf(w, "function %s (stacksize=%d)\n", si.Name, si.StackSize)
		for ip := si.BytecodeBase; ip < si.EndOffset; ip += 4 {
			word := si.Word(ip)
			inst := interp.DecodeInstruction(word)
			fmt.Fprintf(w, "  %6d  %-14s %d %d %d\n", ip, inst.Op, inst.A, inst.B, inst.C)
		}
	}
}
