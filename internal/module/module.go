// Package module implements Charly's module bundle: the in-memory form a
// compiled unit takes before register_module installs it into a running
// heap (spec §6.1, §4.5.1). The bundle buffer is opaque instruction words
// to everything except this package, the same way program/server treats a
// loaded ELF/Mach-O image as opaque bytes until its loader walks the
// section headers into typed tables.
package module

import (
	"encoding/binary"
	"fmt"

	"github.com/charly-lang/charly/internal/value"
)

// Bundle is a fully parsed module: a protected byte buffer holding the
// assembled bytecode, plus the three index structures the spec names
// (symbol table, function table, and — via each SharedFunctionInfo — the
// per-function string tables) (§6.1).
type Bundle struct {
	Filename string

	// Buffer holds the assembled code for every function in the module.
	// Once parsed it is never mutated; the interpreter treats it as a
	// read-only instruction stream (§6.1 "otherwise opaque to the core").
	Buffer []byte

	SymbolTable   []string // every distinct symbol string declared anywhere
	FunctionTable []*value.SharedFunctionInfo
}

// Instruction returns the raw 4-byte little-endian word at byte offset ip
// within the module buffer (§6.2 "Four-byte, little-endian").
func (b *Bundle) Instruction(ip int) uint32 {
	return binary.LittleEndian.Uint32(b.Buffer[ip : ip+4])
}

// errf builds a parse error, mirroring program/server's loadExecutable
// wrapping every section-parse failure with the file it came from.
func errf(filename string, format string, args ...any) error {
	return fmt.Errorf("module %s: %s", filename, fmt.Sprintf(format, args...))
}

// headerSize is the fixed prefix before the variable-length index sections:
// magic (4 bytes), version (4 bytes), symbol table offset/count,
// function table offset/count, code section offset/length — each a
// pair of u32s.
const headerSize = 4 + 4 + 6*4

const bundleMagic = 0x43484C59 // "CHLY"

// Parse decodes a serialized module bundle produced by the upstream
// compiler (§4.5's "Bytecode producer" — an external collaborator whose
// wire format this function is the sole reader of).
func Parse(filename string, raw []byte) (*Bundle, error) {
	if len(raw) < headerSize {
		return nil, errf(filename, "truncated header: %d bytes", len(raw))
	}
	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != bundleMagic {
		return nil, errf(filename, "bad magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != 1 {
		return nil, errf(filename, "unsupported bundle version %d", version)
	}

	symOff := binary.LittleEndian.Uint32(raw[8:12])
	symCount := binary.LittleEndian.Uint32(raw[12:16])
	fnOff := binary.LittleEndian.Uint32(raw[16:20])
	fnCount := binary.LittleEndian.Uint32(raw[20:24])
	codeOff := binary.LittleEndian.Uint32(raw[24:28])
	codeLen := binary.LittleEndian.Uint32(raw[28:32])

	b := &Bundle{Filename: filename}

	symTable, err := parseStringTable(filename, raw, symOff, symCount)
	if err != nil {
		return nil, err
	}
	b.SymbolTable = symTable

	if uint64(codeOff)+uint64(codeLen) > uint64(len(raw)) {
		return nil, errf(filename, "code section out of bounds")
	}
	b.Buffer = raw[codeOff : codeOff+codeLen]

	fns, err := parseFunctionTable(filename, raw, fnOff, fnCount, symTable)
	if err != nil {
		return nil, err
	}
	b.FunctionTable = fns

	return b, nil
}

func parseStringTable(filename string, raw []byte, off, count uint32) ([]string, error) {
	out := make([]string, 0, count)
	cursor := off
	for i := uint32(0); i < count; i++ {
		if uint64(cursor)+4 > uint64(len(raw)) {
			return nil, errf(filename, "string table entry %d out of bounds", i)
		}
		n := binary.LittleEndian.Uint32(raw[cursor : cursor+4])
		cursor += 4
		if uint64(cursor)+uint64(n) > uint64(len(raw)) {
			return nil, errf(filename, "string table entry %d length out of bounds", i)
		}
		out = append(out, string(raw[cursor:cursor+n]))
		cursor += n
	}
	return out, nil
}
