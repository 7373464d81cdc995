package module

import (
	"encoding/binary"

	"github.com/charly-lang/charly/internal/value"
)

// Function flag bits packed into the single flags byte of a serialized
// SharedFunctionInfo record (spec §6.1's IR info fields).
const (
	flagSpreadArgument = 1 << iota
	flagArrowFunction
	flagIsConstructor
	flagPrivateFunction
)

// parseFunctionTable reads fnCount variable-length SharedFunctionInfo
// records starting at byte offset fnOff, each self-describing its
// exception table, source map, and per-function string table lengths so
// records can be packed back-to-back without a separate offset index
// (mirroring the symbol table's own length-prefixed encoding).
func parseFunctionTable(filename string, raw []byte, fnOff, fnCount uint32, symbols []string) ([]*value.SharedFunctionInfo, error) {
	cursor := uint64(fnOff)
	out := make([]*value.SharedFunctionInfo, 0, fnCount)

	readU32 := func(what string) (uint32, error) {
		if cursor+4 > uint64(len(raw)) {
			return 0, errf(filename, "%s out of bounds at offset %d", what, cursor)
		}
		v := binary.LittleEndian.Uint32(raw[cursor : cursor+4])
		cursor += 4
		return v, nil
	}

	for i := uint32(0); i < fnCount; i++ {
		nameIdx, err := readU32("function name index")
		if err != nil {
			return nil, err
		}
		if int(nameIdx) >= len(symbols) {
			return nil, errf(filename, "function %d: name index %d out of range", i, nameIdx)
		}
		name := symbols[nameIdx]

		stackSize, err := readU32("stacksize")
		if err != nil {
			return nil, err
		}
		localVars, err := readU32("local_variables")
		if err != nil {
			return nil, err
		}
		heapVars, err := readU32("heap_variables")
		if err != nil {
			return nil, err
		}
		argcAndMin, err := readU32("argc/minargc")
		if err != nil {
			return nil, err
		}
		flags, err := readU32("flags")
		if err != nil {
			return nil, err
		}
		bytecodeBase, err := readU32("bytecode_base_ptr")
		if err != nil {
			return nil, err
		}
		endOffset, err := readU32("end_ptr")
		if err != nil {
			return nil, err
		}

		si := &value.SharedFunctionInfo{
			Name:            name,
			NameSymbol:      value.NewSymbol(name),
			StackSize:       int(stackSize),
			LocalVariables:  int(localVars),
			HeapVariables:   int(heapVars),
			Argc:            int(argcAndMin >> 16),
			MinArgc:         int(argcAndMin & 0xFFFF),
			SpreadArgument:  flags&flagSpreadArgument != 0,
			ArrowFunction:   flags&flagArrowFunction != 0,
			IsConstructor:   flags&flagIsConstructor != 0,
			PrivateFunction: flags&flagPrivateFunction != 0,
			BytecodeBase:    int(bytecodeBase),
			EndOffset:       int(endOffset),
		}

		excCount, err := readU32("exception table count")
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < excCount; j++ {
			begin, err := readU32("exception table begin")
			if err != nil {
				return nil, err
			}
			end, err := readU32("exception table end")
			if err != nil {
				return nil, err
			}
			handler, err := readU32("exception table handler")
			if err != nil {
				return nil, err
			}
			si.ExceptionTable = append(si.ExceptionTable, value.ExceptionTableEntry{
				Begin: int(begin), End: int(end), Handler: int(handler),
			})
		}

		mapCount, err := readU32("source map count")
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < mapCount; j++ {
			offset, err := readU32("source map offset")
			if err != nil {
				return nil, err
			}
			row, err := readU32("source map row")
			if err != nil {
				return nil, err
			}
			col, err := readU32("source map column")
			if err != nil {
				return nil, err
			}
			si.SourceMap = append(si.SourceMap, value.SourceMapEntry{
				Offset: int(offset), Row: int(row), Column: int(col),
			})
		}

		strCount, err := readU32("string table count")
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < strCount; j++ {
			n, err := readU32("string table entry length")
			if err != nil {
				return nil, err
			}
			if cursor+uint64(n) > uint64(len(raw)) {
				return nil, errf(filename, "function %d: string table entry %d out of bounds", i, j)
			}
			si.Strings = append(si.Strings, string(raw[cursor:cursor+uint64(n)]))
			cursor += uint64(n)
		}

		icCount, err := readU32("inline cache count")
		if err != nil {
			return nil, err
		}
		si.InlineCache = make([]value.InlineCacheSlot, icCount)

		out = append(out, si)
	}

	return out, nil
}
