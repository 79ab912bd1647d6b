package bcdisasm

import (
	"fmt"

	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
)

// Decode walks a code object's raw wordcode (co_code) and produces its
// full, un-normalized instruction stream: every CACHE/NOP entry is still
// present here, exactly as it appears in the compiled artifact, while
// EXTENDED_ARG entries are folded into the following instruction's
// argument and not emitted on their own. Normalize strips the rest of the
// ignored opcodes and reduces operands to tokens.
//
// Each instruction occupies two bytes (opcode, arg), CPython's wordcode
// layout since 3.6. EXTENDED_ARG instructions widen the following
// instruction's argument by shifting in 8 more bits; a run of them
// accumulates left-to-right the same way CPython's own eval loop does.
func Decode(co *bcloader.CodeObject, table *bcopcode.Table) ([]Instruction, error) {
	code := co.Code
	if len(code)%2 != 0 {
		return nil, fmt.Errorf("bcdisasm: code length %d is not a multiple of 2", len(code))
	}

	var out []Instruction
	var extended uint32

	for i := 0; i < len(code); i += 2 {
		opByte := code[i]
		argByte := uint32(code[i+1])

		opname, ok := table.OpName(opByte)
		if !ok {
			return nil, fmt.Errorf("bcdisasm: unknown opcode byte %d at offset %d", opByte, i)
		}

		arg := extended<<8 | argByte
		if opname == bcopcode.ExtendedArgName {
			extended = arg
			continue
		}
		extended = 0

		ins := Instruction{Offset: uint32(i), OpName: opname, Arg: arg}
		resolveInstruction(&ins, co, table)
		out = append(out, ins)
	}
	return out, nil
}

// resolveInstruction fills in an instruction's ArgVal and ArgRepr
// according to its opcode class, mirroring the argval/argrepr shape
// xdis' Bytecode iterator presents.
func resolveInstruction(ins *Instruction, co *bcloader.CodeObject, table *bcopcode.Table) {
	opname := ins.OpName
	switch {
	case bcopcode.IsConst(opname):
		if int(ins.Arg) < len(co.Consts) {
			ins.ArgVal = resolveConst(co.Consts[ins.Arg])
		}
		ins.ArgRepr = constRepr(ins.ArgVal)
	case bcopcode.IsName(opname):
		name := indexed(nameList(opname, co), ins.Arg)
		ins.ArgVal = ArgVal{Kind: ArgStr, Str: name}
		ins.ArgRepr = name
	case bcopcode.IsCall(opname):
		ins.ArgVal = ArgVal{Kind: ArgInt, Int: int64(ins.Arg)}
		ins.ArgRepr = fmt.Sprintf("%d", ins.Arg)
	case opname == "COMPARE_OP":
		ins.ArgRepr = compareRepr(ins.Arg)
	case opname == "IS_OP":
		ins.ArgRepr = isOpRepr(ins.Arg)
	case opname == "CONTAINS_OP":
		ins.ArgRepr = containsOpRepr(ins.Arg)
	case opname == "BINARY_OP":
		ins.ArgRepr = binaryRepr(ins.Arg)
	case bcopcode.IsJump(opname):
		target := ins.Arg * 2
		ins.ArgVal = ArgVal{Kind: ArgInt, Int: int64(target)}
		ins.ArgRepr = fmt.Sprintf("%d", target)
	default:
		ins.ArgRepr = ""
	}
}

func constRepr(v ArgVal) string {
	switch v.Kind {
	case ArgNone:
		return "None"
	case ArgStr:
		return v.Str
	default:
		return ""
	}
}
