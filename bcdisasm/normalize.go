package bcdisasm

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/joelreymont/pez/bcopcode"
)

// ShortHash returns the first 12 hex digits of the SHA-1 digest of text,
// the compact fingerprint used throughout the verifier for anything too
// large to carry verbatim in a token (block signatures, large constants).
func ShortHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}

// constToken renders a constant's canonical token, matching the const:*
// family of spec.md §4.2: scalars carry their literal value, strings and
// collections carry a content hash so two constants normalize identically
// iff their repr would have matched.
func constToken(v ArgVal) string {
	switch v.Kind {
	case ArgNone:
		return "const:none"
	case ArgBool:
		return fmt.Sprintf("const:bool:%t", v.Bool)
	case ArgInt:
		return fmt.Sprintf("const:int:%d", v.Int)
	case ArgFloat:
		return fmt.Sprintf("const:float:%v", v.Float)
	case ArgComplex:
		return fmt.Sprintf("const:complex:%v", complex(v.Real, v.Imag))
	case ArgStr:
		return fmt.Sprintf("const:str:%s", ShortHash(reprString(v.Str)))
	case ArgBytes:
		return fmt.Sprintf("const:bytes:%s", ShortHash(string(v.Bytes)))
	case ArgTuple:
		return fmt.Sprintf("const:tuple:%s", ShortHash(reprElems(v.Elems)))
	case ArgList:
		return fmt.Sprintf("const:list:%s", ShortHash(reprElems(v.Elems)))
	case ArgSet:
		return fmt.Sprintf("const:set:%s", ShortHash(reprElems(v.Elems)))
	case ArgDict:
		return fmt.Sprintf("const:dict:%s", ShortHash(reprPairs(v.Pairs)))
	case ArgCode:
		return "const:code"
	default:
		return "const:other"
	}
}

func reprString(s string) string { return fmt.Sprintf("%q", s) }

func reprElems(elems []ArgVal) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = reprArgVal(e)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func reprPairs(pairs []DictPair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = reprArgVal(p.Key) + ":" + reprArgVal(p.Val)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func reprArgVal(v ArgVal) string {
	switch v.Kind {
	case ArgNone:
		return "None"
	case ArgBool:
		return fmt.Sprintf("%t", v.Bool)
	case ArgInt:
		return fmt.Sprintf("%d", v.Int)
	case ArgFloat:
		return fmt.Sprintf("%v", v.Float)
	case ArgComplex:
		return fmt.Sprintf("%v", complex(v.Real, v.Imag))
	case ArgStr:
		return reprString(v.Str)
	case ArgBytes:
		return fmt.Sprintf("b%q", string(v.Bytes))
	case ArgTuple:
		return reprElems(v.Elems)
	case ArgList:
		return "[" + strings.TrimSuffix(strings.TrimPrefix(reprElems(v.Elems), "("), ")") + "]"
	case ArgSet:
		return "{" + strings.TrimSuffix(strings.TrimPrefix(reprElems(v.Elems), "("), ")") + "}"
	case ArgDict:
		return reprPairs(v.Pairs)
	case ArgCode:
		return "<code>"
	default:
		return "<other>"
	}
}

// nameToken renders the scope:name token for a name-operand opcode.
func nameToken(opname, name string) string {
	return bcopcode.NameScope(opname) + ":" + name
}

// normArg computes the argument-level token fed into seqToken, matching
// norm_arg's per-class rules (spec.md §4.2). Opcodes outside the listed
// classes contribute no argument token at all.
func normArg(ins Instruction) string {
	switch {
	case bcopcode.IsConst(ins.OpName):
		return constToken(ins.ArgVal)
	case bcopcode.IsName(ins.OpName):
		name := ins.ArgVal.Str
		if name == "" {
			name = "<unknown>"
		}
		return nameToken(ins.OpName, name)
	case bcopcode.IsCall(ins.OpName):
		return "call:" + bcopcode.ArityBin(int(ins.Arg))
	case bcopcode.IsCompare(ins.OpName):
		return "cmp:" + ins.ArgRepr
	case bcopcode.IsJump(ins.OpName):
		return "jump"
	case ins.OpName == "BINARY_OP":
		return "bin:" + ins.ArgRepr
	default:
		return ""
	}
}

// seqToken is the sequence-level token stored in a unit's norm_ops list
// and in per-block op_seq: it carries the argument token only for the
// classes the comparator needs to distinguish at that granularity.
func seqToken(opname, argToken string) string {
	cls := bcopcode.ClassOf(opname)
	switch cls {
	case bcopcode.ClassConst, bcopcode.ClassName, bcopcode.ClassCall,
		bcopcode.ClassCompare, bcopcode.ClassBranch, bcopcode.ClassBinop:
		if argToken != "" {
			return string(cls) + ":" + argToken
		}
	}
	return string(cls)
}

// Normalize drops ignored opcodes (spec.md §4.2's IGNORE set) and reduces
// each surviving instruction to a NormalizedInstruction carrying its
// canonical Token.
func Normalize(instrs []Instruction) []NormalizedInstruction {
	out := make([]NormalizedInstruction, 0, len(instrs))
	for _, ins := range instrs {
		if bcopcode.Ignore[ins.OpName] {
			continue
		}
		out = append(out, NormalizedInstruction{
			Offset:  ins.Offset,
			OpName:  ins.OpName,
			Arg:     ins.Arg,
			ArgRepr: ins.ArgRepr,
			Token:   seqToken(ins.OpName, normArg(ins)),
		})
	}
	return out
}
