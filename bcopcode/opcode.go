// Package bcopcode classifies CPython opcodes in a version-independent
// way and provides the pop/push stack-effect table the disassembler and
// signature builder need. Variadic opcodes (CALL family, BUILD_* family,
// UNPACK_*, MAKE_FUNCTION) are never looked up in the pop/push table —
// they route through the closed-form rules in StackDelta, which is the
// wire contract described in spec.md §6 and must match it bit-exactly.
package bcopcode

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/dolthub/swiss"
)

// Version identifies the CPython major/minor pair an artifact was
// compiled with, e.g. (3, 11).
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Impl names the implementation an artifact was compiled by. The .pyc
// header carries no implementation tag; bcloader sets CPython for every
// artifact it loads.
type Impl string

const CPython Impl = "cpython"

// Class is the coarse operation taxonomy used by the sequence-level
// token and by per-block operation-class counts.
type Class string

const (
	ClassConst   Class = "const"
	ClassName    Class = "name"
	ClassCall    Class = "call"
	ClassReturn  Class = "return"
	ClassRaise   Class = "raise"
	ClassBinop   Class = "binop"
	ClassUnary   Class = "unary"
	ClassCompare Class = "compare"
	ClassBranch  Class = "branch"
	ClassLoad    Class = "load"
	ClassStore   Class = "store"
	ClassBuild   Class = "build"
	ClassIter    Class = "iter"
	ClassStack   Class = "stack"
	ClassOther   Class = "other"
)

// Ignore is the set of opcodes dropped during normalization (spec.md §4.2).
var Ignore = map[string]bool{
	"CACHE":          true,
	"EXTENDED_ARG":   true,
	"NOP":            true,
	"RESUME":         true,
	"COPY_FREE_VARS": true,
	"PUSH_NULL":      true,
}

var constOps = map[string]bool{
	"LOAD_CONST":    true,
	"LOAD_SMALL_INT": true,
	"LOAD_BIG_INT":  true,
}

var nameOps = map[string]bool{
	"LOAD_NAME":             true,
	"STORE_NAME":            true,
	"LOAD_GLOBAL":           true,
	"STORE_GLOBAL":          true,
	"LOAD_FAST":             true,
	"STORE_FAST":            true,
	"LOAD_FAST_CHECK":       true,
	"LOAD_FAST_BORROW":      true,
	"STORE_FAST_MAYBE_NULL": true,
	"LOAD_DEREF":            true,
	"STORE_DEREF":           true,
	"LOAD_CLASSDEREF":       true,
}

var callOps = map[string]bool{
	"CALL":              true,
	"CALL_FUNCTION":     true,
	"CALL_FUNCTION_KW":  true,
	"CALL_FUNCTION_EX":  true,
	"CALL_METHOD":       true,
}

var returnOps = map[string]bool{
	"RETURN_VALUE": true,
	"RETURN_CONST": true,
}

var raiseOps = map[string]bool{
	"RAISE_VARARGS": true,
	"RERAISE":       true,
}

var compareOps = map[string]bool{
	"COMPARE_OP":   true,
	"IS_OP":        true,
	"CONTAINS_OP":  true,
}

var buildOps = map[string]bool{
	"MAKE_FUNCTION": true,
	"MAKE_CELL":     true,
	"MAKE_CLOSURE":  true,
}

var iterOps = map[string]bool{
	"GET_ITER":    true,
	"GET_AITER":   true,
	"GET_ANEXT":   true,
	"YIELD_FROM":  true,
	"YIELD_VALUE": true,
}

var stackOps = map[string]bool{
	"COPY":      true,
	"DUP_TOP":   true,
	"ROT_TWO":   true,
	"ROT_THREE": true,
	"ROT_FOUR":  true,
	"SWAP":      true,
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// IsJump reports whether opname is any branch-shaped instruction,
// conditional or not.
func IsJump(opname string) bool {
	return hasPrefix(opname, "JUMP") ||
		hasPrefix(opname, "POP_JUMP") ||
		hasPrefix(opname, "JUMP_IF") ||
		opname == "FOR_ITER"
}

// IsCondJump reports whether opname branches conditionally (emits both a
// cond and a fallthrough edge).
func IsCondJump(opname string) bool {
	if opname == "FOR_ITER" {
		return true
	}
	if hasPrefix(opname, "POP_JUMP") || hasPrefix(opname, "JUMP_IF") {
		return true
	}
	return opname == "JUMP_IF_NOT_EXC_MATCH"
}

// IsUncondJump reports whether opname is an unconditional branch.
func IsUncondJump(opname string) bool {
	if hasPrefix(opname, "JUMP") && !contains(opname, "IF") {
		return true
	}
	switch opname {
	case "JUMP_ABSOLUTE", "JUMP_FORWARD", "JUMP_BACKWARD", "JUMP_BACKWARD_NO_INTERRUPT":
		return true
	}
	return false
}

// IsReturn reports whether opname terminates the block with no outgoing
// edges because it returns to the caller.
func IsReturn(opname string) bool { return returnOps[opname] }

// IsRaise reports whether opname terminates the block with no outgoing
// edges because it raises.
func IsRaise(opname string) bool { return raiseOps[opname] }

// IsConst reports whether opname loads a constant operand.
func IsConst(opname string) bool { return constOps[opname] }

// IsName reports whether opname is a LOAD/STORE variant of NAME, GLOBAL,
// FAST, DEREF, CLASSDEREF (or a boxed/check variant thereof).
func IsName(opname string) bool { return nameOps[opname] }

// IsCall reports whether opname is any of the CALL variants.
func IsCall(opname string) bool { return callOps[opname] }

// IsCompare reports whether opname is a comparison-shaped instruction.
func IsCompare(opname string) bool { return compareOps[opname] }

// NameScope derives the scope token for a name-operand opcode: GLOBAL ->
// global, FAST -> local, DEREF -> free, else -> name.
func NameScope(opname string) string {
	switch {
	case contains(opname, "GLOBAL"):
		return "global"
	case contains(opname, "FAST"):
		return "local"
	case contains(opname, "DEREF"):
		return "free"
	default:
		return "name"
	}
}

// ArityBin buckets a call argument count into the coarse arity used by
// both the sequence token and the per-block call-arity histogram.
func ArityBin(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n == 1:
		return "1"
	case n <= 3:
		return "2-3"
	default:
		return "4+"
	}
}

// ClassOf assigns the taxonomy class of spec.md §4.2 to an opcode name.
func ClassOf(opname string) Class {
	switch {
	case constOps[opname]:
		return ClassConst
	case nameOps[opname]:
		return ClassName
	case callOps[opname]:
		return ClassCall
	case returnOps[opname]:
		return ClassReturn
	case raiseOps[opname]:
		return ClassRaise
	case hasPrefix(opname, "BINARY_") || opname == "BINARY_OP" || hasPrefix(opname, "INPLACE_"):
		return ClassBinop
	case hasPrefix(opname, "UNARY_"):
		return ClassUnary
	case compareOps[opname]:
		return ClassCompare
	case IsJump(opname):
		return ClassBranch
	case hasPrefix(opname, "LOAD_"):
		return ClassLoad
	case hasPrefix(opname, "STORE_"):
		return ClassStore
	case hasPrefix(opname, "BUILD_") || buildOps[opname]:
		return ClassBuild
	case iterOps[opname]:
		return ClassIter
	case stackOps[opname]:
		return ClassStack
	default:
		return ClassOther
	}
}

// Info is one opcode table entry: its fixed stack effect. Variadic is
// true when Pop/Push are meaningless and StackDelta's closed-form rules
// must be used instead.
type Info struct {
	Name     string
	Pop      int
	Push     int
	Variadic bool
}

// variadicOps are the opcodes StackDelta handles via closed-form rules
// rather than the fixed pop/push table (spec.md §6).
var variadicOps = []string{
	"CALL_FUNCTION", "CALL_METHOD", "CALL_FUNCTION_KW", "CALL_FUNCTION_EX", "CALL",
	"BUILD_LIST", "BUILD_TUPLE", "BUILD_SET", "BUILD_SLICE", "BUILD_MAP",
	"UNPACK_SEQUENCE", "UNPACK_EX", "MAKE_FUNCTION",
}

// Table is the opcode table for one (version, impl) pair.
type Table struct {
	Version     Version
	Impl        Impl
	byName      map[string]Info
	byteForName map[string]byte
	nameForByte map[byte]string
}

// allOpNames returns the deterministic (sorted) universe of opcode names
// this verifier knows about, used to hand out stable byte values for the
// synthetic wordcode encoding bcdisasm decodes (see bcdisasm.Decode for
// why CPython's own numeric assignment doesn't need to be reproduced
// bit-for-bit: only the normalized token stream is a cross-version wire
// contract, not the raw opcode byte values).
func allOpNames() []string {
	seen := map[string]bool{}
	add := func(m map[string]bool) {
		for k := range m {
			seen[k] = true
		}
	}
	add(Ignore)
	add(constOps)
	add(nameOps)
	add(callOps)
	add(returnOps)
	add(raiseOps)
	add(compareOps)
	add(buildOps)
	add(iterOps)
	add(stackOps)
	for k := range baseTable() {
		seen[k] = true
	}
	for _, n := range variadicOps {
		seen[n] = true
	}
	seen["BINARY_OP"] = true
	seen["JUMP_FORWARD"] = true
	seen["JUMP_BACKWARD"] = true
	seen["POP_JUMP_IF_TRUE"] = true
	seen["POP_JUMP_IF_FALSE"] = true
	seen["FOR_ITER"] = true

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var registry = swiss.NewMap[Version, *Table](8)

// ForVersion returns the opcode table for the given version and
// implementation, building and caching it on first use. The table's
// pop/push entries are the same across all supported CPython versions
// for the opcodes this verifier cares about (the taxonomy in spec.md
// §4.2 is explicitly version-independent); only the variadic closed-form
// rules in StackDelta ever need version-specific treatment, and none do
// as of the versions this verifier targets (3.8 through 3.13).
func ForVersion(v Version, impl Impl) (*Table, error) {
	if t, ok := registry.Get(v); ok {
		return t, nil
	}
	if v.Major != 3 || v.Minor < 6 || v.Minor > 13 {
		return nil, fmt.Errorf("bcopcode: unsupported version %s", v)
	}
	names := allOpNames()
	byteForName := make(map[string]byte, len(names))
	nameForByte := make(map[byte]string, len(names))
	for i, n := range names {
		b := byte(i)
		byteForName[n] = b
		nameForByte[b] = n
	}

	t := &Table{
		Version:     v,
		Impl:        impl,
		byName:      baseTable(),
		byteForName: byteForName,
		nameForByte: nameForByte,
	}
	registry.Put(v, t)
	return t, nil
}

// OpcodeByte returns the byte value this table assigns to opname, for
// encoding a synthetic wordcode stream (used by test fixtures and by
// anything assembling a CodeObject by hand).
func (t *Table) OpcodeByte(opname string) (byte, bool) {
	b, ok := t.byteForName[opname]
	return b, ok
}

// OpName returns the opcode name assigned to byte b.
func (t *Table) OpName(b byte) (string, bool) {
	n, ok := t.nameForByte[b]
	return n, ok
}

// ExtendedArgName is the name of the pseudo-opcode bcdisasm must
// recognize by name regardless of table contents.
const (
	ExtendedArgName = "EXTENDED_ARG"
)

// Lookup returns the Info for opname, or false if the table has no
// fixed-effect entry for it (either unknown or variadic).
func (t *Table) Lookup(opname string) (Info, bool) {
	i, ok := t.byName[opname]
	return i, ok
}

func baseTable() map[string]Info {
	m := make(map[string]Info, 128)
	add := func(name string, pop, push int) { m[name] = Info{Name: name, Pop: pop, Push: push} }

	add("LOAD_CONST", 0, 1)
	add("LOAD_SMALL_INT", 0, 1)
	add("LOAD_BIG_INT", 0, 1)
	add("LOAD_NAME", 0, 1)
	add("LOAD_GLOBAL", 0, 1)
	add("LOAD_FAST", 0, 1)
	add("LOAD_FAST_CHECK", 0, 1)
	add("LOAD_FAST_BORROW", 0, 1)
	add("LOAD_DEREF", 0, 1)
	add("LOAD_CLASSDEREF", 0, 1)
	add("STORE_NAME", 1, 0)
	add("STORE_GLOBAL", 1, 0)
	add("STORE_FAST", 1, 0)
	add("STORE_FAST_MAYBE_NULL", 1, 0)
	add("STORE_DEREF", 1, 0)
	add("DELETE_NAME", 0, 0)
	add("DELETE_GLOBAL", 0, 0)
	add("DELETE_FAST", 0, 0)
	add("DELETE_DEREF", 0, 0)

	add("RETURN_VALUE", 1, 0)
	add("RETURN_CONST", 0, 0)
	add("RAISE_VARARGS", 1, 0)
	add("RERAISE", 1, 0)

	add("BINARY_OP", 2, 1)
	add("BINARY_ADD", 2, 1)
	add("BINARY_SUBTRACT", 2, 1)
	add("BINARY_MULTIPLY", 2, 1)
	add("BINARY_SUBSCR", 2, 1)
	add("STORE_SUBSCR", 3, 0)
	add("DELETE_SUBSCR", 2, 0)
	add("INPLACE_ADD", 2, 1)

	add("UNARY_POSITIVE", 1, 1)
	add("UNARY_NEGATIVE", 1, 1)
	add("UNARY_NOT", 1, 1)
	add("UNARY_INVERT", 1, 1)

	add("COMPARE_OP", 2, 1)
	add("IS_OP", 2, 1)
	add("CONTAINS_OP", 2, 1)

	add("JUMP_FORWARD", 0, 0)
	add("JUMP_BACKWARD", 0, 0)
	add("JUMP_BACKWARD_NO_INTERRUPT", 0, 0)
	add("JUMP_ABSOLUTE", 0, 0)
	add("POP_JUMP_IF_TRUE", 1, 0)
	add("POP_JUMP_IF_FALSE", 1, 0)
	add("POP_JUMP_FORWARD_IF_TRUE", 1, 0)
	add("POP_JUMP_FORWARD_IF_FALSE", 1, 0)
	add("POP_JUMP_BACKWARD_IF_TRUE", 1, 0)
	add("POP_JUMP_BACKWARD_IF_FALSE", 1, 0)
	add("JUMP_IF_TRUE_OR_POP", 1, 1)
	add("JUMP_IF_FALSE_OR_POP", 1, 1)
	add("JUMP_IF_NOT_EXC_MATCH", 2, 0)
	add("FOR_ITER", 1, 2)

	add("GET_ITER", 1, 1)
	add("GET_AITER", 1, 1)
	add("GET_ANEXT", 1, 2)
	add("YIELD_VALUE", 1, 1)
	add("YIELD_FROM", 2, 1)

	add("COPY", 1, 2)
	add("DUP_TOP", 1, 2)
	add("ROT_TWO", 2, 2)
	add("ROT_THREE", 3, 3)
	add("ROT_FOUR", 4, 4)
	add("SWAP", 2, 2)
	add("POP_TOP", 1, 0)

	add("LOAD_ATTR", 1, 1)
	add("STORE_ATTR", 2, 0)
	add("DELETE_ATTR", 1, 0)
	add("IMPORT_NAME", 2, 1)
	add("IMPORT_FROM", 1, 2)
	add("IMPORT_STAR", 1, 0)
	add("LOAD_METHOD", 1, 2)
	add("PRINT_EXPR", 1, 0)
	add("GET_LEN", 1, 2)
	add("MATCH_MAPPING", 1, 2)
	add("MATCH_SEQUENCE", 1, 2)
	add("MATCH_KEYS", 2, 3)
	add("MATCH_CLASS", 3, 1)

	return m
}

// StackDelta returns the net stack effect of one instruction with the
// given raw argument, including the bit-exact variadic closed-form rules
// of spec.md §6. It never consults the fixed pop/push table for the
// variadic opcodes listed there.
func StackDelta(t *Table, opname string, arg int) int {
	switch opname {
	case "CALL_FUNCTION", "CALL_METHOD":
		return 1 - (arg + 1)
	case "CALL_FUNCTION_KW":
		return 1 - (arg + 2)
	case "CALL_FUNCTION_EX":
		extra := 0
		if arg&1 != 0 {
			extra = 1
		}
		return 1 - (arg + 2 + extra)
	case "CALL":
		return 1 - (arg + 2)
	case "BUILD_LIST", "BUILD_TUPLE", "BUILD_SET", "BUILD_SLICE":
		return 1 - arg
	case "BUILD_MAP":
		return 1 - 2*arg
	case "UNPACK_SEQUENCE":
		return arg - 1
	case "UNPACK_EX":
		after := (arg >> 8) & 0xFF
		before := arg & 0xFF
		return before + after
	case "MAKE_FUNCTION":
		flags := arg & 0xF
		return 1 - (2 + bits.OnesCount(uint(flags)))
	}
	if info, ok := t.Lookup(opname); ok {
		return info.Push - info.Pop
	}
	return 0
}
