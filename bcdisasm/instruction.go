// Package bcdisasm walks a loaded code object's raw instruction stream and
// produces the canonical, version-independent token sequence the rest of
// the verifier compares on. See spec.md §4.2 for the normalization rules.
package bcdisasm

import "github.com/joelreymont/pez/bcloader"

// ArgKind tags the polymorphic operand value of an Instruction.
type ArgKind int

const (
	ArgNone ArgKind = iota
	ArgBool
	ArgInt
	ArgFloat
	ArgComplex
	ArgStr
	ArgBytes
	ArgTuple
	ArgList
	ArgSet
	ArgDict
	ArgCode
	ArgOther
)

// ArgVal is the tagged sum the operand value is modeled as, instead of
// depending on Go's runtime reflection to distinguish cases (spec.md §9).
type ArgVal struct {
	Kind     ArgKind
	Bool     bool
	Int      int64
	Float    float64
	Real     float64 // complex real part, only meaningful when Kind == ArgComplex
	Imag     float64 // complex imaginary part
	Str      string
	Bytes    []byte
	Elems    []ArgVal // Tuple/List/Set
	Pairs    []DictPair
	Code     *bcloader.CodeObject
	TypeName string // populated only when Kind == ArgOther
}

// DictPair is one key/value entry of an ArgDict operand.
type DictPair struct {
	Key ArgVal
	Val ArgVal
}

// Instruction is one raw, un-normalized bytecode instruction as produced
// by the disassembler's opcode decoder (spec.md §3).
type Instruction struct {
	Offset  uint32
	OpName  string
	Arg     uint32
	ArgVal  ArgVal
	ArgRepr string
}

// NormalizedInstruction is an Instruction with ignored opcodes already
// filtered out and its operand reduced to a canonical token.
type NormalizedInstruction struct {
	Offset  uint32
	OpName  string
	Arg     uint32
	ArgRepr string // original argrepr, kept for localization, not for tokens
	Token   string // canonical sequence-level token (spec.md §4.2)
}
