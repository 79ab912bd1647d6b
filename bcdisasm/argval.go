package bcdisasm

import "github.com/joelreymont/pez/bcloader"

// resolveConst converts one bcloader.CodeObject constant into its tagged
// ArgVal representation. The shapes it must handle are exactly the ones
// bcloader's marshal decoder can produce (see bcloader.CodeObject.Consts).
func resolveConst(v any) ArgVal {
	switch c := v.(type) {
	case bcloader.PyNone:
		return ArgVal{Kind: ArgNone}
	case bool:
		return ArgVal{Kind: ArgBool, Bool: c}
	case int64:
		return ArgVal{Kind: ArgInt, Int: c}
	case float64:
		return ArgVal{Kind: ArgFloat, Float: c}
	case complex128:
		return ArgVal{Kind: ArgComplex, Real: real(c), Imag: imag(c)}
	case string:
		return ArgVal{Kind: ArgStr, Str: c}
	case []byte:
		return ArgVal{Kind: ArgBytes, Bytes: c}
	case *bcloader.CodeObject:
		return ArgVal{Kind: ArgCode, Code: c}
	case []bcloader.DictEntry:
		pairs := make([]DictPair, len(c))
		for i, e := range c {
			pairs[i] = DictPair{Key: resolveConst(e.Key), Val: resolveConst(e.Val)}
		}
		return ArgVal{Kind: ArgDict, Pairs: pairs}
	case []any:
		return ArgVal{Kind: ArgTuple, Elems: resolveElems(c)}
	case bcloader.PyList:
		return ArgVal{Kind: ArgList, Elems: resolveElems(c)}
	case bcloader.PySet:
		return ArgVal{Kind: ArgSet, Elems: resolveElems(c)}
	case nil:
		return ArgVal{Kind: ArgNone}
	default:
		return ArgVal{Kind: ArgOther}
	}
}

func resolveElems(c []any) []ArgVal {
	elems := make([]ArgVal, len(c))
	for i, e := range c {
		elems[i] = resolveConst(e)
	}
	return elems
}

// nameList resolves the slice a name-operand opcode indexes into, by
// scope: GLOBAL/NAME opcodes index co_names, FAST indexes co_varnames,
// DEREF/CLASSDEREF index the concatenation of cellvars then freevars
// (CPython's own co_cellvars+co_freevars addressing order).
func nameList(opname string, co *bcloader.CodeObject) []string {
	switch {
	case contains(opname, "GLOBAL"), contains(opname, "NAME"):
		return co.Names
	case contains(opname, "FAST"):
		return co.Varnames
	case contains(opname, "DEREF"):
		return append(append([]string{}, co.Cellvars...), co.Freevars...)
	default:
		return co.Names
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func indexed(list []string, idx uint32) string {
	if int(idx) < 0 || int(idx) >= len(list) {
		return "<unknown>"
	}
	return list[idx]
}

// compareOpRepr maps COMPARE_OP's raw argument to its comparator symbol,
// following CPython's cmp_op table. An argument of 16 or more is read as
// the 3.12+ layout, with the comparator index above the low four bits
// (arg >> 4); a smaller argument is used as the index directly.
var compareOpRepr = []string{"<", "<=", "==", "!=", ">", ">="}

func compareRepr(arg uint32) string {
	idx := arg
	if idx >= 16 {
		idx = idx >> 4
	}
	if int(idx) < len(compareOpRepr) {
		return compareOpRepr[idx]
	}
	return "?"
}

func isOpRepr(arg uint32) string {
	if arg == 0 {
		return "is"
	}
	return "is not"
}

func containsOpRepr(arg uint32) string {
	if arg == 0 {
		return "in"
	}
	return "not in"
}

// binaryOpRepr maps BINARY_OP's argument to the operator it performs,
// following CPython 3.11+'s _PyEval_BinaryOps order. The in-place
// variants keep their own symbol, so "+=" and "+" yield distinct tokens.
var binaryOpRepr = []string{
	"+", "&", "//", "<<", "@", "*", "%", "|", "**", ">>", "-", "/", "^",
	"+=", "&=", "//=", "<<=", "@=", "*=", "%=", "|=", "**=", ">>=", "-=", "/=", "^=",
}

func binaryRepr(arg uint32) string {
	if int(arg) < len(binaryOpRepr) {
		return binaryOpRepr[arg]
	}
	return "?"
}
