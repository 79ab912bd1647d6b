package bcloader

import "fmt"

// CodeObject is the Go projection of a CPython code object: one compiled
// unit (a module body, a function, a nested comprehension, a class body).
// The verifier treats it as immutable once the Loader has built it —
// nothing downstream ever mutates a field (spec.md §3).
type CodeObject struct {
	ArgCount        int
	PosOnlyCount    int
	KwOnlyCount     int
	NLocals         int
	StackSize       int
	Flags           uint32
	Varnames        []string
	Freevars        []string
	Cellvars        []string
	Code            []byte
	Consts          []any // elements are one of: PyNone, bool, int64, float64, complex128, string, []byte, []any (tuple), PyList, PySet (set/frozenset), []DictEntry (dict), *CodeObject
	Names           []string
	Filename        string
	Name            string
	Qualname        string
	FirstLine       int
	ExceptionTable  []byte
}

// readCode decodes a TYPE_CODE marshal object. CPython changed the code
// object's on-disk field order and contents substantially in 3.11 (the
// unified localsplusnames/kinds arrays and the exception table replaced
// the separate varnames/freevars/cellvars lists and lnotab); both shapes
// are supported here, selected by the reader's target version, since the
// verifier needs to load artifacts produced by either generation.
func (r *marshalReader) readCode() (*CodeObject, error) {
	if r.version.Major == 3 && r.version.Minor >= 11 {
		return r.readCode311()
	}
	return r.readCodeLegacy()
}

func (r *marshalReader) readCode311() (*CodeObject, error) {
	co := &CodeObject{}

	argcount, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.ArgCount = int(argcount)

	posonly, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.PosOnlyCount = int(posonly)

	kwonly, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.KwOnlyCount = int(kwonly)

	stacksize, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.StackSize = int(stacksize)

	flags, err := r.uint32()
	if err != nil {
		return nil, err
	}
	co.Flags = flags

	code, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Code, err = asBytes(code)
	if err != nil {
		return nil, fmt.Errorf("code.co_code: %w", err)
	}

	consts, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Consts, err = asSeq(consts)
	if err != nil {
		return nil, fmt.Errorf("code.co_consts: %w", err)
	}

	names, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Names, err = asStrSeq(names)
	if err != nil {
		return nil, fmt.Errorf("code.co_names: %w", err)
	}

	localsplusnames, err := r.readObject()
	if err != nil {
		return nil, err
	}
	allNames, err := asStrSeq(localsplusnames)
	if err != nil {
		return nil, fmt.Errorf("code.co_localsplusnames: %w", err)
	}

	kinds, err := r.readObject()
	if err != nil {
		return nil, err
	}
	kindBytes, err := asBytes(kinds)
	if err != nil {
		return nil, fmt.Errorf("code.co_localspluskinds: %w", err)
	}
	co.Varnames, co.Cellvars, co.Freevars = splitLocalsPlus(allNames, kindBytes, co.NLocals)
	co.NLocals = len(co.Varnames)

	filename, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Filename, _ = filename.(string)

	name, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Name, _ = name.(string)

	qualname, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Qualname, _ = qualname.(string)

	firstline, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.FirstLine = int(firstline)

	// linetable: consumed but not retained, the verifier never reports
	// source line numbers.
	if _, err := r.readObject(); err != nil {
		return nil, err
	}

	exctable, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.ExceptionTable, _ = asBytes(exctable)

	return co, nil
}

func (r *marshalReader) readCodeLegacy() (*CodeObject, error) {
	co := &CodeObject{}

	argcount, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.ArgCount = int(argcount)

	if r.version.Minor >= 8 {
		posonly, err := r.int32()
		if err != nil {
			return nil, err
		}
		co.PosOnlyCount = int(posonly)
	}

	kwonly, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.KwOnlyCount = int(kwonly)

	nlocals, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.NLocals = int(nlocals)

	stacksize, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.StackSize = int(stacksize)

	flags, err := r.uint32()
	if err != nil {
		return nil, err
	}
	co.Flags = flags

	code, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Code, err = asBytes(code)
	if err != nil {
		return nil, fmt.Errorf("code.co_code: %w", err)
	}

	consts, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Consts, err = asSeq(consts)
	if err != nil {
		return nil, fmt.Errorf("code.co_consts: %w", err)
	}

	names, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Names, err = asStrSeq(names)
	if err != nil {
		return nil, fmt.Errorf("code.co_names: %w", err)
	}

	varnames, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Varnames, err = asStrSeq(varnames)
	if err != nil {
		return nil, fmt.Errorf("code.co_varnames: %w", err)
	}

	freevars, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Freevars, err = asStrSeq(freevars)
	if err != nil {
		return nil, fmt.Errorf("code.co_freevars: %w", err)
	}

	cellvars, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Cellvars, err = asStrSeq(cellvars)
	if err != nil {
		return nil, fmt.Errorf("code.co_cellvars: %w", err)
	}

	filename, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Filename, _ = filename.(string)

	name, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co.Name = name.(string)
	co.Qualname = co.Name

	firstline, err := r.int32()
	if err != nil {
		return nil, err
	}
	co.FirstLine = int(firstline)

	// lnotab: consumed but not retained.
	if _, err := r.readObject(); err != nil {
		return nil, err
	}

	return co, nil
}

// splitLocalsPlus separates the unified 3.11+ co_localsplusnames array
// back into the plain/cell/free categories the rest of the verifier
// (and the older code-object shape) expects, using co_localspluskinds'
// per-slot bitmask (CO_FAST_LOCAL=0x01, CO_FAST_CELL=0x02,
// CO_FAST_FREE=0x04).
func splitLocalsPlus(names []string, kinds []byte, _ int) (varnames, cellvars, freevars []string) {
	for i, name := range names {
		var kind byte
		if i < len(kinds) {
			kind = kinds[i]
		}
		switch {
		case kind&0x04 != 0:
			freevars = append(freevars, name)
		case kind&0x02 != 0:
			cellvars = append(cellvars, name)
			varnames = append(varnames, name)
		default:
			varnames = append(varnames, name)
		}
	}
	return varnames, cellvars, freevars
}

func asBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected bytes, got %T", v)
	}
}

func asStrSeq(v any) ([]string, error) {
	seq, err := asSeq(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seq))
	for _, item := range seq {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func asSeq(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected sequence, got %T", v)
	}
}
