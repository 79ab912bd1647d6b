// Package bcanalysis walks a loaded artifact's code-object tree and
// produces one Unit per compiled unit (module body, function, nested
// comprehension, class body), each carrying the normalized op sequence
// and structural signatures the comparator diffs on (spec.md §4.5).
package bcanalysis

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/dolthub/swiss"

	"github.com/joelreymont/pez/bccfg"
	"github.com/joelreymont/pez/bcdisasm"
	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
	"github.com/joelreymont/pez/bcsig"
)

// Meta mirrors unit_meta: the code object attributes the comparator
// reports on directly rather than folding into a signature.
type Meta struct {
	ArgCount            int
	PosOnlyCount        int
	KwOnlyCount         int
	NLocals             int
	StackSize           int
	Flags               uint32
	VarnamesLen         int
	Freevars            []string
	Cellvars            []string
	ExceptionTableLen   int
	ExceptionTableHash  string
}

// Unit is the full analysis of one code object.
type Unit struct {
	Path           string
	Meta           Meta
	NormOps        []string
	OpCounts       map[bcopcode.Class]int
	BlockSigCounts map[string]int
	EdgeSigCounts  map[string]int
	BlockSigs      []bcsig.BlockSig
	CFGSig         bcsig.CFGSig
}

type cacheKey struct {
	hash    string
	version bcopcode.Version
}

// cache memoizes Analyze by (code-object content hash, version) so a
// constant shared across many loaded units — or repeated runs over the
// same artifact in a report batch — is only ever disassembled once.
var cache = swiss.NewMap[cacheKey, *Unit](64)

// contentHash covers every operand-bearing field a Unit's NormOps,
// signatures, and Meta are derived from — not just co.Code. Two code
// objects can share identical raw bytecode bytes while indexing
// different consts/names tables (e.g. "x = 1" and "x = 2" both compile
// to "LOAD_CONST 0; ..."), so hashing co.Code alone would let the cache
// return the first one's analysis for the second.
func contentHash(co *bcloader.CodeObject) string {
	h := sha1.New()
	writeCodeObject(h, co)
	return hex.EncodeToString(h.Sum(nil))
}

func writeCodeObject(h hash.Hash, co *bcloader.CodeObject) {
	fmt.Fprintf(h, "argcount=%d;posonly=%d;kwonly=%d;nlocals=%d;stacksize=%d;flags=%d;",
		co.ArgCount, co.PosOnlyCount, co.KwOnlyCount, co.NLocals, co.StackSize, co.Flags)
	fmt.Fprintf(h, "names=%q;varnames=%q;freevars=%q;cellvars=%q;",
		co.Names, co.Varnames, co.Freevars, co.Cellvars)
	io.WriteString(h, "code=")
	h.Write(co.Code)
	io.WriteString(h, ";exc=")
	h.Write(co.ExceptionTable)
	io.WriteString(h, ";consts=[")
	for _, c := range co.Consts {
		writeConst(h, c)
		io.WriteString(h, ",")
	}
	io.WriteString(h, "]")
}

// writeConst recurses through a const's runtime shape, the same shapes
// bcloader.CodeObject.Consts documents: PyNone, bool, int64, float64,
// complex128, string, []byte, []any (tuple), PyList, PySet, []DictEntry,
// or a nested *CodeObject.
func writeConst(h hash.Hash, v any) {
	switch x := v.(type) {
	case bcloader.PyNone:
		io.WriteString(h, "none")
	case bool:
		fmt.Fprintf(h, "bool:%v", x)
	case int64:
		fmt.Fprintf(h, "int:%d", x)
	case float64:
		fmt.Fprintf(h, "float:%v", x)
	case complex128:
		fmt.Fprintf(h, "complex:%v", x)
	case string:
		fmt.Fprintf(h, "str:%q", x)
	case []byte:
		fmt.Fprintf(h, "bytes:%x", x)
	case []any:
		io.WriteString(h, "tuple:[")
		for _, e := range x {
			writeConst(h, e)
			io.WriteString(h, ",")
		}
		io.WriteString(h, "]")
	case bcloader.PyList:
		io.WriteString(h, "list:[")
		for _, e := range x {
			writeConst(h, e)
			io.WriteString(h, ",")
		}
		io.WriteString(h, "]")
	case bcloader.PySet:
		io.WriteString(h, "set:[")
		for _, e := range x {
			writeConst(h, e)
			io.WriteString(h, ",")
		}
		io.WriteString(h, "]")
	case []bcloader.DictEntry:
		io.WriteString(h, "dict:[")
		for _, e := range x {
			writeConst(h, e.Key)
			io.WriteString(h, "=")
			writeConst(h, e.Val)
			io.WriteString(h, ",")
		}
		io.WriteString(h, "]")
	case *bcloader.CodeObject:
		io.WriteString(h, "code:{")
		writeCodeObject(h, x)
		io.WriteString(h, "}")
	default:
		fmt.Fprintf(h, "other:%v", x)
	}
}

// Analyze produces the Unit for one code object at the given dotted path.
func Analyze(co *bcloader.CodeObject, table *bcopcode.Table, path string) (*Unit, error) {
	key := cacheKey{hash: contentHash(co), version: table.Version}
	if u, ok := cache.Get(key); ok {
		cloned := *u
		cloned.Path = path
		return &cloned, nil
	}

	raw, err := bcdisasm.Decode(co, table)
	if err != nil {
		return nil, err
	}
	instrs := bcdisasm.Normalize(raw)

	blocks, edges := bccfg.Build(instrs)
	reachable := bccfg.Reachable(blocks, edges)
	blocks = filterBlocks(blocks, reachable)
	edges = filterEdges(edges, reachable)

	blockSigs, blockSigCounts := bcsig.Blocks(table, blocks)
	edgeSigCounts := bcsig.EdgeSigCounts(edges, blockSigs)
	cfgSig := bcsig.ComputeCFGSig(blocks, edges)

	opCounts := map[bcopcode.Class]int{}
	normOps := make([]string, 0, len(instrs))
	for _, ins := range instrs {
		normOps = append(normOps, ins.Token)
		opCounts[bcopcode.ClassOf(ins.OpName)]++
	}

	u := &Unit{
		Path:           path,
		Meta:           unitMeta(co),
		NormOps:        normOps,
		OpCounts:       opCounts,
		BlockSigCounts: blockSigCounts,
		EdgeSigCounts:  edgeSigCounts,
		BlockSigs:      blockSigs,
		CFGSig:         cfgSig,
	}
	cache.Put(key, u)
	return u, nil
}

// Walk recursively analyzes co and every nested code object reachable
// through its constants, depth-first, naming each with a dotted path
// built from the parent's path and the nested code's own name. A visited
// set guards against revisiting the same code object twice: the constant
// forest is a DAG in every CPython compiler output this verifier has
// seen, but nothing prevents a pathological artifact from sharing one
// code object across two container slots.
func Walk(co *bcloader.CodeObject, table *bcopcode.Table, path string) ([]*Unit, error) {
	visited := map[*bcloader.CodeObject]bool{}
	var out []*Unit
	var walk func(co *bcloader.CodeObject, path string) error
	walk = func(co *bcloader.CodeObject, path string) error {
		if visited[co] {
			return nil
		}
		visited[co] = true
		u, err := Analyze(co, table, path)
		if err != nil {
			return err
		}
		out = append(out, u)
		for _, c := range co.Consts {
			nested, ok := c.(*bcloader.CodeObject)
			if !ok {
				continue
			}
			if err := walk(nested, path+"."+nested.Name); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(co, path); err != nil {
		return nil, err
	}
	return out, nil
}

func unitMeta(co *bcloader.CodeObject) Meta {
	m := Meta{
		ArgCount:     co.ArgCount,
		PosOnlyCount: co.PosOnlyCount,
		KwOnlyCount:  co.KwOnlyCount,
		NLocals:      co.NLocals,
		StackSize:    co.StackSize,
		Flags:        co.Flags,
		VarnamesLen:  len(co.Varnames),
		Freevars:     co.Freevars,
		Cellvars:     co.Cellvars,
	}
	if len(co.ExceptionTable) > 0 {
		m.ExceptionTableLen = len(co.ExceptionTable)
		m.ExceptionTableHash = bcdisasm.ShortHash(hex.EncodeToString(co.ExceptionTable))
	}
	return m
}

func filterBlocks(blocks []bccfg.Block, reachable map[int]bool) []bccfg.Block {
	out := make([]bccfg.Block, 0, len(blocks))
	for _, b := range blocks {
		if reachable[b.ID] {
			out = append(out, b)
		}
	}
	return out
}

func filterEdges(edges []bccfg.Edge, reachable map[int]bool) []bccfg.Edge {
	out := make([]bccfg.Edge, 0, len(edges))
	for _, e := range edges {
		if reachable[e.Src] && reachable[e.Dst] {
			out = append(out, e)
		}
	}
	return out
}
