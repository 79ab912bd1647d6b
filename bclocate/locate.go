// Package bclocate finds the first instruction at which two artifacts'
// matching code units diverge, and reports a context window of
// instructions around the divergence annotated with their owning basic
// block (spec.md §4.7).
package bclocate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joelreymont/pez/bccfg"
	"github.com/joelreymont/pez/bcdisasm"
	"github.com/joelreymont/pez/bcerr"
	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
)

// Located is one instruction annotated with its position in the unit's
// instruction stream and the basic block that contains it.
type Located struct {
	Offset  uint32
	OpName  string
	Arg     uint32
	ArgRepr string
	Index   int
	Block   int
}

// Result is the full divergence report for one path.
type Result struct {
	Path          string
	CompiledPath  string
	MismatchIndex int // -1 when the streams matched completely
	Orig          *Located
	Comp          *Located
	OrigContext   []Located
	CompContext   []Located
}

type pathMatch struct {
	path string
	code *bcloader.CodeObject
}

// NoIndex means "no occurrence index requested": FindByPath falls back to
// its plain ambiguity check when more than one code object's path matches.
const NoIndex = -1

// FindByPath resolves target (a dotted suffix, e.g. "<module>.outer.inner"
// or just "inner") against root's code-object tree. When the same dotted
// path is produced by more than one code object — two nested functions
// that happen to share a name, for instance — index selects which
// occurrence to use, in tree-walk (definition) order, 0-based. Pass
// NoIndex to keep the old behavior: a unique exact match is returned, and
// anything else fails with bcerr.PathAmbiguous. An explicit index outside
// the range of matches, or no match at all, fails with bcerr.PathMissing.
func FindByPath(root *bcloader.CodeObject, target string, index int) (string, *bcloader.CodeObject, error) {
	var matches []pathMatch
	var walk func(co *bcloader.CodeObject, path string)
	walk = func(co *bcloader.CodeObject, path string) {
		if path == target || strings.HasSuffix(path, "."+target) {
			matches = append(matches, pathMatch{path: path, code: co})
		}
		for _, c := range co.Consts {
			if nested, ok := c.(*bcloader.CodeObject); ok {
				walk(nested, path+"."+nested.Name)
			}
		}
	}
	walk(root, root.Name)

	if index >= 0 {
		if index >= len(matches) {
			return "", nil, bcerr.New(bcerr.PathMissing,
				fmt.Sprintf("path %q has no occurrence at index %d (found %d)", target, index, len(matches)))
		}
		return matches[index].path, matches[index].code, nil
	}

	switch len(matches) {
	case 0:
		return "", nil, bcerr.New(bcerr.PathMissing, fmt.Sprintf("no code object matches path %q", target))
	case 1:
		return matches[0].path, matches[0].code, nil
	}
	var exact []pathMatch
	for _, m := range matches {
		if m.path == target {
			exact = append(exact, m)
		}
	}
	if len(exact) == 1 {
		return exact[0].path, exact[0].code, nil
	}
	return "", nil, bcerr.New(bcerr.PathAmbiguous, fmt.Sprintf("path %q matches %d code objects", target, len(matches)))
}

// Locate disassembles the raw (un-normalized) instruction stream of the
// matching unit in each artifact and reports the first index at which
// the (opname, argrepr) pair diverges, with a context window of
// instructions around it annotated by basic block membership.
func Locate(origRoot, compRoot *bcloader.CodeObject, table *bcopcode.Table, path string, index, context int) (*Result, error) {
	origPath, origCode, err := FindByPath(origRoot, path, index)
	if err != nil {
		return nil, err
	}
	compPath, compCode, err := FindByPath(compRoot, origPath, index)
	if err != nil {
		return nil, err
	}

	origRaw, err := bcdisasm.Decode(origCode, table)
	if err != nil {
		return nil, err
	}
	compRaw, err := bcdisasm.Decode(compCode, table)
	if err != nil {
		return nil, err
	}

	origBlocks := blockStarts(origRaw, table)
	compBlocks := blockStarts(compRaw, table)

	maxLen := min(len(origRaw), len(compRaw))
	mismatch := -1
	for i := 0; i < maxLen; i++ {
		a, b := origRaw[i], compRaw[i]
		if a.OpName != b.OpName || a.ArgRepr != b.ArgRepr {
			mismatch = i
			break
		}
	}
	if mismatch == -1 && len(origRaw) != len(compRaw) {
		mismatch = maxLen
	}

	annotate := func(seq []bcdisasm.Instruction, blocks []blockRange, idx int) *Located {
		if idx < 0 || idx >= len(seq) {
			return nil
		}
		ins := seq[idx]
		return &Located{
			Offset:  ins.Offset,
			OpName:  ins.OpName,
			Arg:     ins.Arg,
			ArgRepr: ins.ArgRepr,
			Index:   idx,
			Block:   blockForOffset(blocks, ins.Offset),
		}
	}
	annotateRange := func(seq []bcdisasm.Instruction, blocks []blockRange, lo, hi int) []Located {
		var out []Located
		for i := lo; i < hi && i < len(seq); i++ {
			if l := annotate(seq, blocks, i); l != nil {
				out = append(out, *l)
			}
		}
		return out
	}

	center := mismatch
	if center < 0 {
		center = 0
	}
	ctxStart := center - context
	if ctxStart < 0 {
		ctxStart = 0
	}
	ctxEnd := center + context + 1
	if ctxEnd > maxLen {
		ctxEnd = maxLen
	}
	if ctxEnd < ctxStart {
		ctxEnd = ctxStart
	}

	return &Result{
		Path:          origPath,
		CompiledPath:  compPath,
		MismatchIndex: mismatch,
		Orig:          annotate(origRaw, origBlocks, mismatch),
		Comp:          annotate(compRaw, compBlocks, mismatch),
		OrigContext:   annotateRange(origRaw, origBlocks, ctxStart, ctxEnd),
		CompContext:   annotateRange(compRaw, compBlocks, ctxStart, ctxEnd),
	}, nil
}

type blockRange struct {
	id         int
	start, end uint32
	hasEnd     bool
}

func blockStarts(raw []bcdisasm.Instruction, table *bcopcode.Table) []blockRange {
	norm := bcdisasm.Normalize(raw)
	blocks, _ := bccfg.Build(norm)
	ranges := make([]blockRange, 0, len(blocks))
	for i, b := range blocks {
		r := blockRange{id: b.ID, start: b.Start}
		if i+1 < len(blocks) {
			r.end = blocks[i+1].Start
			r.hasEnd = true
		}
		ranges = append(ranges, r)
	}
	return ranges
}

func blockForOffset(blocks []blockRange, offset uint32) int {
	for _, b := range blocks {
		if offset >= b.start && (!b.hasEnd || offset < b.end) {
			return b.id
		}
	}
	return -1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ParseOffset is a small helper for CLI flags that accept a raw byte
// offset instead of a code path.
func ParseOffset(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}
