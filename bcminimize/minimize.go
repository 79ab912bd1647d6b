// Package bcminimize delta-debugs a decompiled source file down to the
// smallest set of top-level statements that still reproduces one code
// unit's raw instruction stream (spec.md §4.8). It splits source on
// indentation rather than parsing a real AST, since this verifier has no
// Python grammar of its own to lean on; see split.go for the splitter.
package bcminimize

import (
	"strings"
)

// Stats reports how much work a minimization run did, for --stats-out.
type Stats struct {
	Iterations int
	Removed    int
}

// SameUnitFunc recompiles a candidate source text and reports whether the
// target unit's raw instruction stream is still byte-for-byte equivalent
// to the original's.
type SameUnitFunc func(source string) (bool, error)

// DDMin runs the ddmin delta-debugging loop over a set of removable
// top-level statement indices, starting the partition count at 2 and
// doubling it whenever a full pass removes nothing, exactly like the
// classic ddmin algorithm. keepIdx are indices that must never be
// removed (docstring, __future__ imports, the target's enclosing
// statement).
func DDMin(stmts []Statement, keepIdx map[int]bool, removable []int, sameUnit SameUnitFunc, maxIter int) (map[int]bool, Stats, error) {
	n := 2
	iters := 0
	removable = append([]int(nil), removable...)

	for len(removable) > 0 && iters < maxIter {
		iters++
		size := len(removable) / n
		if size < 1 {
			size = 1
		}
		var subsets [][]int
		for i := 0; i < len(removable); i += size {
			end := i + size
			if end > len(removable) {
				end = len(removable)
			}
			subsets = append(subsets, removable[i:end])
		}

		removed := false
		for _, subset := range subsets {
			inSubset := make(map[int]bool, len(subset))
			for _, idx := range subset {
				inSubset[idx] = true
			}
			candKeep := make(map[int]bool, len(keepIdx)+len(removable))
			for idx := range keepIdx {
				candKeep[idx] = true
			}
			for _, idx := range removable {
				if !inSubset[idx] {
					candKeep[idx] = true
				}
			}
			candidateSrc := BuildSource(stmts, candKeep)
			ok, err := sameUnit(candidateSrc)
			if err != nil {
				return nil, Stats{}, err
			}
			if ok {
				var next []int
				for _, idx := range removable {
					if !inSubset[idx] {
						next = append(next, idx)
					}
				}
				removable = next
				removed = true
				n = 2
				break
			}
		}
		if !removed {
			if n >= len(removable) {
				break
			}
			n *= 2
			if n > len(removable) {
				n = len(removable)
			}
		}
	}

	finalKeep := make(map[int]bool, len(keepIdx)+len(removable))
	for idx := range keepIdx {
		finalKeep[idx] = true
	}
	for _, idx := range removable {
		finalKeep[idx] = true
	}
	return finalKeep, Stats{Iterations: iters}, nil
}

// Minimize splits source into top-level statements, protects the
// docstring, __future__ imports, and the statement enclosing path, and
// ddmin's away everything else that same_unit still accepts without.
func Minimize(source, path string, sameUnit SameUnitFunc, maxIter int) (string, Stats, error) {
	stmts := SplitTopLevel(source)

	keepIdx := map[int]bool{}
	if doc := ModuleDocstringIndex(stmts); doc >= 0 {
		keepIdx[doc] = true
	}
	for i, s := range stmts {
		if IsFutureImport(s) {
			keepIdx[i] = true
		}
	}

	parts := TargetParts(path)
	if len(parts) > 0 {
		top := parts[0]
		for i, s := range stmts {
			if _, name, ok := StatementHeader(s); ok && name == top {
				keepIdx[i] = true
				break
			}
		}
	}

	var removable []int
	for i := range stmts {
		if !keepIdx[i] {
			removable = append(removable, i)
		}
	}
	if len(removable) == 0 {
		return source, Stats{}, nil
	}

	finalKeep, stats, err := DDMin(stmts, keepIdx, removable, sameUnit, maxIter)
	if err != nil {
		return "", Stats{}, err
	}
	stats.Removed = len(stmts) - len(finalKeep)
	return BuildSource(stmts, finalKeep), stats, nil
}

// BuildSource re-joins the statements whose index is in keep, in their
// original order.
func BuildSource(stmts []Statement, keep map[int]bool) string {
	var b strings.Builder
	for i, s := range stmts {
		if keep[i] {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
