// Package bccfg builds the reachable control-flow graph of one code
// unit's normalized instruction stream: basic blocks split at jump
// targets and fall-through boundaries, and the edges between them
// (spec.md §4.3).
package bccfg

import (
	"sort"
	"strconv"

	"github.com/joelreymont/pez/bcdisasm"
	"github.com/joelreymont/pez/bcopcode"
)

// EdgeKind names the three ways one block can flow into another.
type EdgeKind string

const (
	EdgeCond        EdgeKind = "cond"
	EdgeFallthrough EdgeKind = "fallthrough"
	EdgeJump        EdgeKind = "jump"
)

// Block is one maximal straight-line run of normalized instructions.
type Block struct {
	ID     int
	Start  uint32
	Instrs []bcdisasm.NormalizedInstruction
}

// Edge is one directed control-flow transition between two blocks.
type Edge struct {
	Src, Dst int
	Kind     EdgeKind
}

// Build partitions instrs into basic blocks and derives the edges between
// them. Blocks are split at every jump target and at the instruction
// following any jump, return, or raise, mirroring the leader-based
// algorithm a classic CFG builder uses.
func Build(instrs []bcdisasm.NormalizedInstruction) ([]Block, []Edge) {
	if len(instrs) == 0 {
		return nil, nil
	}

	offsetSet := make(map[uint32]bool, len(instrs))
	for _, ins := range instrs {
		offsetSet[ins.Offset] = true
	}

	leaders := map[uint32]bool{instrs[0].Offset: true}
	for i, ins := range instrs {
		if bcopcode.IsJump(ins.OpName) {
			if target, ok := jumpTarget(ins); ok && offsetSet[target] {
				leaders[target] = true
			}
			if i+1 < len(instrs) {
				leaders[instrs[i+1].Offset] = true
			}
		} else if bcopcode.IsReturn(ins.OpName) || bcopcode.IsRaise(ins.OpName) {
			if i+1 < len(instrs) {
				leaders[instrs[i+1].Offset] = true
			}
		}
	}

	sortedLeaders := make([]uint32, 0, len(leaders))
	for l := range leaders {
		sortedLeaders = append(sortedLeaders, l)
	}
	sort.Slice(sortedLeaders, func(i, j int) bool { return sortedLeaders[i] < sortedLeaders[j] })

	var blocks []Block
	offToBlock := make(map[uint32]int)
	for i, start := range sortedLeaders {
		var end uint32
		hasEnd := i+1 < len(sortedLeaders)
		if hasEnd {
			end = sortedLeaders[i+1]
		}
		var blockInstrs []bcdisasm.NormalizedInstruction
		for _, ins := range instrs {
			if ins.Offset < start {
				continue
			}
			if hasEnd && ins.Offset >= end {
				break
			}
			blockInstrs = append(blockInstrs, ins)
		}
		if len(blockInstrs) == 0 {
			continue
		}
		id := len(blocks)
		blocks = append(blocks, Block{ID: id, Start: start, Instrs: blockInstrs})
		offToBlock[start] = id
	}

	var edges []Edge
	for i, block := range blocks {
		last := block.Instrs[len(block.Instrs)-1]
		var nextBlock = -1
		if i+1 < len(blocks) {
			nextBlock = blocks[i+1].ID
		}
		switch {
		case isCondJump(last.OpName):
			if target, ok := jumpTarget(last); ok {
				if dst, ok := offToBlock[target]; ok {
					edges = append(edges, Edge{Src: block.ID, Dst: dst, Kind: EdgeCond})
				}
			}
			if nextBlock >= 0 {
				edges = append(edges, Edge{Src: block.ID, Dst: nextBlock, Kind: EdgeFallthrough})
			}
		case bcopcode.IsUncondJump(last.OpName):
			if target, ok := jumpTarget(last); ok {
				if dst, ok := offToBlock[target]; ok {
					edges = append(edges, Edge{Src: block.ID, Dst: dst, Kind: EdgeJump})
				}
			}
		case bcopcode.IsReturn(last.OpName), bcopcode.IsRaise(last.OpName):
			// terminal, no outgoing edge
		default:
			if nextBlock >= 0 {
				edges = append(edges, Edge{Src: block.ID, Dst: nextBlock, Kind: EdgeFallthrough})
			}
		}
	}
	return blocks, edges
}

func isCondJump(opname string) bool { return bcopcode.IsCondJump(opname) }

func jumpTarget(ins bcdisasm.NormalizedInstruction) (uint32, bool) {
	if ins.ArgRepr == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(ins.ArgRepr, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Reachable returns the set of block IDs reachable from the entry block
// (block 0) by following edges. An artifact's constant-folded dead code
// (blocks with no predecessor) never contributes to its signature.
func Reachable(blocks []Block, edges []Edge) map[int]bool {
	if len(blocks) == 0 {
		return map[int]bool{}
	}
	adj := make(map[int][]int, len(blocks))
	for _, e := range edges {
		adj[e.Src] = append(adj[e.Src], e.Dst)
	}
	seen := map[int]bool{}
	stack := []int{blocks[0].ID}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[b] {
			continue
		}
		seen[b] = true
		stack = append(stack, adj[b]...)
	}
	return seen
}
