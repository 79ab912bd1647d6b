// Package bcsig computes the structural signatures the comparator diffs
// on: per-block invariants reduced to a short content-hash key, and the
// unit-level CFG shape summary (spec.md §4.4).
package bcsig

import (
	"encoding/json"
	"strings"

	"github.com/joelreymont/pez/bccfg"
	"github.com/joelreymont/pez/bcdisasm"
	"github.com/joelreymont/pez/bcopcode"
)

// BlockInvariants is everything block_invariants computes for one block,
// before it is reduced to a signature key.
type BlockInvariants struct {
	OpSeq      []string
	OpCounts   map[bcopcode.Class]int
	Consts     map[string]int
	Names      map[string]int
	CallBins   map[string]int
	StackDelta int
	StackMax   int
	StackMin   int
}

// Invariants walks one block's instructions and accumulates its op
// sequence, per-class counts, constant/name/call-arity multisets, and
// stack depth extrema.
func Invariants(table *bcopcode.Table, block bccfg.Block) BlockInvariants {
	inv := BlockInvariants{
		OpCounts: map[bcopcode.Class]int{},
		Consts:   map[string]int{},
		Names:    map[string]int{},
		CallBins: map[string]int{},
	}
	var depth, maxDepth, minDepth int
	for _, ins := range block.Instrs {
		inv.OpSeq = append(inv.OpSeq, ins.Token)
		cls := bcopcode.ClassOf(ins.OpName)
		inv.OpCounts[cls]++

		switch {
		case bcopcode.IsConst(ins.OpName):
			inv.Consts[constKeyFromToken(ins.Token)]++
		case bcopcode.IsName(ins.OpName):
			inv.Names[nameKeyFromToken(ins.Token)]++
		case bcopcode.IsCall(ins.OpName):
			inv.CallBins[bcopcode.ArityBin(int(ins.Arg))]++
		}

		delta := bcopcode.StackDelta(table, ins.OpName, int(ins.Arg))
		depth += delta
		if depth > maxDepth {
			maxDepth = depth
		}
		if depth < minDepth {
			minDepth = depth
		}
	}
	inv.StackDelta, inv.StackMax, inv.StackMin = depth, maxDepth, minDepth
	return inv
}

// constKeyFromToken and nameKeyFromToken recover the const:*/scope:name
// multiset key from an already-built seq token ("const:const:str:ab12cd"
// -> "const:str:ab12cd"), avoiding a second pass over the raw ArgVal.
func constKeyFromToken(token string) string {
	return strings.TrimPrefix(token, "const:")
}

func nameKeyFromToken(token string) string {
	return strings.TrimPrefix(token, "name:")
}

// sigPayload is the JSON shape hashed into a block's signature key.
// encoding/json sorts map keys when marshaling, which is what gives the
// hash its stability across runs.
type sigPayload struct {
	OpSeqHash  string         `json:"op_seq_hash"`
	StackDelta int            `json:"stack_delta"`
	StackMax   int            `json:"stack_max"`
	Consts     map[string]int `json:"consts"`
	Names      map[string]int `json:"names"`
	CallBins   map[string]int `json:"call_bins"`
}

// SigKey reduces a block's invariants to its short signature key.
func SigKey(inv BlockInvariants) string {
	payload := sigPayload{
		OpSeqHash:  bcdisasm.ShortHash(strings.Join(inv.OpSeq, " ")),
		StackDelta: inv.StackDelta,
		StackMax:   inv.StackMax,
		Consts:     inv.Consts,
		Names:      inv.Names,
		CallBins:   inv.CallBins,
	}
	raw, _ := json.Marshal(payload)
	return bcdisasm.ShortHash(string(raw))
}

// BlockSig is one block's published signature, the unit a subsequent
// comparison match is made against.
type BlockSig struct {
	ID         int
	Start      uint32
	Sig        string
	StackDelta int
	StackMax   int
	StackMin   int
	OpSeqHash  string
	Consts     map[string]int
	Names      map[string]int
	CallBins   map[string]int
}

// Blocks signs every block and tallies how often each signature recurs
// within the unit (block_sig_counts).
func Blocks(table *bcopcode.Table, blocks []bccfg.Block) ([]BlockSig, map[string]int) {
	sigs := make([]BlockSig, 0, len(blocks))
	counts := map[string]int{}
	for _, b := range blocks {
		inv := Invariants(table, b)
		key := SigKey(inv)
		sigs = append(sigs, BlockSig{
			ID:         b.ID,
			Start:      b.Start,
			Sig:        key,
			StackDelta: inv.StackDelta,
			StackMax:   inv.StackMax,
			StackMin:   inv.StackMin,
			OpSeqHash:  bcdisasm.ShortHash(strings.Join(inv.OpSeq, " ")),
			Consts:     inv.Consts,
			Names:      inv.Names,
			CallBins:   inv.CallBins,
		})
		counts[key]++
	}
	return sigs, counts
}

// EdgeSigCounts renders each edge as "<src-sig>:<kind>:<dst-sig>" and
// tallies occurrences, the multiset the comparator's edge-Jaccard score
// runs over.
func EdgeSigCounts(edges []bccfg.Edge, blockSigs []BlockSig) map[string]int {
	sigByID := make(map[int]string, len(blockSigs))
	for _, b := range blockSigs {
		sigByID[b.ID] = b.Sig
	}
	counts := map[string]int{}
	for _, e := range edges {
		src, okS := sigByID[e.Src]
		dst, okD := sigByID[e.Dst]
		if !okS || !okD || src == "" || dst == "" {
			continue
		}
		key := src + ":" + string(e.Kind) + ":" + dst
		counts[key]++
	}
	return counts
}

// CFGSig is the unit-level control-flow shape summary.
type CFGSig struct {
	BlockCount int
	EdgeCount  int
	LoopEdges  int
}

// ComputeCFGSig counts back-edges (an edge whose destination block starts
// at or before its source), the cheap loop indicator the comparator uses
// alongside block/edge Jaccard.
func ComputeCFGSig(blocks []bccfg.Block, edges []bccfg.Edge) CFGSig {
	starts := make(map[int]uint32, len(blocks))
	for _, b := range blocks {
		starts[b.ID] = b.Start
	}
	loopEdges := 0
	for _, e := range edges {
		if starts[e.Dst] <= starts[e.Src] {
			loopEdges++
		}
	}
	return CFGSig{BlockCount: len(blocks), EdgeCount: len(edges), LoopEdges: loopEdges}
}
