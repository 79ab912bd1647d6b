package bcsig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelreymont/pez/bccfg"
	"github.com/joelreymont/pez/bcdisasm"
	"github.com/joelreymont/pez/bcopcode"
)

func mustTable(t *testing.T) *bcopcode.Table {
	t.Helper()
	table, err := bcopcode.ForVersion(bcopcode.Version{Major: 3, Minor: 11}, bcopcode.CPython)
	require.NoError(t, err)
	return table
}

func norm(offset uint32, opname string, arg uint32, token string) bcdisasm.NormalizedInstruction {
	return bcdisasm.NormalizedInstruction{Offset: offset, OpName: opname, Arg: arg, Token: token}
}

func TestInvariantsTalliesConstsNamesAndCallBins(t *testing.T) {
	table := mustTable(t)
	block := bccfg.Block{ID: 0, Instrs: []bcdisasm.NormalizedInstruction{
		norm(0, "LOAD_CONST", 0, "const:const:int:1"),
		norm(2, "LOAD_GLOBAL", 0, "name:global:foo"),
		norm(4, "CALL", 1, "call:call:1"),
		norm(6, "RETURN_VALUE", 0, "return"),
	}}

	inv := Invariants(table, block)
	require.Equal(t, []string{
		"const:const:int:1", "name:global:foo", "call:call:1", "return",
	}, inv.OpSeq)
	require.Equal(t, 1, inv.Consts["const:int:1"])
	require.Equal(t, 1, inv.Names["global:foo"])
	require.Equal(t, 1, inv.CallBins[bcopcode.ArityBin(1)])
}

func TestInvariantsTracksStackExtrema(t *testing.T) {
	table := mustTable(t)
	block := bccfg.Block{ID: 0, Instrs: []bcdisasm.NormalizedInstruction{
		norm(0, "LOAD_CONST", 0, "const:const:int:1"),
		norm(2, "LOAD_CONST", 0, "const:const:int:2"),
		norm(4, "POP_TOP", 0, "stack"),
	}}
	inv := Invariants(table, block)
	require.Equal(t, 2, inv.StackMax)
	require.Equal(t, 0, inv.StackMin)
	require.Equal(t, 1, inv.StackDelta)
}

func TestSigKeyIsStableAndSensitiveToContent(t *testing.T) {
	a := BlockInvariants{OpSeq: []string{"const:const:int:1"}, Consts: map[string]int{"int:1": 1}}
	b := BlockInvariants{OpSeq: []string{"const:const:int:1"}, Consts: map[string]int{"int:1": 1}}
	c := BlockInvariants{OpSeq: []string{"const:const:int:2"}, Consts: map[string]int{"int:2": 1}}

	require.Equal(t, SigKey(a), SigKey(b))
	require.NotEqual(t, SigKey(a), SigKey(c))
	require.Len(t, SigKey(a), 12)
}

func TestBlocksSignsEveryBlockAndCountsRecurrence(t *testing.T) {
	table := mustTable(t)
	blockA := bccfg.Block{ID: 0, Start: 0, Instrs: []bcdisasm.NormalizedInstruction{
		norm(0, "LOAD_CONST", 0, "const:const:int:1"),
	}}
	blockB := bccfg.Block{ID: 1, Start: 2, Instrs: []bcdisasm.NormalizedInstruction{
		norm(2, "LOAD_CONST", 0, "const:const:int:1"),
	}}
	blockC := bccfg.Block{ID: 2, Start: 4, Instrs: []bcdisasm.NormalizedInstruction{
		norm(4, "LOAD_CONST", 0, "const:const:int:2"),
	}}

	sigs, counts := Blocks(table, []bccfg.Block{blockA, blockB, blockC})
	require.Len(t, sigs, 3)
	require.Equal(t, sigs[0].Sig, sigs[1].Sig)
	require.NotEqual(t, sigs[0].Sig, sigs[2].Sig)
	require.Equal(t, 2, counts[sigs[0].Sig])
	require.Equal(t, 1, counts[sigs[2].Sig])
}

func TestEdgeSigCountsRendersSrcKindDst(t *testing.T) {
	blockSigs := []BlockSig{
		{ID: 0, Sig: "aaa"},
		{ID: 1, Sig: "bbb"},
	}
	edges := []bccfg.Edge{
		{Src: 0, Dst: 1, Kind: bccfg.EdgeFallthrough},
		{Src: 0, Dst: 1, Kind: bccfg.EdgeFallthrough},
	}
	counts := EdgeSigCounts(edges, blockSigs)
	require.Equal(t, 2, counts["aaa:fallthrough:bbb"])
}

func TestEdgeSigCountsSkipsUnknownBlocks(t *testing.T) {
	blockSigs := []BlockSig{{ID: 0, Sig: "aaa"}}
	edges := []bccfg.Edge{{Src: 0, Dst: 99, Kind: bccfg.EdgeJump}}
	counts := EdgeSigCounts(edges, blockSigs)
	require.Empty(t, counts)
}

func TestComputeCFGSigCountsBackEdgesAsLoops(t *testing.T) {
	blocks := []bccfg.Block{
		{ID: 0, Start: 0},
		{ID: 1, Start: 10},
		{ID: 2, Start: 20},
	}
	edges := []bccfg.Edge{
		{Src: 0, Dst: 1, Kind: bccfg.EdgeFallthrough},
		{Src: 1, Dst: 2, Kind: bccfg.EdgeFallthrough},
		{Src: 2, Dst: 1, Kind: bccfg.EdgeJump}, // back-edge: dst starts before src
	}
	sig := ComputeCFGSig(blocks, edges)
	require.Equal(t, 3, sig.BlockCount)
	require.Equal(t, 3, sig.EdgeCount)
	require.Equal(t, 1, sig.LoopEdges)
}
