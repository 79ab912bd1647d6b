package bccompare

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelreymont/pez/bcanalysis"
	"github.com/joelreymont/pez/bcopcode"
)

func unit(path string, ops []string, blockSigs, edgeSigs map[string]int) *bcanalysis.Unit {
	return &bcanalysis.Unit{
		Path:           path,
		NormOps:        ops,
		OpCounts:       map[bcopcode.Class]int{bcopcode.ClassConst: len(ops)},
		BlockSigCounts: blockSigs,
		EdgeSigCounts:  edgeSigs,
	}
}

func TestSeqRatioIdenticalAndEmpty(t *testing.T) {
	require.Equal(t, 1.0, seqRatio(nil, nil))
	require.Equal(t, 0.0, seqRatio([]string{"a"}, nil))
	require.Equal(t, 1.0, seqRatio([]string{"a", "b"}, []string{"a", "b"}))
}

func TestSeqRatioPartialOverlap(t *testing.T) {
	r := seqRatio([]string{"a", "b", "c"}, []string{"a", "x", "c"})
	require.Greater(t, r, 0.0)
	require.Less(t, r, 1.0)
}

func TestCountJaccardIdenticalIsOne(t *testing.T) {
	a := map[string]int{"x": 2, "y": 1}
	require.Equal(t, 1.0, countJaccard(a, a))
}

func TestCountJaccardDisjointIsZero(t *testing.T) {
	a := map[string]int{"x": 1}
	b := map[string]int{"y": 1}
	require.Equal(t, 0.0, countJaccard(a, b))
}

func TestCountJaccardBothEmptyIsOne(t *testing.T) {
	require.Equal(t, 1.0, countJaccard(map[string]int{}, map[string]int{}))
}

func TestSemanticScoreWeighting(t *testing.T) {
	require.InDelta(t, 0.4, semanticScore(1.0, 0.0), 1e-9)
	require.InDelta(t, 0.6, semanticScore(0.0, 1.0), 1e-9)
	require.InDelta(t, 1.0, semanticScore(1.0, 1.0), 1e-9)
}

func TestMetaDiffListsMismatchesSorted(t *testing.T) {
	a := bcanalysis.Meta{ArgCount: 1, NLocals: 2, Freevars: []string{"f"}}
	b := bcanalysis.Meta{ArgCount: 2, NLocals: 2, Freevars: []string{"g"}}
	diffs := metaDiff(a, b)
	require.Equal(t, []string{"argcount", "freevars"}, diffs)
}

func TestMetaDiffNoneWhenEqual(t *testing.T) {
	a := bcanalysis.Meta{ArgCount: 1, Freevars: []string{"f"}}
	require.Empty(t, metaDiff(a, a))
}

func TestCounterDiffMissingAndExtraWithLimit(t *testing.T) {
	a := map[string]int{"k1": 3, "k2": 1}
	b := map[string]int{"k2": 1, "k3": 5}
	diff := counterDiff(a, b, 5)
	require.Equal(t, []KeyCount{{Key: "k1", Count: 3}}, diff.Missing)
	require.Equal(t, []KeyCount{{Key: "k3", Count: 5}}, diff.Extra)
}

func TestCounterDiffTiesBreakByKeyDeterministically(t *testing.T) {
	a := map[string]int{"b": 2, "a": 2, "c": 2}
	diff := counterDiff(a, map[string]int{}, 5)
	require.Equal(t, []string{"a", "b", "c"}, []string{diff.Missing[0].Key, diff.Missing[1].Key, diff.Missing[2].Key})
}

func TestCounterDiffRespectsLimit(t *testing.T) {
	a := map[string]int{"k1": 5, "k2": 4, "k3": 3}
	diff := counterDiff(a, map[string]int{}, 2)
	require.Len(t, diff.Missing, 2)
	require.Equal(t, "k1", diff.Missing[0].Key)
	require.Equal(t, "k2", diff.Missing[1].Key)
}

func TestCompareVersionMismatchShortCircuits(t *testing.T) {
	orig := bcopcode.Version{Major: 3, Minor: 10}
	comp := bcopcode.Version{Major: 3, Minor: 11}
	report := Compare(nil, nil, orig, comp, DefaultThresholds())
	require.Equal(t, VerdictMismatch, report.Verdict)
	require.True(t, report.Summary.VersionMismatch)
}

func TestCompareExactMatchVerdict(t *testing.T) {
	v := bcopcode.Version{Major: 3, Minor: 11}
	ops := []string{"const:int:1", "return"}
	sigs := map[string]int{"sig1": 1}
	orig := []*bcanalysis.Unit{unit("mod", ops, sigs, sigs)}
	comp := []*bcanalysis.Unit{unit("mod", ops, sigs, sigs)}

	report := Compare(orig, comp, v, v, DefaultThresholds())
	require.Equal(t, VerdictExact, report.Verdict)
	require.Len(t, report.Rows, 1)
	require.True(t, report.Rows[0].Exact)
	require.Equal(t, TierExact, report.Rows[0].Tier)
	require.Equal(t, 1, report.Summary.ExactUnits)
}

func TestCompareMissingUnitForcesMismatch(t *testing.T) {
	v := bcopcode.Version{Major: 3, Minor: 11}
	orig := []*bcanalysis.Unit{unit("mod.missing", []string{"a"}, nil, nil)}
	var comp []*bcanalysis.Unit

	report := Compare(orig, comp, v, v, DefaultThresholds())
	require.Equal(t, VerdictMismatch, report.Verdict)
	require.Equal(t, []string{"mod.missing"}, report.Summary.UnitsMissing)
}

func TestCompareDivergentOpsYieldsMismatchTier(t *testing.T) {
	v := bcopcode.Version{Major: 3, Minor: 11}
	orig := []*bcanalysis.Unit{unit("mod", []string{"const:int:1"}, map[string]int{"a": 1}, map[string]int{"a": 1})}
	comp := []*bcanalysis.Unit{unit("mod", []string{"const:int:2"}, map[string]int{"b": 1}, map[string]int{"b": 1})}

	report := Compare(orig, comp, v, v, DefaultThresholds())
	require.Len(t, report.Rows, 1)
	require.Equal(t, TierMismatch, report.Rows[0].Tier)
	require.False(t, report.Rows[0].Exact)
}

func TestCompareSecondOccurrenceMatchesByOrderForRecurringPaths(t *testing.T) {
	v := bcopcode.Version{Major: 3, Minor: 11}
	orig := []*bcanalysis.Unit{
		unit("mod.<listcomp>", []string{"a"}, nil, nil),
		unit("mod.<listcomp>", []string{"b"}, nil, nil),
	}
	comp := []*bcanalysis.Unit{
		unit("mod.<listcomp>", []string{"a"}, nil, nil),
		unit("mod.<listcomp>", []string{"b"}, nil, nil),
	}
	report := Compare(orig, comp, v, v, DefaultThresholds())
	require.Len(t, report.Rows, 2)
	require.True(t, report.Rows[0].Exact)
	require.True(t, report.Rows[1].Exact)
}
