// Package bccompare matches two analyzed artifacts unit-by-unit and
// scores how closely they agree: sequence similarity over normalized
// opcodes, Jaccard similarity over per-class counts and block/edge
// signature multisets, and a verdict derived from configurable
// thresholds (spec.md §4.6).
package bccompare

import (
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/joelreymont/pez/bcanalysis"
	"github.com/joelreymont/pez/bcopcode"
)

// Thresholds gates the tier/verdict decisions. Defaults match the
// original comparator's flag defaults.
type Thresholds struct {
	AvgRatio          float64
	MinUnitRatio      float64
	MinCountJaccard   float64
	MinBlockJaccard   float64
	MinEdgeJaccard    float64
	MinSemanticScore  float64
}

// DefaultThresholds returns the comparator's out-of-the-box gate values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AvgRatio:         0.97,
		MinUnitRatio:     0.90,
		MinCountJaccard:  0.95,
		MinBlockJaccard:  0.95,
		MinEdgeJaccard:   0.95,
		MinSemanticScore: 0.95,
	}
}

// Tier is a single unit's comparison verdict.
type Tier string

const (
	TierExact         Tier = "exact"
	TierSemanticEquiv Tier = "semantic_equiv"
	TierMismatch      Tier = "mismatch"
)

// Verdict is the whole-report comparison verdict.
type Verdict string

const (
	VerdictExact    Verdict = "exact"
	VerdictClose    Verdict = "close"
	VerdictMismatch Verdict = "mismatch"
)

// CountDiff lists, in descending magnitude, the keys where a has more
// occurrences than b ("missing" from b) and where b has more ("extra").
type CountDiff struct {
	Missing []KeyCount
	Extra   []KeyCount
}

// KeyCount is one multiset key paired with its surplus count.
type KeyCount struct {
	Key   string
	Count int
}

// Row is one unit's comparison result.
type Row struct {
	Path          string
	LenOrig       int
	LenComp       int
	SeqRatio      float64
	CountJaccard  float64
	BlockJaccard  float64
	EdgeJaccard   float64
	SemanticScore float64
	Exact         bool
	Tier          Tier
	MetaMismatch  []string
	BlockSigDiff  CountDiff
	EdgeSigDiff   CountDiff
}

// Summary is the whole-report aggregate.
type Summary struct {
	OrigVersion       bcopcode.Version
	CompiledVersion   bcopcode.Version
	VersionMismatch   bool
	UnitsCompared     int
	UnitsMissing      []string
	AvgSeqRatio       float64
	AvgCountJaccard   float64
	AvgBlockJaccard   float64
	AvgEdgeJaccard    float64
	AvgSemanticScore  float64
	MinSeqRatio       float64
	MinCountJaccard   float64
	MinBlockJaccard   float64
	MinEdgeJaccard    float64
	MinSemanticScore  float64
	ExactUnits        int
	Verdict           Verdict
	Thresholds        Thresholds
}

// Report is the full comparison result for one artifact pair.
type Report struct {
	Verdict Verdict
	Summary Summary
	Rows    []Row
}

// Compare matches orig's units against comp's by dotted path (using
// per-path occurrence order when a path recurs, e.g. two identically
// named nested comprehensions) and scores every matched pair.
func Compare(orig, comp []*bcanalysis.Unit, origVer, compVer bcopcode.Version, th Thresholds) Report {
	if origVer != compVer {
		return Report{
			Verdict: VerdictMismatch,
			Summary: Summary{
				OrigVersion:     origVer,
				CompiledVersion: compVer,
				VersionMismatch: true,
				Verdict:         VerdictMismatch,
				Thresholds:      th,
			},
		}
	}

	compByPath := map[string][]*bcanalysis.Unit{}
	for _, u := range comp {
		compByPath[u.Path] = append(compByPath[u.Path], u)
	}
	seen := map[string]int{}

	var rows []Row
	var missing []string
	var totalRatio, totalJaccard, totalBlockJ, totalEdgeJ, totalSemantic float64
	minRatio, minJaccard, minBlockJ, minEdgeJ, minSemantic := 1.0, 1.0, 1.0, 1.0, 1.0
	exactUnits := 0

	for _, unit := range orig {
		idx := seen[unit.Path]
		seen[unit.Path] = idx + 1
		candidates := compByPath[unit.Path]
		if idx >= len(candidates) {
			missing = append(missing, unit.Path)
			continue
		}
		other := candidates[idx]

		ratio := seqRatio(unit.NormOps, other.NormOps)
		jac := countJaccard(classCountsToStringMap(unit.OpCounts), classCountsToStringMap(other.OpCounts))
		blockJ := countJaccard(unit.BlockSigCounts, other.BlockSigCounts)
		edgeJ := countJaccard(unit.EdgeSigCounts, other.EdgeSigCounts)
		semantic := semanticScore(blockJ, edgeJ)
		exact := stringsEqual(unit.NormOps, other.NormOps)
		metaMismatch := metaDiff(unit.Meta, other.Meta)
		blockDiff := counterDiff(unit.BlockSigCounts, other.BlockSigCounts, 5)
		edgeDiff := counterDiff(unit.EdgeSigCounts, other.EdgeSigCounts, 5)

		totalRatio += ratio
		totalJaccard += jac
		totalBlockJ += blockJ
		totalEdgeJ += edgeJ
		totalSemantic += semantic
		if ratio < minRatio {
			minRatio = ratio
		}
		if jac < minJaccard {
			minJaccard = jac
		}
		if blockJ < minBlockJ {
			minBlockJ = blockJ
		}
		if edgeJ < minEdgeJ {
			minEdgeJ = edgeJ
		}
		if semantic < minSemantic {
			minSemantic = semantic
		}
		if exact {
			exactUnits++
		}

		tier := TierMismatch
		switch {
		case exact:
			tier = TierExact
		case len(metaMismatch) == 0 && blockJ >= th.MinBlockJaccard && edgeJ >= th.MinEdgeJaccard:
			tier = TierSemanticEquiv
		}

		rows = append(rows, Row{
			Path:          unit.Path,
			LenOrig:       len(unit.NormOps),
			LenComp:       len(other.NormOps),
			SeqRatio:      ratio,
			CountJaccard:  jac,
			BlockJaccard:  blockJ,
			EdgeJaccard:   edgeJ,
			SemanticScore: semantic,
			Exact:         exact,
			Tier:          tier,
			MetaMismatch:  metaMismatch,
			BlockSigDiff:  blockDiff,
			EdgeSigDiff:   edgeDiff,
		})
	}

	totalCount := len(rows)
	var avgRatio, avgJaccard, avgBlockJ, avgEdgeJ, avgSemantic float64
	if totalCount > 0 {
		avgRatio = totalRatio / float64(totalCount)
		avgJaccard = totalJaccard / float64(totalCount)
		avgBlockJ = totalBlockJ / float64(totalCount)
		avgEdgeJ = totalEdgeJ / float64(totalCount)
		avgSemantic = totalSemantic / float64(totalCount)
	} else {
		minRatio, minJaccard, minBlockJ, minEdgeJ, minSemantic = 0, 0, 0, 0, 0
	}

	verdict := VerdictMismatch
	switch {
	case totalCount == 0 || len(missing) > 0:
		verdict = VerdictMismatch
	case exactUnits == totalCount:
		verdict = VerdictExact
	case avgRatio >= th.AvgRatio && minRatio >= th.MinUnitRatio &&
		avgJaccard >= th.MinCountJaccard && avgBlockJ >= th.MinBlockJaccard &&
		avgEdgeJ >= th.MinEdgeJaccard && avgSemantic >= th.MinSemanticScore:
		verdict = VerdictClose
	}

	summary := Summary{
		OrigVersion:      origVer,
		CompiledVersion:  compVer,
		UnitsCompared:    totalCount,
		UnitsMissing:     missing,
		AvgSeqRatio:      avgRatio,
		AvgCountJaccard:  avgJaccard,
		AvgBlockJaccard:  avgBlockJ,
		AvgEdgeJaccard:   avgEdgeJ,
		AvgSemanticScore: avgSemantic,
		MinSeqRatio:      minRatio,
		MinCountJaccard:  minJaccard,
		MinBlockJaccard:  minBlockJ,
		MinEdgeJaccard:   minEdgeJ,
		MinSemanticScore: minSemantic,
		ExactUnits:       exactUnits,
		Verdict:          verdict,
		Thresholds:       th,
	}
	return Report{Verdict: verdict, Summary: summary, Rows: rows}
}

func seqRatio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	m := difflib.NewMatcher(a, b)
	return m.Ratio()
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func classCountsToStringMap(m map[bcopcode.Class]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func countJaccard(a, b map[string]int) float64 {
	keys := map[string]bool{}
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	if len(keys) == 0 {
		return 1.0
	}
	var inter, union int
	for k := range keys {
		av, bv := a[k], b[k]
		if av < bv {
			inter += av
		} else {
			inter += bv
		}
		if av > bv {
			union += av
		} else {
			union += bv
		}
	}
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

func semanticScore(blockJ, edgeJ float64) float64 {
	return 0.4*blockJ + 0.6*edgeJ
}

func metaDiff(a, b bcanalysis.Meta) []string {
	var diffs []string
	if a.ArgCount != b.ArgCount {
		diffs = append(diffs, "argcount")
	}
	if a.PosOnlyCount != b.PosOnlyCount {
		diffs = append(diffs, "posonlyargcount")
	}
	if a.KwOnlyCount != b.KwOnlyCount {
		diffs = append(diffs, "kwonlyargcount")
	}
	if a.NLocals != b.NLocals {
		diffs = append(diffs, "nlocals")
	}
	if a.StackSize != b.StackSize {
		diffs = append(diffs, "stacksize")
	}
	if a.Flags != b.Flags {
		diffs = append(diffs, "flags")
	}
	if a.VarnamesLen != b.VarnamesLen {
		diffs = append(diffs, "varnames_len")
	}
	if !stringsEqual(a.Freevars, b.Freevars) {
		diffs = append(diffs, "freevars")
	}
	if !stringsEqual(a.Cellvars, b.Cellvars) {
		diffs = append(diffs, "cellvars")
	}
	if a.ExceptionTableLen != b.ExceptionTableLen {
		diffs = append(diffs, "exception_table_len")
	}
	if a.ExceptionTableHash != b.ExceptionTableHash {
		diffs = append(diffs, "exception_table_hash")
	}
	slices.Sort(diffs)
	return diffs
}

// counterDiff walks a and b's keys in sorted order (golang.org/x/exp/maps,
// golang.org/x/exp/slices) so two equal-count keys break ties the same way
// on every run, then keeps the top limit entries by descending magnitude.
func counterDiff(a, b map[string]int, limit int) CountDiff {
	aKeys, bKeys := maps.Keys(a), maps.Keys(b)
	slices.Sort(aKeys)
	slices.Sort(bKeys)

	var missing, extra []KeyCount
	for _, k := range aKeys {
		if d := a[k] - b[k]; d > 0 {
			missing = append(missing, KeyCount{Key: k, Count: d})
		}
	}
	for _, k := range bKeys {
		if d := b[k] - a[k]; d > 0 {
			extra = append(extra, KeyCount{Key: k, Count: d})
		}
	}
	byCountThenKey := func(x, y KeyCount) int {
		if x.Count != y.Count {
			return y.Count - x.Count
		}
		return cmpStrings(x.Key, y.Key)
	}
	slices.SortFunc(missing, byCountThenKey)
	slices.SortFunc(extra, byCountThenKey)
	if len(missing) > limit {
		missing = missing[:limit]
	}
	if len(extra) > limit {
		extra = extra[:limit]
	}
	return CountDiff{Missing: missing, Extra: extra}
}

func cmpStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
