package bcminimize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDDMinRemovesEverythingNotRequired(t *testing.T) {
	stmts := []Statement{
		{Text: "a\n"}, {Text: "b\n"}, {Text: "c\n"}, {Text: "d\n"},
	}
	sameUnit := func(source string) (bool, error) {
		return strings.Contains(source, "b\n"), nil
	}
	finalKeep, stats, err := DDMin(stmts, map[int]bool{}, []int{0, 1, 2, 3}, sameUnit, 100)
	require.NoError(t, err)
	require.True(t, finalKeep[1])
	require.False(t, finalKeep[0])
	require.False(t, finalKeep[2])
	require.False(t, finalKeep[3])
	require.Greater(t, stats.Iterations, 0)
}

func TestDDMinNeverDropsKeepIndices(t *testing.T) {
	stmts := []Statement{
		{Text: "a\n"}, {Text: "b\n"}, {Text: "c\n"},
	}
	sameUnit := func(source string) (bool, error) {
		return true, nil // everything removable is safe to drop
	}
	finalKeep, _, err := DDMin(stmts, map[int]bool{0: true}, []int{1, 2}, sameUnit, 100)
	require.NoError(t, err)
	require.True(t, finalKeep[0])
	require.False(t, finalKeep[1])
	require.False(t, finalKeep[2])
}

func TestDDMinStopsAtMaxIter(t *testing.T) {
	stmts := make([]Statement, 8)
	for i := range stmts {
		stmts[i] = Statement{Text: "x\n"}
	}
	removable := []int{0, 1, 2, 3, 4, 5, 6, 7}
	sameUnit := func(source string) (bool, error) { return false, nil } // never reduces
	_, stats, err := DDMin(stmts, map[int]bool{}, removable, sameUnit, 2)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Iterations)
}

func TestMinimizeProtectsDocstringFutureImportAndTarget(t *testing.T) {
	source := "\"\"\"doc\"\"\"\n" +
		"from __future__ import annotations\n" +
		"import os\n" +
		"def target():\n    return 1\n"

	sameUnit := func(candidate string) (bool, error) {
		return strings.Contains(candidate, "def target"), nil
	}

	out, stats, err := Minimize(source, "<module>.target", sameUnit, 100)
	require.NoError(t, err)
	require.Contains(t, out, `"""doc"""`)
	require.Contains(t, out, "from __future__ import annotations")
	require.Contains(t, out, "def target")
	require.NotContains(t, out, "import os")
	require.GreaterOrEqual(t, stats.Removed, 1)
}

func TestMinimizeReturnsSourceUnchangedWhenNothingIsRemovable(t *testing.T) {
	source := "\"\"\"doc\"\"\"\n"
	sameUnit := func(string) (bool, error) { return true, nil }
	out, stats, err := Minimize(source, "<module>", sameUnit, 100)
	require.NoError(t, err)
	require.Equal(t, source, out)
	require.Equal(t, 0, stats.Removed)
}

func TestBuildSourceConcatenatesInOriginalOrder(t *testing.T) {
	stmts := []Statement{{Text: "1\n"}, {Text: "2\n"}, {Text: "3\n"}}
	require.Equal(t, "1\n3\n", BuildSource(stmts, map[int]bool{0: true, 2: true}))
}
