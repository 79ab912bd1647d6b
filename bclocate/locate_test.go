package bclocate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelreymont/pez/bcerr"
	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
)

func mustTable(t *testing.T) *bcopcode.Table {
	t.Helper()
	table, err := bcopcode.ForVersion(bcopcode.Version{Major: 3, Minor: 11}, bcopcode.CPython)
	require.NoError(t, err)
	return table
}

func wordcode(t *testing.T, table *bcopcode.Table, pairs ...[2]interface{}) []byte {
	t.Helper()
	var code []byte
	for _, p := range pairs {
		name := p[0].(string)
		arg := byte(p[1].(int))
		b, ok := table.OpcodeByte(name)
		require.True(t, ok, "no byte for %s", name)
		code = append(code, b, arg)
	}
	return code
}

func buildRootWithNested(names ...string) *bcloader.CodeObject {
	root := &bcloader.CodeObject{Name: "<module>"}
	for _, n := range names {
		root.Consts = append(root.Consts, &bcloader.CodeObject{Name: n})
	}
	return root
}

func TestFindByPathExactMatch(t *testing.T) {
	root := buildRootWithNested("foo", "bar")
	path, code, err := FindByPath(root, "<module>.foo", NoIndex)
	require.NoError(t, err)
	require.Equal(t, "<module>.foo", path)
	require.Equal(t, "foo", code.Name)
}

func TestFindByPathSuffixMatch(t *testing.T) {
	root := buildRootWithNested("foo", "bar")
	path, code, err := FindByPath(root, "bar", NoIndex)
	require.NoError(t, err)
	require.Equal(t, "<module>.bar", path)
	require.Equal(t, "bar", code.Name)
}

func TestFindByPathMissingReturnsPathMissing(t *testing.T) {
	root := buildRootWithNested("foo")
	_, _, err := FindByPath(root, "nope", NoIndex)
	require.Error(t, err)
	var be *bcerr.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, bcerr.PathMissing, be.Kind)
}

func TestFindByPathAmbiguousReturnsPathAmbiguous(t *testing.T) {
	root := buildRootWithNested("dup", "dup")
	_, _, err := FindByPath(root, "dup", NoIndex)
	require.Error(t, err)
	var be *bcerr.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, bcerr.PathAmbiguous, be.Kind)
}

func TestFindByPathIndexSelectsKthDuplicateOccurrence(t *testing.T) {
	root := buildRootWithNested("dup", "dup")
	first := root.Consts[0].(*bcloader.CodeObject)
	second := root.Consts[1].(*bcloader.CodeObject)

	path0, code0, err := FindByPath(root, "dup", 0)
	require.NoError(t, err)
	require.Equal(t, "<module>.dup", path0)
	require.Same(t, first, code0)

	path1, code1, err := FindByPath(root, "dup", 1)
	require.NoError(t, err)
	require.Equal(t, "<module>.dup", path1)
	require.Same(t, second, code1)
}

func TestFindByPathIndexOutOfRangeReturnsPathMissing(t *testing.T) {
	root := buildRootWithNested("dup", "dup")
	_, _, err := FindByPath(root, "dup", 2)
	require.Error(t, err)
	var be *bcerr.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, bcerr.PathMissing, be.Kind)
}

func TestLocateReportsNoMismatchForIdenticalStreams(t *testing.T) {
	table := mustTable(t)
	code := func() *bcloader.CodeObject {
		return &bcloader.CodeObject{
			Name:  "<module>",
			Names: []string{"foo", "bar"},
			Code: wordcode(t, table,
				[2]interface{}{"LOAD_CONST", 0},
				[2]interface{}{"LOAD_GLOBAL", 0},
				[2]interface{}{"RETURN_VALUE", 0},
			),
		}
	}
	res, err := Locate(code(), code(), table, "<module>", NoIndex, 2)
	require.NoError(t, err)
	require.Equal(t, -1, res.MismatchIndex)
	require.Nil(t, res.Orig)
	require.Nil(t, res.Comp)
}

func TestLocateFindsFirstDivergingInstruction(t *testing.T) {
	table := mustTable(t)
	origCode := &bcloader.CodeObject{
		Name:  "<module>",
		Names: []string{"foo", "bar"},
		Code: wordcode(t, table,
			[2]interface{}{"LOAD_CONST", 0},
			[2]interface{}{"LOAD_GLOBAL", 0},
			[2]interface{}{"RETURN_VALUE", 0},
		),
	}
	compCode := &bcloader.CodeObject{
		Name:  "<module>",
		Names: []string{"foo", "bar"},
		Code: wordcode(t, table,
			[2]interface{}{"LOAD_CONST", 0},
			[2]interface{}{"LOAD_GLOBAL", 1},
			[2]interface{}{"RETURN_VALUE", 0},
		),
	}

	res, err := Locate(origCode, compCode, table, "<module>", NoIndex, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.MismatchIndex)
	require.Equal(t, "foo", res.Orig.ArgRepr)
	require.Equal(t, "bar", res.Comp.ArgRepr)
	// context window of 1 around index 1 covers indices 0..2
	require.Len(t, res.OrigContext, 3)
	require.Len(t, res.CompContext, 3)
}

func TestLocateTreatsLengthDifferenceAsTrailingMismatch(t *testing.T) {
	table := mustTable(t)
	origCode := &bcloader.CodeObject{
		Name: "<module>",
		Code: wordcode(t, table,
			[2]interface{}{"LOAD_CONST", 0},
			[2]interface{}{"RETURN_VALUE", 0},
		),
	}
	compCode := &bcloader.CodeObject{
		Name: "<module>",
		Code: wordcode(t, table,
			[2]interface{}{"LOAD_CONST", 0},
		),
	}
	res, err := Locate(origCode, compCode, table, "<module>", NoIndex, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.MismatchIndex)
}

func TestLocateIndexResolvesDistinctDuplicatePathOccurrences(t *testing.T) {
	table := mustTable(t)
	dup := func(argByte int) *bcloader.CodeObject {
		return &bcloader.CodeObject{
			Name:  "dup",
			Names: []string{"foo", "bar"},
			Code: wordcode(t, table,
				[2]interface{}{"LOAD_GLOBAL", argByte},
				[2]interface{}{"RETURN_VALUE", 0},
			),
		}
	}
	origRoot := &bcloader.CodeObject{Name: "<module>", Consts: []any{dup(0), dup(0)}}
	// Occurrence 0 diverges in comp; occurrence 1 does not.
	compRoot := &bcloader.CodeObject{Name: "<module>", Consts: []any{dup(1), dup(0)}}

	res0, err := Locate(origRoot, compRoot, table, "dup", 0, 1)
	require.NoError(t, err)
	require.Equal(t, 0, res0.MismatchIndex)

	res1, err := Locate(origRoot, compRoot, table, "dup", 1, 1)
	require.NoError(t, err)
	require.Equal(t, -1, res1.MismatchIndex)
}
