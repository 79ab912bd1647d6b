package bcreport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joelreymont/pez/bccompare"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestRunMarksFilesWithNoMatchingSourceAsMissingSrc(t *testing.T) {
	origDir := t.TempDir()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(origDir, "a.pyc"), nil)
	writeFile(t, filepath.Join(origDir, "sub", "b.pyc"), nil)

	report, err := Run(context.Background(), Options{
		OrigDir:     origDir,
		SrcDir:      srcDir,
		Concurrency: 2,
		Thresholds:  bccompare.DefaultThresholds(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, report.Summary.Total)
	require.Equal(t, 2, report.Summary.Counts["missing_src"])
	for _, r := range report.Results {
		require.Equal(t, bccompare.Verdict("missing_src"), r.Verdict)
	}
}

func TestRunOnlyWalksPycFiles(t *testing.T) {
	origDir := t.TempDir()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(origDir, "a.pyc"), nil)
	writeFile(t, filepath.Join(origDir, "notes.txt"), nil)

	report, err := Run(context.Background(), Options{
		OrigDir:    origDir,
		SrcDir:     srcDir,
		Thresholds: bccompare.DefaultThresholds(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.Total)
}

func TestRunRespectsLimit(t *testing.T) {
	origDir := t.TempDir()
	srcDir := t.TempDir()
	for _, name := range []string{"a.pyc", "b.pyc", "c.pyc"} {
		writeFile(t, filepath.Join(origDir, name), nil)
	}

	report, err := Run(context.Background(), Options{
		OrigDir:    origDir,
		SrcDir:     srcDir,
		Limit:      2,
		Thresholds: bccompare.DefaultThresholds(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, report.Summary.Total)
}

func TestRunMatchesSourceByRelativePath(t *testing.T) {
	origDir := t.TempDir()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(origDir, "pkg", "mod.pyc"), nil)
	writeFile(t, filepath.Join(srcDir, "pkg", "mod.py"), []byte("x = 1\n"))

	report, err := Run(context.Background(), Options{
		OrigDir:    origDir,
		SrcDir:     srcDir,
		Thresholds: bccompare.DefaultThresholds(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	// The source exists, so the file isn't short-circuited to missing_src;
	// it proceeds to comparison (and fails there, since the empty
	// pkg/mod.pyc isn't a real artifact) instead.
	require.NotEqual(t, bccompare.Verdict("missing_src"), report.Results[0].Verdict)
	require.Equal(t, bccompare.Verdict("error"), report.Results[0].Verdict)
}

func TestRunEmptyOrigDirProducesEmptyReport(t *testing.T) {
	origDir := t.TempDir()
	srcDir := t.TempDir()
	report, err := Run(context.Background(), Options{
		OrigDir:    origDir,
		SrcDir:     srcDir,
		Thresholds: bccompare.DefaultThresholds(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 0, report.Summary.Total)
	require.Empty(t, report.Summary.WorstSeq)
	require.Empty(t, report.Summary.WorstSemantic)
}
