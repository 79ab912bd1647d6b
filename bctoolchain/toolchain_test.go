package bctoolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joelreymont/pez/bcopcode"
)

// writeFakeInterpreter writes a shell script that ignores every argument
// and prints a fixed "major.minor" line, standing in for `python -c
// "...version_info..."` without needing a real CPython on the test box.
func writeFakeInterpreter(t *testing.T, path, version string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter script requires a POSIX shell")
	}
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' '%s'\n", version)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func TestProbeReportsVersionFromFakeInterpreter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fakepy")
	writeFakeInterpreter(t, path, "3.11")

	ver, err := Probe(path, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, bcopcode.Version{Major: 3, Minor: 11}, ver)
}

func TestProbeReportsToolFailureOnUnparseableOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fakepy")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho garbage\n"), 0o755))

	_, err := Probe(path, 5*time.Second)
	require.Error(t, err)
}

func TestLocateAcceptsExplicitRequestedInterpreter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fakepy")
	writeFakeInterpreter(t, path, "3.11")

	want := bcopcode.Version{Major: 3, Minor: 11}
	interp, err := Locate(path, want, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, path, interp.Path)
	require.Equal(t, want, interp.Version)
	require.False(t, interp.VersionMismatch)
}

func TestLocateFlagsVersionMismatchOnExplicitInterpreter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fakepy")
	writeFakeInterpreter(t, path, "3.9")

	want := bcopcode.Version{Major: 3, Minor: 11}
	interp, err := Locate(path, want, 5*time.Second)
	require.NoError(t, err)
	require.True(t, interp.VersionMismatch)
}

func TestLocateRejectsUnreachableExplicitInterpreter(t *testing.T) {
	_, err := Locate(filepath.Join(t.TempDir(), "does-not-exist"), bcopcode.Version{Major: 3, Minor: 11}, 5*time.Second)
	require.Error(t, err)
}

func TestCompileSourceInvokesInterpreterWithSrcDstAndDfile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter script requires a POSIX shell")
	}
	dir := t.TempDir()
	fakePy := filepath.Join(dir, "fakepy")
	// $4 is dst (argv: -c, code, src, dst, dfile) when invoked as a shell script.
	require.NoError(t, os.WriteFile(fakePy, []byte("#!/bin/sh\necho compiled > \"$4\"\n"), 0o755))

	src := filepath.Join(dir, "mod.py")
	require.NoError(t, os.WriteFile(src, []byte("x = 1\n"), 0o644))
	dst := filepath.Join(dir, "mod.pyc")

	err := CompileSource(fakePy, src, dst, "orig.py", 5*time.Second)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "compiled\n", string(data))
}

func TestCompileSourceReportsToolFailureOnNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter script requires a POSIX shell")
	}
	dir := t.TempDir()
	fakePy := filepath.Join(dir, "fakepy")
	require.NoError(t, os.WriteFile(fakePy, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	err := CompileSource(fakePy, filepath.Join(dir, "mod.py"), filepath.Join(dir, "mod.pyc"), "", 5*time.Second)
	require.Error(t, err)
}

func TestNewScratchPathJoinsOntoDir(t *testing.T) {
	s, err := NewScratch("pez-test-", false)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, filepath.Join(s.Dir, "compiled.pyc"), s.Path("compiled.pyc"))
	_, statErr := os.Stat(s.Dir)
	require.NoError(t, statErr)
}

func TestScratchCloseRemovesDirUnlessKept(t *testing.T) {
	s, err := NewScratch("pez-test-", false)
	require.NoError(t, err)
	dir := s.Dir
	require.NoError(t, s.Close())
	_, statErr := os.Stat(dir)
	require.True(t, os.IsNotExist(statErr))

	kept, err := NewScratch("pez-test-keep-", true)
	require.NoError(t, err)
	require.NoError(t, kept.Close())
	_, statErr = os.Stat(kept.Dir)
	require.NoError(t, statErr)
	require.NoError(t, os.RemoveAll(kept.Dir))
}

func TestLoadConfigDefaultsTimeout(t *testing.T) {
	os.Unsetenv("PEZ_PYTHON")
	os.Unsetenv("PEZ_TIMEOUT")
	os.Unsetenv("PEZ_KEEP_TEMP")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 120*time.Second, cfg.Timeout)
	require.False(t, cfg.KeepTemp)
}
