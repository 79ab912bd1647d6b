// Package bctoolchain locates a CPython interpreter able to compile a
// given decompiled source back to bytecode, invokes it with a bounded
// timeout, and manages the scratch directory that invocation needs
// (spec.md §4.9, §5).
package bctoolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"

	"github.com/joelreymont/pez/bcerr"
	"github.com/joelreymont/pez/bcopcode"
)

// Config is the toolchain's environment-bound configuration, following
// the rest of this verifier's ambient config convention.
type Config struct {
	Python   string        `env:"PEZ_PYTHON"`
	Timeout  time.Duration `env:"PEZ_TIMEOUT" envDefault:"120s"`
	KeepTemp bool          `env:"PEZ_KEEP_TEMP" envDefault:"false"`
}

// LoadConfig binds Config from the process environment.
func LoadConfig() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, bcerr.Wrap(bcerr.InternalInvariant, err, "parsing toolchain config")
	}
	return c, nil
}

// Interpreter is a located CPython executable and the version it
// reports, plus whether that version had to be accepted as a fallback
// rather than an exact match for the requested one.
type Interpreter struct {
	Path            string
	Version         bcopcode.Version
	VersionMismatch bool
}

// Locate resolves an interpreter able to compile source for want: an
// explicit path if requested is non-empty, else a PATH lookup for
// pythonMAJOR.MINOR, else the newest matching per-user install under
// ~/.local/share/uv/python, else the current interpreter with
// VersionMismatch set if nothing closer is found.
func Locate(requested string, want bcopcode.Version, timeout time.Duration) (Interpreter, error) {
	if requested != "" {
		ver, err := Probe(requested, timeout)
		if err != nil {
			return Interpreter{}, bcerr.Wrap(bcerr.ToolNotFound, err, fmt.Sprintf("probing requested interpreter %q", requested))
		}
		return Interpreter{Path: requested, Version: ver, VersionMismatch: ver != want}, nil
	}

	name := fmt.Sprintf("python%d.%d", want.Major, want.Minor)
	if path, err := exec.LookPath(name); err == nil {
		if ver, err := Probe(path, timeout); err == nil && ver == want {
			return Interpreter{Path: path, Version: ver}, nil
		}
	}

	if path, ver, ok := findUVPython(want, timeout); ok {
		return Interpreter{Path: path, Version: ver}, nil
	}

	current := os.Args[0]
	ver, err := Probe(current, timeout)
	if err != nil {
		return Interpreter{}, bcerr.New(bcerr.ToolNotFound, fmt.Sprintf("no interpreter found for %s and current binary did not self-report a version", want))
	}
	return Interpreter{Path: current, Version: ver, VersionMismatch: ver != want}, nil
}

func findUVPython(want bcopcode.Version, timeout time.Duration) (string, bcopcode.Version, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", bcopcode.Version{}, false
	}
	root := filepath.Join(home, ".local", "share", "uv", "python")
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", bcopcode.Version{}, false
	}
	prefix := fmt.Sprintf("cpython-%d.%d.", want.Major, want.Minor)
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, n := range names {
		exe := filepath.Join(root, n, "bin", fmt.Sprintf("python%d.%d", want.Major, want.Minor))
		if _, err := os.Stat(exe); err == nil {
			if ver, err := Probe(exe, timeout); err == nil && ver == want {
				return exe, ver, true
			}
		}
	}
	return "", bcopcode.Version{}, false
}

// Probe shells out to report sys.version_info's (major, minor) pair.
func Probe(path string, timeout time.Duration) (bcopcode.Version, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, "-c", "import sys;print(f\"{sys.version_info.major}.{sys.version_info.minor}\")")
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return bcopcode.Version{}, bcerr.Wrap(bcerr.ToolTimeout, ctx.Err(), "probing interpreter version")
		}
		return bcopcode.Version{}, bcerr.Wrap(bcerr.ToolFailure, err, "probing interpreter version")
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), ".", 2)
	if len(parts) != 2 {
		return bcopcode.Version{}, bcerr.New(bcerr.ToolFailure, "unrecognized version output")
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return bcopcode.Version{}, bcerr.New(bcerr.ToolFailure, "unparseable version output")
	}
	return bcopcode.Version{Major: major, Minor: minor}, nil
}

// CompileSource invokes py at python level to compile src into a .pyc at
// dst, using py_compile so the interpreter's own compiler (not this
// verifier's loader) produces the artifact. When origFilename is
// non-empty it is passed as py_compile's dfile, so the compiled unit's
// co_filename matches the original artifact's rather than src's own
// scratch-directory path — filename-preserving compilation, needed
// because the comparator's path matching is otherwise undisturbed by
// filenames but downstream tooling that reports co_filename would
// otherwise point at a throwaway temp file.
func CompileSource(py, src, dst, origFilename string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	code := "import py_compile, sys\n" +
		"src = sys.argv[1]\n" +
		"dst = sys.argv[2]\n" +
		"dfile = sys.argv[3] or None\n" +
		"py_compile.compile(src, cfile=dst, dfile=dfile, doraise=True)\n"

	cmd := exec.CommandContext(ctx, py, "-c", code, src, dst, origFilename)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return bcerr.Wrap(bcerr.ToolTimeout, ctx.Err(), "compiling source")
		}
		return bcerr.Wrap(bcerr.ToolFailure, fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err), "compiling source")
	}
	return nil
}

// Scratch is a lifecycle-managed temp directory for one toolchain
// invocation's intermediate files.
type Scratch struct {
	Dir  string
	keep bool
}

// NewScratch creates a fresh scratch directory. When keep is false,
// Close removes it and everything under it.
func NewScratch(prefix string, keep bool) (*Scratch, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.InternalInvariant, err, "creating scratch directory")
	}
	return &Scratch{Dir: dir, keep: keep}, nil
}

// Path joins name onto the scratch directory.
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Close removes the scratch directory unless it was created with
// keep=true, in which case its path is left on disk for inspection.
func (s *Scratch) Close() error {
	if s.keep {
		return nil
	}
	return os.RemoveAll(s.Dir)
}
