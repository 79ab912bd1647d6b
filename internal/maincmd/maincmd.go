// Package maincmd implements pez's command dispatch: flag parsing and
// reflection-based routing from a subcommand name to the Cmd method that
// implements it, the same shape the teacher tool this verifier grew out
// of uses for its own subcommands.
package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/mna/mainer"
	"go.uber.org/zap"

	"github.com/joelreymont/pez/bclocate"
)

const binName = "pez"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> [<arg>...]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> [<arg>...]
       %[1]s -h|--help
       %[1]s -v|--version

Verifies that a decompiled Python source file reproduces the bytecode
of the compiled artifact it was decompiled from.

The <command> can be one of:
       compare                   Compare every code unit of --orig
                                 against --src and print a similarity
                                 report.
       locate                   Find the first instruction at which
                                 --orig and --src diverge for --path.
       minimize                 Delta-debug --src down to the smallest
                                 source that still reproduces --path.
       report                   Batch-compare a directory of artifacts
                                 against a directory of decompiled
                                 sources.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.

Valid flag options for <compare>, <locate> and <minimize>:
       --orig <path>             Path to the original compiled artifact.
       --src <path>              Path to the decompiled source.
       --py <path>               Interpreter to compile --src with.
       --timeout <seconds>       Timeout per toolchain invocation.
       --out <path>              Write the JSON report (for <minimize>,
                                 the minimized source) to this path.
       --keep-temp               Keep scratch directories on exit.

Valid flag options for <compare>:
       --avg-ratio <f>           Minimum average sequence ratio.
       --min-unit-ratio <f>      Minimum per-unit sequence ratio.
       --min-count-jaccard <f>   Minimum average opcode-count Jaccard.
       --min-block-jaccard <f>   Minimum average block-signature Jaccard.
       --min-edge-jaccard <f>    Minimum average edge-signature Jaccard.
       --min-semantic-score <f>  Minimum average semantic score.

Valid flag options for <locate>:
       --path <dotted-path>      Code object path to locate within.
       --index <n>               Occurrence index when --path is shared
                                 by more than one code object (0-based).
       --context <n>             Instruction context window size
                                 (default 8).

Valid flag options for <minimize>:
       --path <dotted-path>      Code object path to minimize around.
       --index <n>               Occurrence index when --path is shared
                                 by more than one code object (0-based).
       --stats-out <path>        Write minimization stats JSON here.
       --max-iter <n>            Maximum ddmin iterations.

Valid flag options for <report>:
       --orig-dir <path>         Root directory of compiled artifacts.
       --src-dir <path>          Root directory of decompiled sources.
       --report-dir <path>       Write one JSON report per file here.
       --limit <n>               Max files to process (0 = all).
       --concurrency <n>         Max concurrent comparisons.
`, binName)
)

// Cmd holds every flag across every subcommand; Validate checks that the
// flags the invoked command requires are set, and flags that don't apply
// to that command are accepted and ignored.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	Orig     string `flag:"orig"`
	Src      string `flag:"src"`
	Py       string `flag:"py"`
	Timeout  int    `flag:"timeout"`
	Out      string `flag:"out"`
	KeepTemp bool   `flag:"keep-temp"`

	AvgRatio         float64 `flag:"avg-ratio"`
	MinUnitRatio     float64 `flag:"min-unit-ratio"`
	MinCountJaccard  float64 `flag:"min-count-jaccard"`
	MinBlockJaccard  float64 `flag:"min-block-jaccard"`
	MinEdgeJaccard   float64 `flag:"min-edge-jaccard"`
	MinSemanticScore float64 `flag:"min-semantic-score"`

	Path    string `flag:"path"`
	Index   string `flag:"index"`
	Context int    `flag:"context"`

	StatsOut string `flag:"stats-out"`
	MaxIter  int    `flag:"max-iter"`

	OrigDir     string `flag:"orig-dir"`
	SrcDir      string `flag:"src-dir"`
	ReportDir   string `flag:"report-dir"`
	Limit       int    `flag:"limit"`
	Concurrency int    `flag:"concurrency"`

	Logger *zap.Logger

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) { c.args = args }

func (c *Cmd) SetFlags(flags map[string]bool) { c.flags = flags }

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]
	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	switch cmdName {
	case "compare", "locate", "minimize":
		if c.Orig == "" {
			return fmt.Errorf("%s: --orig is required", cmdName)
		}
		if c.Src == "" {
			return fmt.Errorf("%s: --src is required", cmdName)
		}
	case "report":
		if c.OrigDir == "" {
			return fmt.Errorf("%s: --orig-dir is required", cmdName)
		}
		if c.SrcDir == "" {
			return fmt.Errorf("%s: --src-dir is required", cmdName)
		}
	}
	if (cmdName == "locate" || cmdName == "minimize") && c.Path == "" {
		return fmt.Errorf("%s: --path is required", cmdName)
	}
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   true,
		EnvPrefix: strings.ToUpper(binName) + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "logger init: %s\n", err)
		return mainer.Failure
	}
	defer logger.Sync()
	c.Logger = logger

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		return mainer.Failure
	}
	return mainer.Success
}

// occurrenceIndex parses --index, an optional 0-based occurrence number
// for disambiguating a dotted --path shared by more than one code object
// (spec.md §4.7). An unset --index keeps bclocate's plain ambiguity
// check; an explicit one selects that occurrence directly.
func (c *Cmd) occurrenceIndex() (int, error) {
	if c.Index == "" {
		return bclocate.NoIndex, nil
	}
	n, err := strconv.Atoi(c.Index)
	if err != nil {
		return 0, fmt.Errorf("--index: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("--index: must not be negative")
	}
	return n, nil
}

func defaultTimeoutSeconds(c *Cmd) int {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 120
}

func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}
		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
