package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"go.uber.org/zap"

	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcminimize"
)

// Minimize runs the minimize subcommand: it delta-debugs --src down to the
// smallest source that still reproduces --path's raw instruction stream
// against --orig.
func (c *Cmd) Minimize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	origArt, err := bcloader.Load(c.Orig)
	if err != nil {
		c.Logger.Error("load orig failed", zap.Error(err))
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	source, err := os.ReadFile(c.Src)
	if err != nil {
		return err
	}

	index, err := c.occurrenceIndex()
	if err != nil {
		return err
	}
	sameUnit := bcminimize.NewSameUnit(origArt.Root, origArt.Version, c.Path, index, c.Py, origArt.Root.Filename, c.timeout())

	maxIter := c.MaxIter
	if maxIter <= 0 {
		maxIter = 1000
	}
	minimized, stats, err := bcminimize.Minimize(string(source), c.Path, sameUnit, maxIter)
	if err != nil {
		c.Logger.Error("minimize failed", zap.Error(err))
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	if c.Out != "" {
		if err := os.WriteFile(c.Out, []byte(minimized), 0o644); err != nil {
			return err
		}
	} else {
		fmt.Fprint(stdio.Stdout, minimized)
	}

	if c.StatsOut != "" {
		if err := writeJSONFile(c.StatsOut, stats); err != nil {
			return err
		}
	}
	c.Logger.Info("minimize done",
		zap.Int("iterations", stats.Iterations),
		zap.Int("removed", stats.Removed))
	return nil
}
