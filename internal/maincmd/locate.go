package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"
	"go.uber.org/zap"

	"github.com/joelreymont/pez/bclocate"
	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
	"github.com/joelreymont/pez/bctoolchain"
)

// Locate runs the locate subcommand: it recompiles --src against --orig's
// interpreter and reports the first instruction at which --path diverges.
func (c *Cmd) Locate(ctx context.Context, stdio mainer.Stdio, args []string) error {
	origArt, err := bcloader.Load(c.Orig)
	if err != nil {
		c.Logger.Error("load orig failed", zap.Error(err))
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}
	table, err := bcopcode.ForVersion(origArt.Version, origArt.Impl)
	if err != nil {
		return err
	}

	interp, err := bctoolchain.Locate(c.Py, origArt.Version, c.timeout())
	if err != nil {
		return err
	}
	scratch, err := bctoolchain.NewScratch("pez-locate-", c.KeepTemp)
	if err != nil {
		return err
	}
	defer scratch.Close()

	pycPath := scratch.Path("compiled.pyc")
	if err := bctoolchain.CompileSource(interp.Path, c.Src, pycPath, origArt.Root.Filename, c.timeout()); err != nil {
		c.Logger.Error("compile src failed", zap.Error(err))
		return err
	}
	compArt, err := bcloader.Load(pycPath)
	if err != nil {
		return err
	}

	index, err := c.occurrenceIndex()
	if err != nil {
		return err
	}
	contextSize := c.Context
	if contextSize <= 0 {
		contextSize = 8
	}
	result, err := bclocate.Locate(origArt.Root, compArt.Root, table, c.Path, index, contextSize)
	if err != nil {
		c.Logger.Error("locate failed", zap.Error(err))
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}
	return c.writeJSON(stdio, result)
}
