package maincmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mna/mainer"
	"go.uber.org/zap"

	"github.com/joelreymont/pez/bccompare"
)

// Compare runs the compare subcommand: it loads --orig, recompiles --src
// with --py, and prints a similarity report for every code unit.
func (c *Cmd) Compare(ctx context.Context, stdio mainer.Stdio, args []string) error {
	th := c.thresholds()
	report, err := bccompare.CompareFiles(c.Orig, c.Src, c.Py, c.timeout(), c.KeepTemp, th)
	if err != nil {
		c.Logger.Error("compare failed", zap.Error(err))
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}
	return c.writeJSON(stdio, report)
}

func (c *Cmd) thresholds() bccompare.Thresholds {
	th := bccompare.DefaultThresholds()
	if c.AvgRatio > 0 {
		th.AvgRatio = c.AvgRatio
	}
	if c.MinUnitRatio > 0 {
		th.MinUnitRatio = c.MinUnitRatio
	}
	if c.MinCountJaccard > 0 {
		th.MinCountJaccard = c.MinCountJaccard
	}
	if c.MinBlockJaccard > 0 {
		th.MinBlockJaccard = c.MinBlockJaccard
	}
	if c.MinEdgeJaccard > 0 {
		th.MinEdgeJaccard = c.MinEdgeJaccard
	}
	if c.MinSemanticScore > 0 {
		th.MinSemanticScore = c.MinSemanticScore
	}
	return th
}

func (c *Cmd) timeout() time.Duration {
	return time.Duration(defaultTimeoutSeconds(c)) * time.Second
}

func (c *Cmd) writeJSON(stdio mainer.Stdio, v interface{}) error {
	enc := json.NewEncoder(stdio.Stdout)
	enc.SetIndent("", "  ")
	if c.Out != "" {
		return writeJSONFile(c.Out, v)
	}
	return enc.Encode(v)
}
