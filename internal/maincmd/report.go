package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"
	"go.uber.org/zap"

	"github.com/joelreymont/pez/bcreport"
)

// Report runs the report subcommand: it batch-compares every *.pyc under
// --orig-dir against its matching *.py under --src-dir and prints the
// aggregate summary (optionally writing one JSON file per comparison
// under --report-dir).
func (c *Cmd) Report(ctx context.Context, stdio mainer.Stdio, args []string) error {
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	opts := bcreport.Options{
		OrigDir:     c.OrigDir,
		SrcDir:      c.SrcDir,
		Python:      c.Py,
		Timeout:     c.timeout(),
		KeepTemp:    c.KeepTemp,
		Concurrency: concurrency,
		Limit:       c.Limit,
		Thresholds:  c.thresholds(),
	}
	report, err := bcreport.Run(ctx, opts, c.Logger)
	if err != nil {
		c.Logger.Error("report failed", zap.Error(err))
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	if c.ReportDir != "" {
		for _, r := range report.Results {
			dst := fmt.Sprintf("%s/%s.json", c.ReportDir, sanitizeFilename(r.File))
			if err := writeJSONFile(dst, r); err != nil {
				c.Logger.Warn("write per-file report failed", zap.String("file", r.File), zap.Error(err))
			}
		}
	}
	return c.writeJSON(stdio, report.Summary)
}

func sanitizeFilename(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '/', '\\':
			out[i] = '_'
		default:
			out[i] = s[i]
		}
	}
	return string(out)
}
