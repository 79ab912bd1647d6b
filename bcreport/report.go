// Package bcreport batches the comparator over a directory tree of
// original artifacts paired with their decompiled sources, aggregating
// per-verdict counts and the worst-scoring files (spec.md §2 item 10).
package bcreport

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joelreymont/pez/bccompare"
)

// FileResult is one artifact/source pair's comparison outcome.
type FileResult struct {
	File    string
	Verdict bccompare.Verdict
	Summary bccompare.Summary
	Error   string
}

// WorstSeqEntry ranks a file by its weakest sequence-similarity scores.
type WorstSeqEntry struct {
	File            string
	MinSeqRatio     float64
	AvgSeqRatio     float64
	MinCountJaccard float64
}

// WorstSemanticEntry ranks a file by its weakest semantic scores.
type WorstSemanticEntry struct {
	File              string
	MinSemanticScore  float64
	AvgSemanticScore  float64
	MinBlockJaccard   float64
	MinEdgeJaccard    float64
}

// BatchSummary is the aggregate across every pair in the batch.
type BatchSummary struct {
	Total         int
	Counts        map[string]int
	WorstSeq      []WorstSeqEntry
	WorstSemantic []WorstSemanticEntry
}

// BatchReport is the full batch result.
type BatchReport struct {
	Summary BatchSummary
	Results []FileResult
}

// Options configures one batch run.
type Options struct {
	OrigDir     string
	SrcDir      string
	Python      string
	Timeout     time.Duration
	KeepTemp    bool
	Concurrency int
	Limit       int
	Thresholds  bccompare.Thresholds
}

// Run walks Options.OrigDir for *.pyc files, pairs each with the
// matching *.py under Options.SrcDir, and compares every pair
// concurrently (bounded by Options.Concurrency), using an errgroup so a
// hard error in one comparison doesn't strand the others — a synthetic
// "error" verdict is recorded for that file instead of aborting the
// batch, matching the original batch driver's per-file isolation.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (BatchReport, error) {
	var pycFiles []string
	err := filepath.Walk(opts.OrigDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".pyc") {
			pycFiles = append(pycFiles, path)
		}
		return nil
	})
	if err != nil {
		return BatchReport{}, err
	}
	sort.Strings(pycFiles)
	if opts.Limit > 0 && len(pycFiles) > opts.Limit {
		pycFiles = pycFiles[:opts.Limit]
	}

	results := make([]FileResult, len(pycFiles))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for i, pyc := range pycFiles {
		i, pyc := i, pyc
		rel, err := filepath.Rel(opts.OrigDir, pyc)
		if err != nil {
			rel = pyc
		}
		src := filepath.Join(opts.SrcDir, strings.TrimSuffix(rel, ".pyc")+".py")

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if _, err := os.Stat(src); err != nil {
				results[i] = FileResult{File: rel, Verdict: "missing_src"}
				return nil
			}
			report, err := bccompare.CompareFiles(pyc, src, opts.Python, opts.Timeout, opts.KeepTemp, opts.Thresholds)
			if err != nil {
				logger.Warn("compare failed", zap.String("file", rel), zap.Error(err))
				results[i] = FileResult{File: rel, Verdict: "error", Error: err.Error()}
				return nil
			}
			results[i] = FileResult{File: rel, Verdict: report.Verdict, Summary: report.Summary}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchReport{}, err
	}

	counts := map[string]int{}
	var worstSeq []WorstSeqEntry
	var worstSemantic []WorstSemanticEntry
	for _, r := range results {
		counts[string(r.Verdict)]++
		if r.Verdict == "error" || r.Verdict == "missing_src" {
			continue
		}
		worstSeq = append(worstSeq, WorstSeqEntry{
			File:            r.File,
			MinSeqRatio:     r.Summary.MinSeqRatio,
			AvgSeqRatio:     r.Summary.AvgSeqRatio,
			MinCountJaccard: r.Summary.MinCountJaccard,
		})
		worstSemantic = append(worstSemantic, WorstSemanticEntry{
			File:             r.File,
			MinSemanticScore: r.Summary.MinSemanticScore,
			AvgSemanticScore: r.Summary.AvgSemanticScore,
			MinBlockJaccard:  r.Summary.MinBlockJaccard,
			MinEdgeJaccard:   r.Summary.MinEdgeJaccard,
		})
	}
	sort.Slice(worstSeq, func(i, j int) bool {
		if worstSeq[i].MinSeqRatio != worstSeq[j].MinSeqRatio {
			return worstSeq[i].MinSeqRatio < worstSeq[j].MinSeqRatio
		}
		return worstSeq[i].MinCountJaccard < worstSeq[j].MinCountJaccard
	})
	sort.Slice(worstSemantic, func(i, j int) bool {
		if worstSemantic[i].MinSemanticScore != worstSemantic[j].MinSemanticScore {
			return worstSemantic[i].MinSemanticScore < worstSemantic[j].MinSemanticScore
		}
		if worstSemantic[i].MinBlockJaccard != worstSemantic[j].MinBlockJaccard {
			return worstSemantic[i].MinBlockJaccard < worstSemantic[j].MinBlockJaccard
		}
		return worstSemantic[i].MinEdgeJaccard < worstSemantic[j].MinEdgeJaccard
	})
	const worstLimit = 25
	if len(worstSeq) > worstLimit {
		worstSeq = worstSeq[:worstLimit]
	}
	if len(worstSemantic) > worstLimit {
		worstSemantic = worstSemantic[:worstLimit]
	}

	return BatchReport{
		Summary: BatchSummary{
			Total:         len(results),
			Counts:        counts,
			WorstSeq:      worstSeq,
			WorstSemantic: worstSemantic,
		},
		Results: results,
	}, nil
}
