// Package validate cross-validates a calibration dataset: it holds out each
// fold in turn, calibrates on the remainder, reconstructs the held-out
// covariates, and scores the reconstructions against the known values.
package validate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"tidemark/internal/basis"
	"tidemark/internal/calibrate"
	"tidemark/internal/dataset"
	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/logging"
	"tidemark/internal/posterior"
	"tidemark/internal/reconstruct"
)

// Options configures one cross-validation run.
type Options struct {
	// Table is the full calibration composition table.
	Table *dataset.Table
	// X holds the known covariate per observation, aligned with Table rows.
	X []float64

	// Folds is the number of held-out partitions. Every observation lands
	// in exactly one fold.
	Folds int
	// Seed drives the fold assignment shuffle; equal seeds give equal
	// partitions.
	Seed int64

	Basis    basis.Config
	Sampling engine.SamplingConfig
	Chains   int

	// Parallel runs folds concurrently. Chains inside a fold always run
	// sequentially; the fold is the unit of fan-out here.
	Parallel bool
	Workers  int

	EngineName string
	Engine     engine.Engine
	Store      handoff.Store

	// RunID prefixes the per-fold handoff runs; empty generates one.
	RunID string

	Begin0Threshold int
	Pooling         posterior.PoolPolicy
	PoolSeed        int64
}

// FoldError tags a failure with the fold it occurred in.
type FoldError struct {
	Fold int
	Err  error
}

func (e *FoldError) Error() string { return fmt.Sprintf("fold %d: %v", e.Fold, e.Err) }

func (e *FoldError) Unwrap() error { return e.Err }

// FoldResult holds one fold's held-out reconstructions.
type FoldResult struct {
	Fold       int
	Test       []int // row indices of the full table held out in this fold
	Rows       []posterior.Reconstruction
	Unverified bool
}

// Metrics scores reconstructions against known covariates.
type Metrics struct {
	// RMSE is the root mean squared reconstruction error.
	RMSE float64
	// Bias is the mean signed error (estimate minus truth).
	Bias float64
	// Coverage is the fraction of known values inside their 95% credible
	// interval.
	Coverage float64
	// N is the number of scored observations.
	N int
}

// Result is the cross-validation output. Rows collects all held-out
// reconstructions in fold order.
type Result struct {
	Folds      []FoldResult
	Rows       []posterior.Reconstruction
	Metrics    Metrics
	Unverified bool
}

// Run executes k-fold cross-validation. Folds fan out like replicas do in the
// sampling stages: failures are tagged per fold and reported together, and
// completed folds are still scored.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := logging.New("validate")

	if opts.Table == nil || opts.Table.Rows() == 0 {
		return nil, fmt.Errorf("validate: empty composition table")
	}
	n := opts.Table.Rows()
	if len(opts.X) != n {
		return nil, fmt.Errorf("validate: %d covariates for %d observations", len(opts.X), n)
	}
	if opts.Folds < 2 {
		return nil, fmt.Errorf("validate: need at least 2 folds, got %d", opts.Folds)
	}
	if opts.Folds > n {
		return nil, fmt.Errorf("validate: %d folds for %d observations", opts.Folds, n)
	}

	runID := opts.RunID
	if runID == "" {
		runID = "val-" + uuid.NewString()
	}

	folds := partition(n, opts.Folds, opts.Seed)
	results := make([]*FoldResult, opts.Folds)
	errs := make([]error, opts.Folds)

	workers := foldWorkers(opts)
	log.Info("cross-validation started", "run", runID, "observations", n,
		"folds", opts.Folds, "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for f := range folds {
		g.Go(func() error {
			res, err := runFold(gctx, opts, runID, f, folds[f])
			if err != nil {
				errs[f] = &FoldError{Fold: f, Err: err}
				return nil
			}
			results[f] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &Result{}
	var failures []error
	for f := range results {
		if errs[f] != nil {
			failures = append(failures, errs[f])
			continue
		}
		out.Folds = append(out.Folds, *results[f])
		out.Rows = append(out.Rows, results[f].Rows...)
		out.Unverified = out.Unverified || results[f].Unverified
	}
	out.Metrics = Score(out.Rows)

	if len(failures) > 0 {
		log.Error("cross-validation incomplete", "run", runID,
			"failed", len(failures), "completed", len(out.Folds))
		return out, fmt.Errorf("validate: %d of %d folds failed: %w",
			len(failures), opts.Folds, errors.Join(failures...))
	}
	log.Info("cross-validation finished", "run", runID,
		"scored", out.Metrics.N, "rmse", out.Metrics.RMSE,
		"coverage", out.Metrics.Coverage, "unverified", out.Unverified)
	return out, nil
}

// runFold calibrates on everything outside the fold and reconstructs the
// held-out rows. Both inner stages run their chains sequentially; the fold
// is the only level that fans out.
func runFold(ctx context.Context, opts Options, runID string, fold int, test []int) (*FoldResult, error) {
	var train []int
	inTest := make(map[int]bool, len(test))
	for _, i := range test {
		inTest[i] = true
	}
	for i := 0; i < opts.Table.Rows(); i++ {
		if !inTest[i] {
			train = append(train, i)
		}
	}

	trainTable, err := dataset.Subset(opts.Table, train)
	if err != nil {
		return nil, err
	}
	testTable, err := dataset.Subset(opts.Table, test)
	if err != nil {
		return nil, err
	}
	trainX := make([]float64, len(train))
	for i, row := range train {
		trainX[i] = opts.X[row]
	}
	testX := make([]float64, len(test))
	for i, row := range test {
		testX[i] = opts.X[row]
	}

	cal, err := calibrate.Run(ctx, calibrate.Options{
		Table:           trainTable,
		X:               trainX,
		Basis:           opts.Basis,
		Sampling:        opts.Sampling,
		Chains:          opts.Chains,
		Parallel:        false,
		EngineName:      opts.EngineName,
		Engine:          opts.Engine,
		Store:           opts.Store,
		RunID:           fmt.Sprintf("%s-fold-%d-cal", runID, fold),
		Begin0Threshold: opts.Begin0Threshold,
		Pooling:         opts.Pooling,
		PoolSeed:        opts.PoolSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}

	rec, err := reconstruct.Run(ctx, reconstruct.Options{
		Calibration: cal,
		Table:       testTable,
		Truth:       testX,
		Sampling:    opts.Sampling,
		Chains:      opts.Chains,
		Parallel:    false,
		EngineName:  opts.EngineName,
		Engine:      opts.Engine,
		Store:       opts.Store,
		RunID:       fmt.Sprintf("%s-fold-%d-rec", runID, fold),
		Pooling:     opts.Pooling,
		PoolSeed:    opts.PoolSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("reconstruction: %w", err)
	}

	return &FoldResult{
		Fold:       fold,
		Test:       test,
		Rows:       rec.Rows,
		Unverified: cal.Unverified || rec.Unverified,
	}, nil
}

// partition shuffles the row indices with the given seed and splits them into
// k near-equal folds. Indices inside each fold come back sorted so the fold
// membership is readable in reports.
func partition(n, k int, seed int64) [][]int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	folds := make([][]int, k)
	for i, row := range idx {
		folds[i%k] = append(folds[i%k], row)
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

func foldWorkers(opts Options) int {
	if !opts.Parallel || opts.Folds == 1 {
		return 1
	}
	w := opts.Workers
	if w <= 0 {
		w = runtime.NumCPU() - 1
	}
	if w < 1 {
		w = 1
	}
	if w > opts.Folds {
		w = opts.Folds
	}
	return w
}

// WriteMetricsCSV writes the accuracy report as a single-row CSV table.
func WriteMetricsCSV(w io.Writer, m Metrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rmse", "bias", "coverage", "n"}); err != nil {
		return err
	}
	row := []string{
		strconv.FormatFloat(m.RMSE, 'g', -1, 64),
		strconv.FormatFloat(m.Bias, 'g', -1, 64),
		strconv.FormatFloat(m.Coverage, 'g', -1, 64),
		strconv.Itoa(m.N),
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Score computes accuracy metrics over reconstructions that carry a known
// covariate. Rows without ground truth are skipped.
func Score(rows []posterior.Reconstruction) Metrics {
	var diffs []float64
	var covered int
	for _, r := range rows {
		if r.Truth == nil {
			continue
		}
		diffs = append(diffs, r.Estimate-*r.Truth)
		if *r.Truth >= r.Lower && *r.Truth <= r.Upper {
			covered++
		}
	}
	if len(diffs) == 0 {
		return Metrics{}
	}

	var sq float64
	for _, d := range diffs {
		sq += d * d
	}
	return Metrics{
		RMSE:     math.Sqrt(sq / float64(len(diffs))),
		Bias:     stat.Mean(diffs, nil),
		Coverage: float64(covered) / float64(len(diffs)),
		N:        len(diffs),
	}
}
