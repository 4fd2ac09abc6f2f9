// Package calibrate runs the calibration stage: it learns the smooth
// per-category response-curve relationship between the observed covariate and
// the count compositions, and produces the posterior point estimates the
// reconstruction stage consumes as fixed priors.
package calibrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tidemark/internal/basis"
	"tidemark/internal/dataset"
	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/logging"
	"tidemark/internal/posterior"
	"tidemark/internal/replica"
)

// Options configures one calibration run.
type Options struct {
	// Table is the raw calibration composition table.
	Table *dataset.Table
	// X holds the observed covariate per observation, aligned with Table rows.
	X []float64

	Basis    basis.Config
	Sampling engine.SamplingConfig // Track is derived, not caller-set
	Chains   int
	Parallel bool
	Workers  int
	Isolate  bool

	// EngineName resolves the sampler; Engine optionally overrides it
	// in-process (tests).
	EngineName string
	Engine     engine.Engine
	Store      handoff.Store

	// RunID names the handoff run; empty generates one.
	RunID string
	// Begin0Threshold is the column-total cutoff for the uninformative
	// category boundary.
	Begin0Threshold int
	// GridPoints sizes the evaluation grid for predictive curves.
	GridPoints int

	Pooling  posterior.PoolPolicy
	PoolSeed int64
}

// Result is the calibration stage output. PosteriorMean/PosteriorSD feed the
// reconstruction stage as fixed prior hyperparameters.
type Result struct {
	Order  []string     `json:"order"`
	Begin0 int          `json:"begin0"`
	Basis  basis.Config `json:"basis"`
	H      int          `json:"h"`

	PosteriorMean map[string]float64 `json:"posterior_mean"`
	PosteriorSD   map[string]float64 `json:"posterior_sd"`

	Curves []posterior.CurvePoint `json:"curves"`

	RHat       map[string]float64 `json:"rhat"`
	Unverified bool               `json:"unverified"`
}

// Run executes the calibration pipeline: category ordering, basis
// construction, model-spec build, replica fan-out, aggregation, the
// convergence gate, and posterior summarization.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := logging.New("calibrate")

	if opts.Table == nil || opts.Table.Rows() == 0 {
		return nil, fmt.Errorf("calibrate: empty composition table")
	}
	if len(opts.X) != opts.Table.Rows() {
		return nil, fmt.Errorf("calibrate: %d covariates for %d observations", len(opts.X), opts.Table.Rows())
	}
	if opts.Chains < 1 {
		return nil, fmt.Errorf("calibrate: need at least one chain")
	}

	// Fixed, data-derived category ranking, computed once here and reused
	// verbatim by reconstruction.
	order := dataset.Order(opts.Table)
	ordered, err := dataset.Reindex(opts.Table, order)
	if err != nil {
		return nil, err
	}
	totals := dataset.ColumnTotals(ordered)
	begin0 := dataset.Begin0(totals, opts.Begin0Threshold)
	if begin0 == 0 {
		return nil, fmt.Errorf("calibrate: no informative categories above threshold %d", opts.Begin0Threshold)
	}

	design, err := basis.Build(opts.Basis, opts.X)
	if err != nil {
		return nil, err
	}
	log.Info("basis built", "observations", ordered.Rows(), "categories", ordered.Cols(),
		"k", design.K, "h", design.H, "begin0", begin0)

	spec, track, err := buildSpec(ordered, design.H, begin0)
	if err != nil {
		return nil, err
	}
	sampling := opts.Sampling
	sampling.Track = track

	payload := &engine.Payload{
		Counts: ordered.Counts,
		Totals: ordered.Totals,
		Basis:  denseToSlices(design),
		H:      design.H,
		Begin0: begin0,

		BasisXL: opts.Basis.XL,
		BasisXR: opts.Basis.XR,
		BasisDX: opts.Basis.DX,
	}

	runID := opts.RunID
	if runID == "" {
		runID = "cal-" + uuid.NewString()
	}

	res, err := replica.Run(ctx, replica.Options{
		RunID:      runID,
		Replicas:   opts.Chains,
		Parallel:   opts.Parallel,
		Workers:    opts.Workers,
		Isolate:    opts.Isolate,
		EngineName: opts.EngineName,
		Engine:     opts.Engine,
		Store:      opts.Store,
		Spec:       spec,
		Payload:    payload,
		Sampling:   sampling,
	})
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		errs := make([]error, len(res.Errors))
		for i, e := range res.Errors {
			errs[i] = e
		}
		return nil, fmt.Errorf("calibrate: %d of %d chains failed: %w",
			len(res.Errors), opts.Chains, errors.Join(errs...))
	}

	arr, err := posterior.Aggregate(opts.Store, res.Refs, opts.Chains)
	if err != nil {
		return nil, err
	}

	diags, err := posterior.Diagnose(arr, track)
	if err != nil {
		return nil, err
	}
	log.Info("diagnostics", "outcome", diags.Describe())

	pooler := posterior.NewPooler(opts.Pooling, opts.PoolSeed)
	sums, err := posterior.SummarizeParams(arr, arr.Names, pooler, posterior.IntervalMeanSD)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Order:         order,
		Begin0:        begin0,
		Basis:         opts.Basis,
		H:             design.H,
		PosteriorMean: make(map[string]float64, len(sums)),
		PosteriorSD:   make(map[string]float64, len(sums)),
		RHat:          diags.RHat,
		Unverified:    diags.Unverified(),
	}
	for name, s := range sums {
		result.PosteriorMean[name] = s.Mean
		result.PosteriorSD[name] = s.SD
	}

	gridPoints := opts.GridPoints
	if gridPoints <= 0 {
		gridPoints = 50
	}
	curves, err := predictiveCurves(arr, opts.Basis, order, begin0, gridPoints, pooler)
	if err != nil {
		return nil, err
	}
	result.Curves = curves

	return result, nil
}

// buildSpec renders the calibration model spec (uniform intercept priors at
// this stage) and derives the tracked parameter list: every category
// intercept plus the smooth coefficients of informative categories.
func buildSpec(t *dataset.Table, h, begin0 int) (engine.ModelSpec, []string, error) {
	priors := make([]engine.PriorSlot, t.Cols())
	for j, label := range t.Labels {
		priors[j] = engine.PriorSlot{Category: label, Family: "uniform"}
	}

	spec, err := engine.BuildModelSpec(engine.ModelParams{
		N: t.Rows(), M: t.Cols(), H: h, Begin0: begin0,
		Priors: priors,
	})
	if err != nil {
		return engine.ModelSpec{}, nil, err
	}

	var track []string
	for j := 1; j <= t.Cols(); j++ {
		track = append(track, fmt.Sprintf("alpha[%d]", j))
	}
	for hh := 1; hh <= h; hh++ {
		for j := 1; j <= begin0; j++ {
			track = append(track, fmt.Sprintf("delta.hj[%d,%d]", hh, j))
		}
	}
	return spec, track, nil
}

// denseToSlices flattens the design matrix for the payload contract.
func denseToSlices(d *basis.Design) [][]float64 {
	rows, cols := d.Z.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			row[j] = d.Z.At(i, j)
		}
		out[i] = row
	}
	return out
}
