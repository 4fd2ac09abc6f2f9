// Package reconstruct inverts a calibrated response-curve relationship: given
// new, unlabeled count compositions it estimates the latent covariate per
// observation, with credible intervals, using the calibration stage's
// posterior point estimates as fixed priors.
package reconstruct

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tidemark/internal/calibrate"
	"tidemark/internal/dataset"
	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/logging"
	"tidemark/internal/posterior"
	"tidemark/internal/replica"
)

// Options configures one reconstruction run.
type Options struct {
	// Calibration is the persisted output of the calibration stage.
	Calibration *calibrate.Result
	// Table holds the new compositions; columns are reindexed to the
	// calibration category order before dispatch.
	Table *dataset.Table

	// XLower/XUpper bound the latent covariate per observation. Empty
	// defaults to the full calibration interval for every row.
	XLower []float64
	XUpper []float64

	// Truth optionally carries known covariates (validation runs); it is
	// passed through to the tidy output, never to the engine.
	Truth []float64

	Sampling engine.SamplingConfig
	Chains   int
	Parallel bool
	Workers  int
	Isolate  bool

	EngineName string
	Engine     engine.Engine
	Store      handoff.Store

	RunID    string
	Pooling  posterior.PoolPolicy
	PoolSeed int64
}

// Result is the reconstruction stage output.
type Result struct {
	Rows       []posterior.Reconstruction
	RHat       map[string]float64
	Unverified bool
}

// Run executes the reconstruction pipeline. The basis becomes a function of
// the latent covariate, so the engine evaluates it per draw; this stage only
// ships the grid geometry.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := logging.New("reconstruct")

	if opts.Calibration == nil {
		return nil, fmt.Errorf("reconstruct: calibration result is required")
	}
	if opts.Table == nil || opts.Table.Rows() == 0 {
		return nil, fmt.Errorf("reconstruct: empty composition table")
	}
	if opts.Chains < 1 {
		return nil, fmt.Errorf("reconstruct: need at least one chain")
	}

	cal := opts.Calibration
	ordered, err := dataset.Reindex(opts.Table, cal.Order)
	if err != nil {
		return nil, err
	}

	n := ordered.Rows()
	lower, upper, err := bounds(opts, cal, n)
	if err != nil {
		return nil, err
	}
	if opts.Truth != nil && len(opts.Truth) != n {
		return nil, fmt.Errorf("reconstruct: %d ground-truth values for %d observations", len(opts.Truth), n)
	}

	spec, track, err := buildSpec(ordered, cal)
	if err != nil {
		return nil, err
	}
	sampling := opts.Sampling
	sampling.Track = track

	priorMean, priorSD := categoryPriors(cal)
	payload := &engine.Payload{
		Counts:    ordered.Counts,
		Totals:    ordered.Totals,
		H:         cal.H,
		Begin0:    cal.Begin0,
		PriorMean: priorMean,
		PriorSD:   priorSD,
		XLower:    lower,
		XUpper:    upper,

		BasisXL: cal.Basis.XL,
		BasisXR: cal.Basis.XR,
		BasisDX: cal.Basis.DX,
	}

	runID := opts.RunID
	if runID == "" {
		runID = "rec-" + uuid.NewString()
	}

	log.Info("reconstructing", "observations", n, "categories", ordered.Cols(), "chains", opts.Chains)

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
		return nil, fmt.Errorf("reconstruct: %d of %d chains failed: %w",
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
	rows := make([]posterior.Reconstruction, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("x[%d]", i+1)
		draws, err := pooler.Pool(arr, name)
		if err != nil {
			return nil, err
		}
		s := posterior.Summarize(draws, posterior.IntervalQuantile)
		rows[i] = posterior.Reconstruction{
			Obs:       i + 1,
			Estimate:  s.Mean,
			Precision: s.SD,
			Lower:     s.Lower,
			Upper:     s.Upper,
		}
		if opts.Truth != nil {
			v := opts.Truth[i]
			rows[i].Truth = &v
		}
	}

	return &Result{Rows: rows, RHat: diags.RHat, Unverified: diags.Unverified()}, nil
}

// bounds resolves per-observation covariate constraints, defaulting to the
// full calibration interval.
func bounds(opts Options, cal *calibrate.Result, n int) ([]float64, []float64, error) {
	lower, upper := opts.XLower, opts.XUpper
	if lower == nil && upper == nil {
		lower = make([]float64, n)
		upper = make([]float64, n)
		for i := 0; i < n; i++ {
			lower[i] = cal.Basis.XL
			upper[i] = cal.Basis.XR
		}
		return lower, upper, nil
	}
	if len(lower) != n || len(upper) != n {
		return nil, nil, fmt.Errorf("reconstruct: bounds cover %d/%d rows, want %d", len(lower), len(upper), n)
	}
	for i := 0; i < n; i++ {
		if lower[i] >= upper[i] {
			return nil, nil, fmt.Errorf("reconstruct: empty bound [%g, %g] for observation %d", lower[i], upper[i], i+1)
		}
	}
	return lower, upper, nil
}

// buildSpec renders the reconstruction model: informative intercept priors
// from the calibration posteriors for categories before the boundary, the
// degenerate uniform treatment at and beyond it, and a latent bounded
// covariate per observation.
func buildSpec(t *dataset.Table, cal *calibrate.Result) (engine.ModelSpec, []string, error) {
	priors := make([]engine.PriorSlot, t.Cols())
	for j, label := range t.Labels {
		name := fmt.Sprintf("alpha[%d]", j+1)
		if j < cal.Begin0 {
			priors[j] = engine.PriorSlot{
				Category: label,
				Family:   "informative",
				Mean:     cal.PosteriorMean[name],
				SD:       cal.PosteriorSD[name],
			}
		} else {
			priors[j] = engine.PriorSlot{Category: label, Family: "uniform"}
		}
	}

	spec, err := engine.BuildModelSpec(engine.ModelParams{
		N: t.Rows(), M: t.Cols(), H: cal.H, Begin0: cal.Begin0,
		Latent: true,
		Priors: priors,
	})
	if err != nil {
		return engine.ModelSpec{}, nil, err
	}

	track := make([]string, t.Rows())
	for i := range track {
		track[i] = fmt.Sprintf("x[%d]", i+1)
	}
	return spec, track, nil
}

// categoryPriors flattens the calibration intercept posteriors into the
// payload's per-category hyperparameter vectors.
func categoryPriors(cal *calibrate.Result) ([]float64, []float64) {
	m := len(cal.Order)
	mean := make([]float64, m)
	sd := make([]float64, m)
	for j := 0; j < m; j++ {
		name := fmt.Sprintf("alpha[%d]", j+1)
		mean[j] = cal.PosteriorMean[name]
		sd[j] = cal.PosteriorSD[name]
	}
	return mean, sd
}
