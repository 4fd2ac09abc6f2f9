package reconstruct

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tidemark/internal/basis"
	"tidemark/internal/calibrate"
	"tidemark/internal/dataset"
	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/posterior"
)

// calResult builds a minimal calibration result without running the stage.
func calResult() *calibrate.Result {
	return &calibrate.Result{
		Order:  []string{"pine", "oak", "birch"},
		Begin0: 2,
		Basis:  basis.Config{XL: 0, XR: 10, DX: 2, Degree: 3},
		H:      7,
		PosteriorMean: map[string]float64{
			"alpha[1]": 1.2, "alpha[2]": 0.4, "alpha[3]": -2.0,
		},
		PosteriorSD: map[string]float64{
			"alpha[1]": 0.3, "alpha[2]": 0.2, "alpha[3]": 1.5,
		},
	}
}

func reconTable(t *testing.T) *dataset.Table {
	t.Helper()
	tab, err := dataset.Read(strings.NewReader("oak,pine\n4,9\n2,11\n7,6\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return tab
}

func reconOptions(t *testing.T) Options {
	return Options{
		Calibration: calResult(),
		Table:       reconTable(t),
		Sampling:    engine.SamplingConfig{Iterations: 80, BurnIn: 30, Thin: 1},
		Chains:      3,
		Parallel:    true,
		Engine:      &engine.Stub{},
		EngineName:  "stub",
		Store:       handoff.NewMemStore(),
		RunID:       "rec-test",
		Pooling:     posterior.PoolAll,
		PoolSeed:    7,
	}
}

func TestRunProducesPerObservationRows(t *testing.T) {
	opts := reconOptions(t)
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows, want one per observation", len(res.Rows))
	}
	for i, row := range res.Rows {
		if row.Obs != i+1 {
			t.Errorf("row %d: obs = %d", i, row.Obs)
		}
		if row.Lower > row.Estimate || row.Estimate > row.Upper {
			t.Errorf("row %d: interval out of order: %+v", i, row)
		}
		if row.Precision < 0 {
			t.Errorf("row %d: negative precision", i)
		}
		if row.Truth != nil {
			t.Errorf("row %d: unexpected ground truth", i)
		}
	}
	if res.Unverified {
		t.Errorf("unexpected unverified flag; rhat = %v", res.RHat)
	}
}

func TestRunCarriesGroundTruth(t *testing.T) {
	opts := reconOptions(t)
	opts.Truth = []float64{2.5, 6.0, 8.5}

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, row := range res.Rows {
		if row.Truth == nil || *row.Truth != opts.Truth[i] {
			t.Errorf("row %d: truth not carried through", i)
		}
	}
}

func TestRunRejectsUnknownCategory(t *testing.T) {
	opts := reconOptions(t)
	tab, err := dataset.Read(strings.NewReader("oak,willow\n4,9\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	opts.Table = tab

	_, err = Run(context.Background(), opts)
	if !errors.Is(err, dataset.ErrUnknownCategory) {
		t.Fatalf("err = %v, want ErrUnknownCategory", err)
	}
}

func TestRunValidatesBoundsAndTruth(t *testing.T) {
	short := reconOptions(t)
	short.XLower = []float64{0}
	short.XUpper = []float64{10}
	if _, err := Run(context.Background(), short); err == nil {
		t.Error("bound/observation mismatch accepted")
	}

	empty := reconOptions(t)
	empty.XLower = []float64{0, 5, 5}
	empty.XUpper = []float64{10, 5, 10}
	if _, err := Run(context.Background(), empty); err == nil {
		t.Error("empty bound interval accepted")
	}

	badTruth := reconOptions(t)
	badTruth.Truth = []float64{1}
	if _, err := Run(context.Background(), badTruth); err == nil {
		t.Error("truth/observation mismatch accepted")
	}
}

func TestBuildSpecUsesCalibrationPriors(t *testing.T) {
	cal := calResult()
	tab, err := dataset.Reindex(reconTable(t), cal.Order)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	spec, track, err := buildSpec(tab, cal)
	if err != nil {
		t.Fatalf("buildSpec: %v", err)
	}
	if !strings.Contains(spec.Text, "alpha[1] ~ normal(1.2, 0.3);  # pine") {
		t.Errorf("informative prior missing:\n%s", spec.Text)
	}
	if !strings.Contains(spec.Text, "alpha[3] ~ uniform();  # birch") {
		t.Errorf("boundary category should get the degenerate uniform treatment:\n%s", spec.Text)
	}
	if !strings.Contains(spec.Text, "x[i] ~ uniform(xlower[i], xupper[i])") {
		t.Errorf("latent covariate block missing:\n%s", spec.Text)
	}
	if len(track) != tab.Rows() || track[0] != "x[1]" {
		t.Errorf("track = %v", track)
	}
}
