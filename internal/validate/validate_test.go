package validate

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tidemark/internal/basis"
	"tidemark/internal/dataset"
	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/posterior"
)

const foldCSV = `oak,pine,birch
12,30,2
8,22,1
15,35,3
10,28,2
9,25,1
14,31,2
11,27,2
13,33,1
`

func foldTable(t *testing.T) *dataset.Table {
	t.Helper()
	tab, err := dataset.Read(strings.NewReader(foldCSV))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return tab
}

func foldOptions(t *testing.T) Options {
	return Options{
		Table: foldTable(t),
		X:     []float64{1, 2, 3, 4, 5, 6, 7, 8},
		Folds: 2,
		Seed:  7,
		Basis: basis.Config{XL: 0, XR: 10, DX: 2, Degree: 3},
		Sampling: engine.SamplingConfig{
			Iterations: 60, BurnIn: 10, Thin: 1,
		},
		Chains:          2,
		Parallel:        false,
		Engine:          &engine.Stub{},
		EngineName:      "stub",
		Store:           handoff.NewMemStore(),
		RunID:           "val-test",
		Begin0Threshold: 10,
		Pooling:         posterior.PoolAll,
		PoolSeed:        1,
	}
}

func TestPartitionCoversEveryRowOnce(t *testing.T) {
	folds := partition(10, 3, 42)
	if len(folds) != 3 {
		t.Fatalf("got %d folds, want 3", len(folds))
	}

	seen := make(map[int]int)
	for _, f := range folds {
		if len(f) < 3 || len(f) > 4 {
			t.Errorf("fold size %d outside near-equal range", len(f))
		}
		for _, row := range f {
			seen[row]++
		}
	}
	for i := 0; i < 10; i++ {
		if seen[i] != 1 {
			t.Errorf("row %d assigned %d times", i, seen[i])
		}
	}

	if diff := cmp.Diff(folds, partition(10, 3, 42)); diff != "" {
		t.Errorf("same seed produced different partitions:\n%s", diff)
	}
}

func TestScore(t *testing.T) {
	truth := func(v float64) *float64 { return &v }
	rows := []posterior.Reconstruction{
		{Estimate: 1, Lower: 0, Upper: 3, Truth: truth(2)},
		{Estimate: 3, Lower: 2.5, Upper: 3.5, Truth: truth(2)},
		{Estimate: 9, Lower: 8, Upper: 10}, // no ground truth: skipped
	}

	m := Score(rows)
	if m.N != 2 {
		t.Fatalf("N = %d, want 2", m.N)
	}
	// Errors -1 and +1: RMSE 1, bias 0. Only the first interval covers.
	if math.Abs(m.RMSE-1) > 1e-12 {
		t.Errorf("RMSE = %g, want 1", m.RMSE)
	}
	if math.Abs(m.Bias) > 1e-12 {
		t.Errorf("Bias = %g, want 0", m.Bias)
	}
	if math.Abs(m.Coverage-0.5) > 1e-12 {
		t.Errorf("Coverage = %g, want 0.5", m.Coverage)
	}

	if got := Score(nil); got != (Metrics{}) {
		t.Errorf("Score(nil) = %+v, want zero metrics", got)
	}
}

func TestWriteMetricsCSV(t *testing.T) {
	var buf strings.Builder
	m := Metrics{RMSE: 1.25, Bias: -0.5, Coverage: 0.875, N: 8}
	if err := WriteMetricsCSV(&buf, m); err != nil {
		t.Fatalf("WriteMetricsCSV: %v", err)
	}
	want := "rmse,bias,coverage,n\n1.25,-0.5,0.875,8\n"
	if buf.String() != want {
		t.Errorf("report = %q, want %q", buf.String(), want)
	}
}

func TestRunCrossValidates(t *testing.T) {
	opts := foldOptions(t)
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Folds) != 2 {
		t.Fatalf("got %d folds, want 2", len(res.Folds))
	}
	if len(res.Rows) != opts.Table.Rows() {
		t.Fatalf("got %d scored rows, want %d", len(res.Rows), opts.Table.Rows())
	}
	for i, r := range res.Rows {
		if r.Truth == nil {
			t.Fatalf("row %d missing ground truth", i)
		}
		if r.Lower > r.Estimate || r.Estimate > r.Upper {
			t.Fatalf("row %d interval out of order: %+v", i, r)
		}
	}
	if res.Metrics.N != opts.Table.Rows() {
		t.Errorf("metrics scored %d rows, want %d", res.Metrics.N, opts.Table.Rows())
	}
	if res.Metrics.Coverage < 0 || res.Metrics.Coverage > 1 {
		t.Errorf("coverage %g outside [0,1]", res.Metrics.Coverage)
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	seq := foldOptions(t)
	seqRes, err := Run(context.Background(), seq)
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}

	par := foldOptions(t)
	par.Parallel = true
	par.Workers = 2
	par.Store = handoff.NewMemStore()
	parRes, err := Run(context.Background(), par)
	if err != nil {
		t.Fatalf("parallel Run: %v", err)
	}

	if diff := cmp.Diff(seqRes, parRes); diff != "" {
		t.Errorf("parallel folds diverged from sequential (-seq +par):\n%s", diff)
	}
}

func TestRunRejectsBadInputs(t *testing.T) {
	base := foldOptions(t)

	onefold := base
	onefold.Folds = 1
	if _, err := Run(context.Background(), onefold); err == nil {
		t.Error("single fold accepted")
	}

	toomany := base
	toomany.Folds = 100
	if _, err := Run(context.Background(), toomany); err == nil {
		t.Error("more folds than observations accepted")
	}

	short := base
	short.X = []float64{1, 2}
	if _, err := Run(context.Background(), short); err == nil {
		t.Error("covariate/observation mismatch accepted")
	}
}

// failFirstEngine fails its first Sample call and succeeds afterwards, so
// exactly one fold's calibration breaks.
type failFirstEngine struct {
	mu     sync.Mutex
	called bool
	inner  engine.Stub
}

func (e *failFirstEngine) Name() string { return "fail-first" }

func (e *failFirstEngine) Sample(ctx context.Context, spec engine.ModelSpec, p *engine.Payload, cfg engine.SamplingConfig, seed int64) (engine.DrawHistory, error) {
	e.mu.Lock()
	first := !e.called
	e.called = true
	e.mu.Unlock()
	if first {
		return nil, engine.ErrInducedFailure
	}
	return e.inner.Sample(ctx, spec, p, cfg, seed)
}

func TestRunReportsPartialFoldFailure(t *testing.T) {
	opts := foldOptions(t)
	opts.Engine = &failFirstEngine{}

	res, err := Run(context.Background(), opts)
	if err == nil {
		t.Fatal("expected error for failed fold")
	}
	if !errors.Is(err, engine.ErrInducedFailure) {
		t.Errorf("cause not preserved: %v", err)
	}
	var fe *FoldError
	if !errors.As(err, &fe) || fe.Fold != 0 {
		t.Errorf("failure not tagged with fold id: %v", err)
	}

	// The surviving fold is still scored.
	if res == nil || len(res.Folds) != 1 || res.Folds[0].Fold != 1 {
		t.Fatalf("surviving fold missing: %+v", res)
	}
	if res.Metrics.N != len(res.Folds[0].Rows) {
		t.Errorf("metrics scored %d rows, want %d", res.Metrics.N, len(res.Folds[0].Rows))
	}
}
