package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stubConfig() SamplingConfig {
	return SamplingConfig{Iterations: 250, BurnIn: 50, Thin: 2, Track: []string{"alpha[1]", "delta.hj[1,1]"}}
}

func TestSamplingConfigDraws(t *testing.T) {
	cases := []struct {
		cfg  SamplingConfig
		want int
	}{
		{SamplingConfig{Iterations: 250, BurnIn: 50, Thin: 2}, 100},
		{SamplingConfig{Iterations: 100, BurnIn: 0, Thin: 1}, 100},
		{SamplingConfig{Iterations: 101, BurnIn: 0, Thin: 2}, 51},
		{SamplingConfig{Iterations: 10, BurnIn: 10, Thin: 1}, 0},
	}
	for _, c := range cases {
		if got := c.cfg.Draws(); got != c.want {
			t.Errorf("Draws(%+v) = %d, want %d", c.cfg, got, c.want)
		}
	}
}

func TestStubDeterministicGivenSeed(t *testing.T) {
	s := &Stub{}
	cfg := stubConfig()

	a, err := s.Sample(context.Background(), ModelSpec{}, nil, cfg, 4001)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	b, err := s.Sample(context.Background(), ModelSpec{}, nil, cfg, 4001)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different histories (-a +b):\n%s", diff)
	}

	c, err := s.Sample(context.Background(), ModelSpec{}, nil, cfg, 8002)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if cmp.Equal(a, c) {
		t.Error("different seeds produced identical histories")
	}
}

func TestStubDrawCountAndTrackedNames(t *testing.T) {
	cfg := stubConfig()
	hist, err := (&Stub{}).Sample(context.Background(), ModelSpec{}, nil, cfg, 1)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(hist) != len(cfg.Track) {
		t.Fatalf("history has %d parameters, want %d", len(hist), len(cfg.Track))
	}
	for _, name := range cfg.Track {
		seq, ok := hist[name]
		if !ok {
			t.Fatalf("parameter %q missing", name)
		}
		if len(seq) != cfg.Draws() {
			t.Errorf("parameter %q has %d draws, want %d", name, len(seq), cfg.Draws())
		}
	}
}

func TestStubInducedFailure(t *testing.T) {
	s := &Stub{FailSeed: 3 * 4001}
	_, err := s.Sample(context.Background(), ModelSpec{}, nil, stubConfig(), 3*4001)
	if !errors.Is(err, ErrInducedFailure) {
		t.Fatalf("err = %v, want ErrInducedFailure", err)
	}
	if _, err := s.Sample(context.Background(), ModelSpec{}, nil, stubConfig(), 4001); err != nil {
		t.Fatalf("unexpected failure for non-matching seed: %v", err)
	}
}

func TestLookupRegisteredStub(t *testing.T) {
	e, err := Lookup("stub")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Name() != "stub" {
		t.Errorf("Name() = %q", e.Name())
	}
	if _, err := Lookup("gibbs-prod"); err == nil {
		t.Error("expected error for unregistered engine")
	}
}
