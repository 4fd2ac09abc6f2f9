package config

import (
	"os"
	"path/filepath"
	"testing"

	"tidemark/internal/posterior"
)

const yamlConfig = `
engine: stub
basis:
  xl: 0
  xr: 12
  dx: 2
  degree: 3
sampling:
  iterations: 5000
  burn_in: 1000
  thin: 2
chains: 3
parallel: true
workers: 2
pooling: select-replica
pool_seed: 9
folds: 4
`

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(yamlConfig), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	run, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if run.Basis.XR != 12 || run.Chains != 3 || run.Folds != 4 {
		t.Errorf("explicit fields not applied: %+v", run)
	}
	// Untouched fields keep their defaults.
	if run.GridPoints != Default().GridPoints {
		t.Errorf("grid_points = %d, want default %d", run.GridPoints, Default().GridPoints)
	}
	if run.Begin0Threshold != Default().Begin0Threshold {
		t.Errorf("begin0_threshold = %d, want default %d", run.Begin0Threshold, Default().Begin0Threshold)
	}

	policy, err := run.PoolPolicy()
	if err != nil {
		t.Fatalf("PoolPolicy: %v", err)
	}
	if policy != posterior.SelectReplica {
		t.Errorf("policy = %v, want SelectReplica", policy)
	}
}

func TestParseDetectsJSON(t *testing.T) {
	run, err := Parse([]byte(`{"engine": "stub", "chains": 2, "sampling": {"iterations": 100, "burn_in": 10, "thin": 1}}`), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if run.Chains != 2 {
		t.Errorf("chains = %d, want 2", run.Chains)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"zero chains", "chains: 0\n"},
		{"missing engine", "engine: \"\"\n"},
		{"bad pooling", "pooling: everything\n"},
		{"degenerate basis", "basis: {xl: 0, xr: 10, dx: 0, degree: 3}\n"},
		{"not yaml", ": : :\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Parse([]byte(c.in), ".yaml"); err == nil {
				t.Errorf("accepted %q", c.in)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
