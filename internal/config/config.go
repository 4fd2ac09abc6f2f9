// Package config loads run configuration files for the tidemark CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"tidemark/internal/basis"
	"tidemark/internal/engine"
	"tidemark/internal/posterior"
)

// Run holds everything a stage needs beyond its input tables. One file
// typically drives a whole calibrate/reconstruct/validate workflow.
type Run struct {
	// Engine names the registered sampler backend.
	Engine string `yaml:"engine" json:"engine"`

	Basis    basis.Config          `yaml:"basis" json:"basis"`
	Sampling engine.SamplingConfig `yaml:"sampling" json:"sampling"`

	Chains   int  `yaml:"chains" json:"chains"`
	Parallel bool `yaml:"parallel" json:"parallel"`
	Workers  int  `yaml:"workers" json:"workers"`
	// Isolate forces process-level chain isolation instead of goroutines.
	Isolate bool `yaml:"isolate" json:"isolate"`

	// HandoffDir roots the durable draw handoff; empty means in-memory
	// (unless Isolate requires the filesystem).
	HandoffDir string `yaml:"handoff_dir" json:"handoff_dir"`

	// Pooling is "all" (pool every chain) or "select-replica" (legacy
	// one-chain-per-coordinate sampling).
	Pooling  string `yaml:"pooling" json:"pooling"`
	PoolSeed int64  `yaml:"pool_seed" json:"pool_seed"`

	GridPoints      int `yaml:"grid_points" json:"grid_points"`
	Begin0Threshold int `yaml:"begin0_threshold" json:"begin0_threshold"`

	// Folds and Seed apply to the validate stage only.
	Folds int   `yaml:"folds" json:"folds"`
	Seed  int64 `yaml:"seed" json:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() Run {
	return Run{
		Engine: "stub",
		Basis:  basis.Config{XL: 0, XR: 10, DX: 1, Degree: 3},
		Sampling: engine.SamplingConfig{
			Iterations: 10000,
			BurnIn:     2000,
			Thin:       5,
		},
		Chains:          4,
		Parallel:        true,
		Pooling:         "all",
		GridPoints:      50,
		Begin0Threshold: 10,
		Folds:           5,
	}
}

// Load reads a run configuration (YAML or JSON, detected by extension or
// content) and overlays it on the defaults, so partial files work.
func Load(path string) (Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes config bytes. ext is the file extension for a format hint;
// empty means detect from content.
func Parse(data []byte, ext string) (Run, error) {
	run := Default()

	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".json"
		} else {
			ext = ".yaml"
		}
	}

	switch ext {
	case ".yaml":
		if err := yaml.Unmarshal(data, &run); err != nil {
			return Run{}, fmt.Errorf("parse config yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &run); err != nil {
			return Run{}, fmt.Errorf("parse config json: %w", err)
		}
	default:
		return Run{}, fmt.Errorf("config: unsupported format %q", ext)
	}

	if err := run.Validate(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Validate checks the fields every stage depends on. Stage-specific limits
// (fold counts against table size, for one) stay with the stages.
func (r Run) Validate() error {
	if r.Engine == "" {
		return fmt.Errorf("config: engine is required")
	}
	if r.Chains < 1 {
		return fmt.Errorf("config: chains must be >= 1, got %d", r.Chains)
	}
	if err := r.Basis.Validate(); err != nil {
		return err
	}
	// Track is derived by each stage, never configured; validate the rest.
	sampling := r.Sampling
	sampling.Track = []string{"x[1]"}
	if err := sampling.Validate(); err != nil {
		return err
	}
	if _, err := r.PoolPolicy(); err != nil {
		return err
	}
	return nil
}

// PoolPolicy maps the configured pooling name to its policy.
func (r Run) PoolPolicy() (posterior.PoolPolicy, error) {
	switch r.Pooling {
	case "", "all":
		return posterior.PoolAll, nil
	case "select-replica":
		return posterior.SelectReplica, nil
	default:
		return 0, fmt.Errorf("config: unknown pooling %q (want all or select-replica)", r.Pooling)
	}
}
