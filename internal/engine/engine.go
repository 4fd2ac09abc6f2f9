// Package engine defines the boundary to the external Gibbs-sampling service.
// The orchestrator treats the engine as a black box: it hands over a model
// specification, a read-only data payload and a deterministic seed, and gets
// back a draw history for every tracked parameter. The production sampler is
// an external collaborator; a deterministic stub ships for tests and dry runs.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DrawHistory maps structured parameter names (e.g. "delta.hj[2,3]") to the
// post-burn-in, post-thin draw sequence for that parameter.
type DrawHistory map[string][]float64

// SamplingConfig is the per-replica sampling schedule.
type SamplingConfig struct {
	Iterations int      `yaml:"iterations" json:"iterations"`
	BurnIn     int      `yaml:"burn_in" json:"burn_in"`
	Thin       int      `yaml:"thin" json:"thin"`
	Track      []string `yaml:"track" json:"track"`
}

// Draws returns the number of retained draws: ⌈(iterations − burnIn)/thin⌉.
func (c SamplingConfig) Draws() int {
	thin := c.Thin
	if thin < 1 {
		thin = 1
	}
	kept := c.Iterations - c.BurnIn
	if kept <= 0 {
		return 0
	}
	return (kept + thin - 1) / thin
}

// Validate rejects schedules that retain no draws.
func (c SamplingConfig) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("engine: iterations must be positive, got %d", c.Iterations)
	}
	if c.BurnIn < 0 || c.BurnIn >= c.Iterations {
		return fmt.Errorf("engine: burn-in %d out of range for %d iterations", c.BurnIn, c.Iterations)
	}
	if c.Thin < 1 {
		return fmt.Errorf("engine: thin interval must be >= 1, got %d", c.Thin)
	}
	if len(c.Track) == 0 {
		return fmt.Errorf("engine: no parameters tracked")
	}
	return nil
}

// Payload is the read-only data contract shared by every replica. Slices are
// plain Go types so the payload serializes cleanly across the process-pool
// boundary. No replica may mutate it.
type Payload struct {
	// Counts is the n×m composition table in calibration category order.
	Counts [][]int `json:"counts"`
	// Totals holds per-observation row sums.
	Totals []int `json:"totals"`
	// Basis is the n×H reduced design matrix (nil during reconstruction,
	// where the engine evaluates the basis per draw from BasisConfig).
	Basis [][]float64 `json:"basis,omitempty"`
	// H is the reduced basis dimension.
	H int `json:"h"`
	// Begin0 is the category-boundary index: categories at or beyond it get
	// the uninformative baseline treatment.
	Begin0 int `json:"begin0"`
	// PriorMean and PriorSD carry per-category intercept prior
	// hyperparameters, optionally informed by calibration posteriors.
	PriorMean []float64 `json:"prior_mean,omitempty"`
	PriorSD   []float64 `json:"prior_sd,omitempty"`
	// XLower and XUpper bound the latent covariate per observation during
	// reconstruction.
	XLower []float64 `json:"x_lower,omitempty"`
	XUpper []float64 `json:"x_upper,omitempty"`
	// BasisXL/BasisXR/BasisDX describe the grid geometry the engine needs to
	// evaluate the basis at latent covariate values.
	BasisXL float64 `json:"basis_xl"`
	BasisXR float64 `json:"basis_xr"`
	BasisDX float64 `json:"basis_dx"`
}

// Engine is the external sampling service. Sample blocks until the replica's
// full draw history is available or ctx is cancelled. Implementations must be
// deterministic given (spec, payload, cfg, seed).
type Engine interface {
	Name() string
	Sample(ctx context.Context, spec ModelSpec, payload *Payload, cfg SamplingConfig, seed int64) (DrawHistory, error)
}

// Factory constructs a fresh engine instance. Worker processes re-resolve
// engines by name, so factories must not capture per-run state.
type Factory func() Engine

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an engine constructor available by name. Registering a
// duplicate name panics: it is a wiring bug, not a runtime condition.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("engine: duplicate registration %q", name))
	}
	registry[name] = f
}

// Lookup resolves a registered engine by name.
func Lookup(name string) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown engine %q (registered: %v)", name, Names())
	}
	return f(), nil
}

// Names lists registered engine names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
