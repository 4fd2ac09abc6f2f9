package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
)

// ErrInducedFailure is returned by the stub when a replica's seed matches the
// configured failure seed. Tests use it to exercise partial fan-out results.
var ErrInducedFailure = errors.New("engine: induced stub failure")

func init() {
	Register("stub", func() Engine { return &Stub{} })
}

// Stub is a deterministic pseudo-sampler. For every tracked parameter it
// draws from a normal distribution whose center is derived from the parameter
// name, using a local RNG seeded per replica. It exists so the orchestration,
// aggregation and diagnostics machinery can be exercised without the external
// Gibbs service.
type Stub struct {
	// FailSeed induces a deterministic failure for the replica whose seed
	// matches. Zero disables injection.
	FailSeed int64
	// Shift offsets every draw by a constant, letting convergence tests
	// construct replicas that deliberately disagree.
	Shift float64
}

// Name implements Engine.
func (s *Stub) Name() string { return "stub" }

// Sample implements Engine. Draws are deterministic given (cfg, seed): the
// RNG is local to the call and parameter order is fixed by sorting.
func (s *Stub) Sample(ctx context.Context, _ ModelSpec, _ *Payload, cfg SamplingConfig, seed int64) (DrawHistory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s.FailSeed != 0 && seed == s.FailSeed {
		return nil, fmt.Errorf("%w: seed %d", ErrInducedFailure, seed)
	}

	names := append([]string(nil), cfg.Track...)
	sort.Strings(names)

	rng := rand.New(rand.NewSource(seed))
	draws := cfg.Draws()

	history := make(DrawHistory, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		center := paramCenter(name)
		seq := make([]float64, draws)
		for i := range seq {
			seq[i] = center + s.Shift + 0.1*rng.NormFloat64()
		}
		history[name] = seq
	}
	return history, nil
}

// paramCenter maps a parameter name to a stable center in [0, 10).
func paramCenter(name string) float64 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return float64(h.Sum32()%1000) / 100.0
}
