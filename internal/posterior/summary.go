package posterior

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Interval selects how a summary's bounds are derived.
type Interval int

const (
	// IntervalQuantile reports the empirical 2.5/97.5 percentile pair.
	IntervalQuantile Interval = iota
	// IntervalMeanSD reports mean ± z·sd with z at the 97.5th normal
	// percentile.
	IntervalMeanSD
)

// PoolPolicy selects how per-coordinate draws are pooled across replicas
// before summarization.
type PoolPolicy int

const (
	// PoolAll pools every replica's draw sequence per coordinate. Default.
	PoolAll PoolPolicy = iota
	// SelectReplica picks one replica uniformly at random per coordinate and
	// takes that replica's full sequence. Reproduces the legacy behavior;
	// see DESIGN.md for why PoolAll is the default.
	SelectReplica
)

// Summary is the (mean, sd, lower, upper) reduction of one draw sequence.
type Summary struct {
	Mean  float64
	SD    float64
	Lower float64
	Upper float64
}

// z975 is the 97.5th percentile of the standard normal.
var z975 = distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.975)

// Summarize reduces a draw sequence into a point estimate and interval.
func Summarize(draws []float64, kind Interval) Summary {
	if len(draws) == 0 {
		return Summary{}
	}

	mean := stat.Mean(draws, nil)
	sd := 0.0
	if len(draws) > 1 {
		sd = stat.StdDev(draws, nil)
	}

	s := Summary{Mean: mean, SD: sd}
	switch kind {
	case IntervalMeanSD:
		s.Lower = mean - z975*sd
		s.Upper = mean + z975*sd
	default:
		sorted := append([]float64(nil), draws...)
		sort.Float64s(sorted)
		s.Lower = stat.Quantile(0.025, stat.Empirical, sorted, nil)
		s.Upper = stat.Quantile(0.975, stat.Empirical, sorted, nil)
	}
	return s
}

// Pooler applies a PoolPolicy per parameter coordinate. The RNG drives
// replica selection only; PoolAll never consumes it.
type Pooler struct {
	Policy PoolPolicy
	rng    *rand.Rand
}

// NewPooler builds a pooler. The seed makes SelectReplica runs reproducible.
func NewPooler(policy PoolPolicy, seed int64) *Pooler {
	return &Pooler{Policy: policy, rng: rand.New(rand.NewSource(seed))}
}

// Pool returns the draw sequence to summarize for one coordinate.
func (p *Pooler) Pool(arr *SampleArray, name string) ([]float64, error) {
	chains, err := arr.Sequences(name)
	if err != nil {
		return nil, err
	}
	return p.PoolChains(chains), nil
}

// PoolChains applies the policy to raw per-replica sequences. Used directly
// for derived quantities (predictive-curve values) that never live in a
// sample array.
func (p *Pooler) PoolChains(chains [][]float64) []float64 {
	if p.Policy == SelectReplica {
		return chains[p.rng.Intn(len(chains))]
	}
	size := 0
	for _, c := range chains {
		size += len(c)
	}
	pooled := make([]float64, 0, size)
	for _, c := range chains {
		pooled = append(pooled, c...)
	}
	return pooled
}

// SummarizeParams reduces each named coordinate of the array, pooling with
// the given policy. Results are keyed by parameter name.
func SummarizeParams(arr *SampleArray, names []string, pooler *Pooler, kind Interval) (map[string]Summary, error) {
	out := make(map[string]Summary, len(names))
	for _, name := range names {
		draws, err := pooler.Pool(arr, name)
		if err != nil {
			return nil, err
		}
		out[name] = Summarize(draws, kind)
	}
	return out, nil
}

// IndexedNames returns the array's parameter names sharing a base, in
// structured index order, e.g. all "x[i]" coordinates.
func (a *SampleArray) IndexedNames(base string) []string {
	var names []string
	for _, name := range a.Names {
		pn, err := ParseParamName(name)
		if err == nil && pn.Base == base {
			names = append(names, name)
		}
	}
	return names
}
