package posterior

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"tidemark/internal/logging"
)

// RHatThreshold is the fixed gate: any monitored parameter whose
// scale-reduction diagnostic exceeds it fails convergence.
const RHatThreshold = 1.1

// Diagnostics gates downstream use of a sample array. A failing gate is a
// warning, not an error: summaries still proceed, flagged unverified.
type Diagnostics struct {
	// Converged is the binary gate over all monitored parameters.
	Converged bool
	// RHat holds the scale-reduction diagnostic per monitored parameter.
	RHat map[string]float64
	// Failing lists parameters whose diagnostic exceeded the threshold.
	Failing []string
	// ESS and MCSE are the efficiency diagnostics, computed only when the
	// gate passes.
	ESS  map[string]float64
	MCSE map[string]float64
}

// Diagnose computes the convergence gate and, when it passes, the efficiency
// diagnostics for the given target parameters.
func Diagnose(arr *SampleArray, targets []string) (*Diagnostics, error) {
	log := logging.New("posterior")

	d := &Diagnostics{
		Converged: true,
		RHat:      make(map[string]float64, len(targets)),
	}

	for _, name := range targets {
		chains, err := arr.Sequences(name)
		if err != nil {
			return nil, err
		}
		r := gelmanRubin(chains)
		d.RHat[name] = r
		if r > RHatThreshold {
			d.Converged = false
			d.Failing = append(d.Failing, name)
		}
	}

	if !d.Converged {
		log.Warn("convergence gate failed; summaries are unverified",
			"failing", d.Failing, "threshold", RHatThreshold)
		return d, nil
	}

	d.ESS = make(map[string]float64, len(targets))
	d.MCSE = make(map[string]float64, len(targets))
	for _, name := range targets {
		chains, _ := arr.Sequences(name)
		ess := effectiveSampleSize(chains)
		d.ESS[name] = ess
		d.MCSE[name] = mcse(chains, ess)
	}

	log.Info("convergence gate passed", "parameters", len(targets))
	return d, nil
}

// Unverified returns the flag attached to downstream summaries when the gate
// failed.
func (d *Diagnostics) Unverified() bool { return !d.Converged }

// Describe renders the gate outcome for logs and reports.
func (d *Diagnostics) Describe() string {
	if d.Converged {
		return fmt.Sprintf("converged (%d parameters, threshold %.2f)", len(d.RHat), RHatThreshold)
	}
	return fmt.Sprintf("unverified convergence: %d of %d parameters exceed %.2f: %v",
		len(d.Failing), len(d.RHat), RHatThreshold, d.Failing)
}

// gelmanRubin computes the potential scale-reduction factor across replicas:
// sqrt of the pooled-variance estimate over the mean within-chain variance.
// Identical chains give B = 0 and a value just under 1; a chain offset beyond
// its own spread inflates B and pushes the value past the threshold.
func gelmanRubin(chains [][]float64) float64 {
	m := len(chains)
	if m < 2 || len(chains[0]) < 2 {
		return 1.0
	}
	n := float64(len(chains[0]))

	means := make([]float64, m)
	within := 0.0
	for i, c := range chains {
		means[i] = stat.Mean(c, nil)
		within += stat.Variance(c, nil)
	}
	within /= float64(m)

	grand := stat.Mean(means, nil)
	between := 0.0
	for _, mu := range means {
		between += (mu - grand) * (mu - grand)
	}
	between = between * n / float64(m-1)

	if within == 0 {
		if between == 0 {
			return 1.0
		}
		return math.Inf(1)
	}

	varPlus := (n-1)/n*within + between/n
	return math.Sqrt(varPlus / within)
}

// effectiveSampleSize estimates the number of independent draws across all
// chains, using chain-averaged autocorrelations truncated at the first
// non-positive paired sum (Geyer's initial positive sequence).
func effectiveSampleSize(chains [][]float64) float64 {
	m := float64(len(chains))
	n := len(chains[0])
	total := m * float64(n)
	if n < 4 {
		return total
	}

	variance := 0.0
	for _, c := range chains {
		variance += stat.Variance(c, nil)
	}
	variance /= m
	if variance == 0 {
		return total
	}

	sum := 0.0
	for lag := 1; lag < n-2; lag += 2 {
		pair := avgAutocov(chains, lag)/variance + avgAutocov(chains, lag+1)/variance
		if pair <= 0 {
			break
		}
		sum += pair
	}

	ess := total / (1 + 2*sum)
	if ess > total {
		ess = total
	}
	return ess
}

// avgAutocov is the lag-k autocovariance averaged over chains.
func avgAutocov(chains [][]float64, lag int) float64 {
	acc := 0.0
	for _, c := range chains {
		mu := stat.Mean(c, nil)
		s := 0.0
		for i := 0; i+lag < len(c); i++ {
			s += (c[i] - mu) * (c[i+lag] - mu)
		}
		acc += s / float64(len(c))
	}
	return acc / float64(len(chains))
}

// mcse is the Monte Carlo standard error of the pooled mean: sd/sqrt(ESS).
func mcse(chains [][]float64, ess float64) float64 {
	if ess <= 0 {
		return math.NaN()
	}
	pooled := make([]float64, 0, len(chains)*len(chains[0]))
	for _, c := range chains {
		pooled = append(pooled, c...)
	}
	return stat.StdDev(pooled, nil) / math.Sqrt(ess)
}
