package calibrate

import (
	"fmt"
	"math"

	"tidemark/internal/basis"
	"tidemark/internal/posterior"
)

// predictiveCurves evaluates the per-category response curves over an evenly
// spaced covariate grid. The basis mapping is evaluated per draw, producing
// one curve-value sequence per (grid point, category) coordinate per replica;
// those sequences are then pooled and reduced to quantile intervals.
func predictiveCurves(arr *posterior.SampleArray, cfg basis.Config, order []string,
	begin0, gridPoints int, pooler *posterior.Pooler,
) ([]posterior.CurvePoint, error) {
	grid := cfg.EvalGrid(gridPoints)
	design, err := basis.Build(cfg, grid)
	if err != nil {
		return nil, err
	}

	m := len(order)
	replicas := len(arr.ReplicaIDs)

	alpha := make([][][]float64, m) // [category][replica][draw]
	for j := 0; j < m; j++ {
		name := fmt.Sprintf("alpha[%d]", j+1)
		seqs, err := arr.Sequences(name)
		if err != nil {
			return nil, err
		}
		alpha[j] = seqs
	}

	delta := make([][][][]float64, design.H) // [h][category<begin0][replica][draw]
	for h := 0; h < design.H; h++ {
		delta[h] = make([][][]float64, begin0)
		for j := 0; j < begin0; j++ {
			name := fmt.Sprintf("delta.hj[%d,%d]", h+1, j+1)
			seqs, err := arr.Sequences(name)
			if err != nil {
				return nil, err
			}
			delta[h][j] = seqs
		}
	}

	// values[g][j][r] is the draw sequence of category j's proportion at
	// grid point g in replica r.
	values := make([][][][]float64, len(grid))
	for g := range grid {
		values[g] = make([][][]float64, m)
		for j := 0; j < m; j++ {
			values[g][j] = make([][]float64, replicas)
			for r := 0; r < replicas; r++ {
				values[g][j][r] = make([]float64, arr.Draws)
			}
		}
	}

	eta := make([]float64, m)
	for r := 0; r < replicas; r++ {
		for d := 0; d < arr.Draws; d++ {
			for g := range grid {
				for j := 0; j < m; j++ {
					e := alpha[j][r][d]
					if j < begin0 {
						for h := 0; h < design.H; h++ {
							e += design.Z.At(g, h) * delta[h][j][r][d]
						}
					}
					eta[j] = e
				}
				softmaxInto(eta)
				for j := 0; j < m; j++ {
					values[g][j][r][d] = eta[j]
				}
			}
		}
	}

	points := make([]posterior.CurvePoint, 0, len(grid)*m)
	for g, x := range grid {
		for j, label := range order {
			s := posterior.Summarize(pooler.PoolChains(values[g][j]), posterior.IntervalQuantile)
			points = append(points, posterior.CurvePoint{
				Grid:     x,
				Category: label,
				Estimate: s.Mean,
				Lower:    s.Lower,
				Upper:    s.Upper,
			})
		}
	}
	return points, nil
}

// softmaxInto normalizes log-scale values to proportions in place, shifting
// by the max for numerical stability.
func softmaxInto(eta []float64) {
	maxv := eta[0]
	for _, v := range eta[1:] {
		if v > maxv {
			maxv = v
		}
	}
	sum := 0.0
	for i, v := range eta {
		eta[i] = math.Exp(v - maxv)
		sum += eta[i]
	}
	for i := range eta {
		eta[i] /= sum
	}
}
