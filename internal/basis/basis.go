// Package basis builds the penalized regression-spline design matrix used by
// both the calibration and reconstruction stages. A raw cubic B-spline basis
// over uniformly spaced knots is reparameterized through the pseudoinverse of
// a first-order difference operator, yielding a reduced, identifiable design
// that an ordinary regression model can consume.
package basis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerateKnots is returned when the knot grid is too coarse to
	// support the requested spline degree.
	ErrDegenerateKnots = errors.New("basis: degenerate knot spacing")

	// ErrOutOfRange is returned when an observation covariate falls outside
	// the configured [xl, xr] interval.
	ErrOutOfRange = errors.New("basis: covariate outside [xl, xr]")
)

// Config describes the covariate grid geometry. Degree is fixed at 3 by all
// callers; it is a field so tests can exercise the construction generically.
type Config struct {
	XL     float64 `yaml:"xl" json:"xl"`
	XR     float64 `yaml:"xr" json:"xr"`
	DX     float64 `yaml:"dx" json:"dx"`
	Degree int     `yaml:"degree" json:"degree"`
}

// Validate checks the grid geometry before any replica is dispatched.
func (c Config) Validate() error {
	if c.Degree <= 0 {
		return fmt.Errorf("%w: degree %d", ErrDegenerateKnots, c.Degree)
	}
	if c.DX <= 0 {
		return fmt.Errorf("%w: dx %g", ErrDegenerateKnots, c.DX)
	}
	if c.XR <= c.XL {
		return fmt.Errorf("%w: empty interval [%g, %g]", ErrDegenerateKnots, c.XL, c.XR)
	}
	if c.rawSize() <= c.Degree+1 {
		return fmt.Errorf("%w: %d basis functions for degree %d", ErrDegenerateKnots, c.rawSize(), c.Degree)
	}
	return nil
}

// Knots returns the uniformly spaced knot positions spanning
// [xl − deg·dx, xr + deg·dx]. The grid is immutable per stage: identical
// configs always produce identical knots.
func (c Config) Knots() []float64 {
	n := c.knotCount()
	knots := make([]float64, n)
	start := c.XL - float64(c.Degree)*c.DX
	for i := range knots {
		knots[i] = start + float64(i)*c.DX
	}
	return knots
}

// knotCount is ⌈(xr − xl)/dx⌉ + 2·deg + 1.
func (c Config) knotCount() int {
	inner := int(math.Ceil((c.XR - c.XL) / c.DX))
	return inner + 2*c.Degree + 1
}

// rawSize is K, the number of raw B-spline basis functions.
func (c Config) rawSize() int {
	return c.knotCount() - c.Degree - 1
}

// Design is the constructed basis for a fixed covariate vector.
type Design struct {
	// Z is the n×H reduced design matrix.
	Z *mat.Dense
	// Raw is the n×K unpenalized B-spline basis.
	Raw *mat.Dense
	// Transform is the K×H reparameterization matrix Δᵗ(ΔΔᵗ)⁻¹.
	Transform *mat.Dense
	// K and H are the raw and reduced basis dimensions, H = K−1.
	K, H int
}

// Build evaluates the reduced basis at every covariate in x. The construction
// is deterministic: identical (cfg, x) inputs yield bit-identical matrices.
func Build(cfg Config, x []float64) (*Design, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i, v := range x {
		if v < cfg.XL || v > cfg.XR {
			return nil, fmt.Errorf("%w: x[%d]=%g", ErrOutOfRange, i, v)
		}
	}

	raw, err := rawBasis(cfg, x)
	if err != nil {
		return nil, err
	}
	k := cfg.rawSize()

	t, err := transform(k)
	if err != nil {
		return nil, err
	}

	var z mat.Dense
	z.Mul(raw, t)

	return &Design{Z: &z, Raw: raw, Transform: t, K: k, H: k - 1}, nil
}

// rawBasis builds the n×K cubic B-spline basis by differencing truncated
// polynomials over the uniform knot grid.
func rawBasis(cfg Config, x []float64) (*mat.Dense, error) {
	knots := cfg.Knots()
	deg := cfg.Degree
	k := cfg.rawSize()

	// Truncated power functions: P[i][j] = (x_i − t_j)^deg for x_i > t_j.
	p := mat.NewDense(len(x), len(knots), nil)
	for i, xi := range x {
		for j, tj := range knots {
			if xi > tj {
				p.Set(i, j, math.Pow(xi-tj, float64(deg)))
			}
		}
	}

	// Scaled difference operator of order deg+1 maps truncated powers to
	// B-splines: B = (−1)^(deg+1) · P · Dᵗ / (deg! · dx^deg).
	d := diffOperator(len(knots), deg+1)
	scale := math.Pow(-1, float64(deg+1)) / (factorial(deg) * math.Pow(cfg.DX, float64(deg)))

	var b mat.Dense
	b.Mul(p, d.T())
	b.Scale(scale, &b)

	if r, c := b.Dims(); r != len(x) || c != k {
		return nil, fmt.Errorf("basis: raw basis is %dx%d, want %dx%d", r, c, len(x), k)
	}
	return &b, nil
}

// transform returns the K×H matrix Δᵗ(ΔΔᵗ)⁻¹ for the first-order difference
// operator Δ of shape (K−1)×K. Projecting the raw basis through it converts
// the difference-penalized coefficient space into an ordinary regression
// design of dimension H = K−1.
func transform(k int) (*mat.Dense, error) {
	d1 := diffOperator(k, 1)

	var gram mat.Dense // ΔΔᵗ, (K−1)×(K−1)
	gram.Mul(d1, d1.T())

	// Solve (ΔΔᵗ)X = Δ, then T = Xᵗ.
	var x mat.Dense
	if err := x.Solve(&gram, d1); err != nil {
		return nil, fmt.Errorf("basis: difference operator pseudoinverse: %w", err)
	}

	t := mat.DenseCopyOf(x.T())
	return t, nil
}

// diffOperator builds the (n−order)×n finite-difference matrix of the given
// order, with binomial-coefficient rows (−1)^(order−j)·C(order, j).
func diffOperator(n, order int) *mat.Dense {
	rows := n - order
	d := mat.NewDense(rows, n, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j <= order; j++ {
			sign := 1.0
			if (order-j)%2 == 1 {
				sign = -1.0
			}
			d.Set(i, i+j, sign*binomial(order, j))
		}
	}
	return d
}

func binomial(n, k int) float64 {
	v := 1.0
	for i := 0; i < k; i++ {
		v = v * float64(n-i) / float64(i+1)
	}
	return v
}

func factorial(n int) float64 {
	v := 1.0
	for i := 2; i <= n; i++ {
		v *= float64(i)
	}
	return v
}

// EvalGrid returns an evenly spaced evaluation grid of size points across
// [xl, xr], used for posterior-predictive curve summaries.
func (c Config) EvalGrid(points int) []float64 {
	if points < 2 {
		return []float64{c.XL}
	}
	grid := make([]float64, points)
	step := (c.XR - c.XL) / float64(points-1)
	for i := range grid {
		grid[i] = c.XL + float64(i)*step
	}
	grid[points-1] = c.XR
	return grid
}
