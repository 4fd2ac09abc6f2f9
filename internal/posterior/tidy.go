package posterior

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// CurvePoint is one row of the tidy long-format predictive-curve table.
type CurvePoint struct {
	Grid     float64
	Category string
	Estimate float64
	Lower    float64
	Upper    float64
}

// Reconstruction is one row of the tidy covariate-reconstruction table.
// Truth is the optional ground-truth covariate (validation runs).
type Reconstruction struct {
	Obs       int
	Estimate  float64
	Precision float64
	Lower     float64
	Upper     float64
	Truth     *float64
}

// WriteCurvesCSV renders predictive-curve rows for external consumers.
func WriteCurvesCSV(w io.Writer, points []CurvePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"grid", "category", "estimate", "lower", "upper"}); err != nil {
		return fmt.Errorf("posterior: write curve header: %w", err)
	}
	for _, p := range points {
		rec := []string{
			formatFloat(p.Grid),
			p.Category,
			formatFloat(p.Estimate),
			formatFloat(p.Lower),
			formatFloat(p.Upper),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("posterior: write curve row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReconstructionsCSV renders covariate-reconstruction rows.
func WriteReconstructionsCSV(w io.Writer, rows []Reconstruction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"observation", "estimate", "precision", "lower", "upper", "truth"}); err != nil {
		return fmt.Errorf("posterior: write reconstruction header: %w", err)
	}
	for _, r := range rows {
		truth := ""
		if r.Truth != nil {
			truth = formatFloat(*r.Truth)
		}
		rec := []string{
			strconv.Itoa(r.Obs),
			formatFloat(r.Estimate),
			formatFloat(r.Precision),
			formatFloat(r.Lower),
			formatFloat(r.Upper),
			truth,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("posterior: write reconstruction row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
