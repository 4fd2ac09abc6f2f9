// Package dataset loads and normalizes the proxy count compositions. The
// calibration stage derives a fixed category ordering (most to least
// abundant) and an informative/uninformative boundary index; reconstruction
// tables are reindexed to exactly match that calibration order.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

var (
	// ErrZeroRowTotal is returned when an observation has no counts at all.
	ErrZeroRowTotal = errors.New("dataset: observation row total is zero")

	// ErrUnknownCategory is returned when a reconstruction table carries a
	// non-empty category that was absent at calibration.
	ErrUnknownCategory = errors.New("dataset: category not present at calibration")
)

// Table is an n×m non-negative count composition, one row per observation.
type Table struct {
	Labels []string
	Counts [][]int
	Totals []int
}

// Rows returns the observation count n.
func (t *Table) Rows() int { return len(t.Counts) }

// Cols returns the category count m.
func (t *Table) Cols() int { return len(t.Labels) }

// Load reads a count table from CSV: a header row of category labels
// followed by one integer row per observation. Zero-total rows are a
// load-time error (fatal before any replica is dispatched).
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a count table from r. See Load for the expected layout.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("dataset: need a header row and at least one observation, got %d rows", len(records))
	}

	t := &Table{Labels: records[0]}
	for i, rec := range records[1:] {
		if len(rec) != len(t.Labels) {
			return nil, fmt.Errorf("dataset: row %d has %d fields, want %d", i+1, len(rec), len(t.Labels))
		}
		row := make([]int, len(rec))
		total := 0
		for j, field := range rec {
			v, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("dataset: row %d col %d: %w", i+1, j, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("dataset: row %d col %d: negative count %d", i+1, j, v)
			}
			row[j] = v
			total += v
		}
		if total == 0 {
			return nil, fmt.Errorf("%w: row %d", ErrZeroRowTotal, i+1)
		}
		t.Counts = append(t.Counts, row)
		t.Totals = append(t.Totals, total)
	}
	return t, nil
}

// Order ranks categories most-to-least abundant by column total, breaking
// ties by label so the ranking is deterministic. Computed once during
// calibration and reused verbatim during reconstruction.
func Order(t *Table) []string {
	sums := make([]int, t.Cols())
	for _, row := range t.Counts {
		for j, v := range row {
			sums[j] += v
		}
	}

	idx := make([]int, t.Cols())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if sums[idx[a]] != sums[idx[b]] {
			return sums[idx[a]] > sums[idx[b]]
		}
		return t.Labels[idx[a]] < t.Labels[idx[b]]
	})

	order := make([]string, t.Cols())
	for i, j := range idx {
		order[i] = t.Labels[j]
	}
	return order
}

// Reindex reorders t's columns to exactly match the calibration category
// order. Calibration categories missing from t become zero columns; a
// non-empty category of t that the order does not contain is fatal.
func Reindex(t *Table, order []string) (*Table, error) {
	pos := make(map[string]int, len(order))
	for i, label := range order {
		pos[label] = i
	}

	for j, label := range t.Labels {
		if _, ok := pos[label]; ok {
			continue
		}
		for _, row := range t.Counts {
			if row[j] != 0 {
				return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, label)
			}
		}
	}

	col := make(map[string]int, t.Cols())
	for j, label := range t.Labels {
		col[label] = j
	}

	out := &Table{
		Labels: append([]string(nil), order...),
		Totals: append([]int(nil), t.Totals...),
	}
	for _, row := range t.Counts {
		newRow := make([]int, len(order))
		for i, label := range order {
			if j, ok := col[label]; ok {
				newRow[i] = row[j]
			}
		}
		out.Counts = append(out.Counts, newRow)
	}
	return out, nil
}

// Begin0 returns the boundary index separating categories with informative
// response curves from those treated as uninformative baseline: the first
// position in the ordered totals at or below threshold. Categories are
// assumed already ranked most-to-least abundant.
func Begin0(orderedTotals []int, threshold int) int {
	for i, v := range orderedTotals {
		if v <= threshold {
			return i
		}
	}
	return len(orderedTotals)
}

// Subset returns a new table containing only the given observation rows, in
// the given order. Used by cross-validation to split folds.
func Subset(t *Table, rows []int) (*Table, error) {
	out := &Table{Labels: append([]string(nil), t.Labels...)}
	for _, i := range rows {
		if i < 0 || i >= t.Rows() {
			return nil, fmt.Errorf("dataset: row %d out of range [0, %d)", i, t.Rows())
		}
		out.Counts = append(out.Counts, append([]int(nil), t.Counts[i]...))
		out.Totals = append(out.Totals, t.Totals[i])
	}
	return out, nil
}

// ColumnTotals returns per-category totals in t's current column order.
func ColumnTotals(t *Table) []int {
	sums := make([]int, t.Cols())
	for _, row := range t.Counts {
		for j, v := range row {
			sums[j] += v
		}
	}
	return sums
}
