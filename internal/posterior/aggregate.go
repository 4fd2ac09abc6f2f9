// Package posterior reconstructs the canonical multi-replica sample array
// from persisted handoff records, runs the convergence and efficiency
// diagnostics that gate downstream use, and reduces raw draws into point
// estimates, credible intervals and tidy long-format summaries.
package posterior

import (
	"errors"
	"fmt"
	"sort"

	"tidemark/internal/handoff"
	"tidemark/internal/logging"
)

// ErrAggregation marks a fatal aggregation failure: a missing handoff, a
// draw-count mismatch, or a parameter-set mismatch across replicas. No
// partial canonical array is ever produced.
var ErrAggregation = errors.New("posterior: aggregation failed")

// SampleArray is the canonical 3-axis structure [draw][replica][parameter].
// Every replica contributes the same draw count and the same parameter set.
type SampleArray struct {
	// Draws is the per-replica retained draw count.
	Draws int
	// ReplicaIDs lists contributing replicas in ascending id order.
	ReplicaIDs []int
	// Names lists parameter names in deterministic structured order.
	Names []string

	index map[string]int
	// data is laid out [param][replica][draw] for cheap sequence access;
	// At exposes the canonical axis order.
	data [][][]float64
}

// At returns the value at (draw, replica, parameter) canonical coordinates.
func (a *SampleArray) At(draw, replica, param int) float64 {
	return a.data[param][replica][draw]
}

// Sequence returns one replica's full draw sequence for a parameter. The
// returned slice is shared, not copied: callers must not mutate it.
func (a *SampleArray) Sequence(name string, replica int) ([]float64, error) {
	p, ok := a.index[name]
	if !ok {
		return nil, fmt.Errorf("posterior: unknown parameter %q", name)
	}
	if replica < 0 || replica >= len(a.ReplicaIDs) {
		return nil, fmt.Errorf("posterior: replica index %d out of range", replica)
	}
	return a.data[p][replica], nil
}

// Sequences returns every replica's draw sequence for a parameter.
func (a *SampleArray) Sequences(name string) ([][]float64, error) {
	p, ok := a.index[name]
	if !ok {
		return nil, fmt.Errorf("posterior: unknown parameter %q", name)
	}
	return a.data[p], nil
}

// Has reports whether the array tracks the named parameter.
func (a *SampleArray) Has(name string) bool {
	_, ok := a.index[name]
	return ok
}

// Aggregate loads every replica's handoff record and stacks the draw
// histories into the canonical array. expected is the dispatched replica
// count: a smaller ref set means a replica never completed, which is fatal.
func Aggregate(store handoff.Store, refs map[int]handoff.Ref, expected int) (*SampleArray, error) {
	log := logging.New("posterior")

	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no handoff refs", ErrAggregation)
	}
	if len(refs) != expected {
		missing := missingIDs(refs, expected)
		return nil, fmt.Errorf("%w: %d of %d replicas completed (missing %v)", ErrAggregation, len(refs), expected, missing)
	}

	ids := make([]int, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	recs := make([]*handoff.Record, len(ids))
	for i, id := range ids {
		rec, err := store.Get(refs[id])
		if err != nil {
			return nil, fmt.Errorf("%w: replica %d: %v", ErrAggregation, id, err)
		}
		recs[i] = rec
	}

	names, err := verify(ids, recs)
	if err != nil {
		return nil, err
	}
	draws := len(recs[0].History[names[0]])

	arr := &SampleArray{
		Draws:      draws,
		ReplicaIDs: ids,
		Names:      names,
		index:      make(map[string]int, len(names)),
		data:       make([][][]float64, len(names)),
	}
	for p, name := range names {
		arr.index[name] = p
		arr.data[p] = make([][]float64, len(ids))
		for r, rec := range recs {
			arr.data[p][r] = rec.History[name]
		}
	}

	log.Info("canonical array built", "draws", draws, "replicas", len(ids), "parameters", len(names))
	return arr, nil
}

// verify checks that every replica exposes the identical parameter-name set
// and identical draw count, returning the deterministic name ordering.
func verify(ids []int, recs []*handoff.Record) ([]string, error) {
	names := make([]string, 0, len(recs[0].History))
	for name := range recs[0].History {
		if _, err := ParseParamName(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAggregation, err)
		}
		names = append(names, name)
	}
	sortNames(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: replica %d has an empty draw history", ErrAggregation, ids[0])
	}

	draws := len(recs[0].History[names[0]])
	for i, rec := range recs {
		if len(rec.History) != len(names) {
			return nil, fmt.Errorf("%w: replica %d tracks %d parameters, replica %d tracks %d",
				ErrAggregation, ids[0], len(names), ids[i], len(rec.History))
		}
		for _, name := range names {
			seq, ok := rec.History[name]
			if !ok {
				return nil, fmt.Errorf("%w: replica %d is missing parameter %q", ErrAggregation, ids[i], name)
			}
			if len(seq) != draws {
				return nil, fmt.Errorf("%w: parameter %q: replica %d has %d draws, replica %d has %d",
					ErrAggregation, name, ids[0], draws, ids[i], len(seq))
			}
		}
	}
	return names, nil
}

func missingIDs(refs map[int]handoff.Ref, expected int) []int {
	var missing []int
	for id := 1; id <= expected; id++ {
		if _, ok := refs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
