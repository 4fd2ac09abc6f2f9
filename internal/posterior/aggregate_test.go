package posterior

import (
	"errors"
	"math/rand"
	"testing"

	"tidemark/internal/engine"
	"tidemark/internal/handoff"
)

// seedStore populates a memory store with replica records built from gen,
// which maps (replicaID, paramName) to a draw sequence.
func seedStore(t *testing.T, runID string, ids []int, params []string, draws int,
	gen func(id int, name string, i int) float64,
) (handoff.Store, map[int]handoff.Ref) {
	t.Helper()
	store := handoff.NewMemStore()
	refs := make(map[int]handoff.Ref, len(ids))
	for _, id := range ids {
		hist := make(engine.DrawHistory, len(params))
		for _, name := range params {
			seq := make([]float64, draws)
			for i := range seq {
				seq[i] = gen(id, name, i)
			}
			hist[name] = seq
		}
		ref := handoff.Ref{RunID: runID, ReplicaID: id}
		if err := store.Put(ref, &handoff.Record{ReplicaID: id, Draws: draws, History: hist}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		refs[id] = ref
	}
	return store, refs
}

func noise(id int, name string, i int) float64 {
	rng := rand.New(rand.NewSource(int64(id)*1000 + int64(len(name))))
	_ = i
	return rng.Float64()
}

func TestAggregateCanonicalShape(t *testing.T) {
	// 3 replicas, 2 tracked scalar parameters, 100 draws each.
	store, refs := seedStore(t, "run", []int{1, 2, 3}, []string{"mu", "sigma"}, 100,
		func(id int, name string, i int) float64 { return float64(id) + float64(i)/100 })

	arr, err := Aggregate(store, refs, 3)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if arr.Draws != 100 || len(arr.ReplicaIDs) != 3 || len(arr.Names) != 2 {
		t.Fatalf("array shape [%d][%d][%d], want [100][3][2]", arr.Draws, len(arr.ReplicaIDs), len(arr.Names))
	}

	// Slot check: replica axis follows ascending id, draw axis the sequence.
	if got := arr.At(5, 1, 0); got != 2.05 {
		t.Errorf("At(5,1,mu) = %g, want 2.05", got)
	}

	// Exactly 2 summaries for 2 tracked parameters.
	sums, err := SummarizeParams(arr, arr.Names, NewPooler(PoolAll, 1), IntervalQuantile)
	if err != nil {
		t.Fatalf("SummarizeParams: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2", len(sums))
	}
}

func TestAggregateRejectsMissingReplica(t *testing.T) {
	store, refs := seedStore(t, "run", []int{1, 2, 4, 5}, []string{"mu"}, 10, noise)

	// Dispatched 5, replica 3 never completed.
	_, err := Aggregate(store, refs, 5)
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("err = %v, want ErrAggregation", err)
	}
}

func TestAggregateRejectsDrawCountMismatch(t *testing.T) {
	store, refs := seedStore(t, "run", []int{1, 2}, []string{"mu"}, 10, noise)

	short := engine.DrawHistory{"mu": make([]float64, 7)}
	ref := handoff.Ref{RunID: "run", ReplicaID: 3}
	if err := store.Put(ref, &handoff.Record{ReplicaID: 3, Draws: 7, History: short}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	refs[3] = ref

	_, err := Aggregate(store, refs, 3)
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("err = %v, want ErrAggregation", err)
	}
}

func TestAggregateRejectsParameterSetMismatch(t *testing.T) {
	store, refs := seedStore(t, "run", []int{1, 2}, []string{"mu", "sigma"}, 10, noise)

	odd := engine.DrawHistory{"mu": make([]float64, 10), "tau": make([]float64, 10)}
	ref := handoff.Ref{RunID: "run", ReplicaID: 3}
	if err := store.Put(ref, &handoff.Record{ReplicaID: 3, Draws: 10, History: odd}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	refs[3] = ref

	_, err := Aggregate(store, refs, 3)
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("err = %v, want ErrAggregation", err)
	}
}

func TestAggregateRejectsEmptyRefSet(t *testing.T) {
	_, err := Aggregate(handoff.NewMemStore(), nil, 0)
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("err = %v, want ErrAggregation", err)
	}
}

func TestAggregateRejectsAbsentHandoff(t *testing.T) {
	store, refs := seedStore(t, "run", []int{1}, []string{"mu"}, 10, noise)
	refs[2] = handoff.Ref{RunID: "run", ReplicaID: 2} // ref exists, record does not

	_, err := Aggregate(store, refs, 2)
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("err = %v, want ErrAggregation", err)
	}
}

func TestSequenceAccess(t *testing.T) {
	store, refs := seedStore(t, "run", []int{1, 2}, []string{"x[1]", "x[2]"}, 5,
		func(id int, name string, i int) float64 { return float64(id * i) })

	arr, err := Aggregate(store, refs, 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	seq, err := arr.Sequence("x[2]", 1)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if seq[3] != 6 {
		t.Errorf("x[2] replica 2 draw 3 = %g, want 6", seq[3])
	}

	if _, err := arr.Sequence("nope", 0); err == nil {
		t.Error("unknown parameter accepted")
	}
	if _, err := arr.Sequence("x[1]", 5); err == nil {
		t.Error("replica index out of range accepted")
	}

	if got := arr.IndexedNames("x"); len(got) != 2 {
		t.Errorf("IndexedNames(x) = %v", got)
	}
}
