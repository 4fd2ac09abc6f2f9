package handoff

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps records in process memory. Safe for concurrent replicas on
// the goroutine-pool backend; useless across the process-pool boundary.
type MemStore struct {
	mu   sync.Mutex
	recs map[Ref]*Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[Ref]*Record)}
}

// Put implements Store.
func (s *MemStore) Put(ref Ref, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.recs[ref]; taken {
		return fmt.Errorf("%w: %s", ErrSlotTaken, ref)
	}
	s.recs[ref] = rec
	return nil
}

// Get implements Store.
func (s *MemStore) Get(ref Ref) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return rec, nil
}

// Refs implements Store.
func (s *MemStore) Refs(runID string) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []Ref
	for ref := range s.recs {
		if ref.RunID == runID {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ReplicaID < refs[j].ReplicaID })
	return refs, nil
}
