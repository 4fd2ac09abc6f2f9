package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FSStore persists records as one JSON file per (run, replica) under a root
// directory. Concurrent replicas write distinct slots, so no locking is
// needed beyond the write-once check.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at dir. An empty dir places
// the run under the host's temp storage, whose lifecycle owns cleanup.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "tidemark-handoff-")
		if err != nil {
			return nil, fmt.Errorf("handoff: create temp root: %w", err)
		}
		dir = tmp
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("handoff: create root %s: %w", dir, err)
	}
	return &FSStore{root: dir}, nil
}

// Root returns the store's base directory.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) path(ref Ref) string {
	return filepath.Join(s.root, ref.RunID, fmt.Sprintf("replica-%d.json", ref.ReplicaID))
}

// Put implements Store. The record is written to a temp file and renamed so
// readers never observe a partial slot.
func (s *FSStore) Put(ref Ref, rec *Record) error {
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrSlotTaken, ref)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("handoff: create run dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("handoff: marshal %s: %w", ref, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("handoff: write %s: %w", ref, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("handoff: publish %s: %w", ref, err)
	}
	return nil
}

// Get implements Store.
func (s *FSStore) Get(ref Ref) (*Record, error) {
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("handoff: read %s: %w", ref, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("handoff: decode %s: %w", ref, err)
	}
	return &rec, nil
}

// Refs implements Store.
func (s *FSStore) Refs(runID string) ([]Ref, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handoff: list run %s: %w", runID, err)
	}

	var refs []Ref
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "replica-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "replica-"), ".json"))
		if err != nil {
			continue
		}
		refs = append(refs, Ref{RunID: runID, ReplicaID: id})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ReplicaID < refs[j].ReplicaID })
	return refs, nil
}
