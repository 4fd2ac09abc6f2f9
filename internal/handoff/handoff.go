// Package handoff is the durable rendezvous between replicas and the sample
// aggregator. Each replica persists exactly one record on completion; the
// aggregator reads each record exactly once. The store is pluggable: the
// filesystem store is the default (it survives the process-pool boundary),
// the in-memory store serves goroutine-pool runs and tests.
package handoff

import (
	"errors"
	"fmt"

	"tidemark/internal/engine"
)

// ErrSlotTaken is returned when a replica attempts to overwrite another
// replica's slot. Slots are write-once per (run, replica).
var ErrSlotTaken = errors.New("handoff: slot already written")

// ErrNotFound is returned when a record is absent from the store.
var ErrNotFound = errors.New("handoff: record not found")

// Ref addresses one replica's record within a run.
type Ref struct {
	RunID     string `json:"run_id"`
	ReplicaID int    `json:"replica_id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/replica-%d", r.RunID, r.ReplicaID)
}

// Record carries one replica's full raw draw history.
type Record struct {
	ReplicaID int                `json:"replica_id"`
	Seed      int64              `json:"seed"`
	Draws     int                `json:"draws"`
	History   engine.DrawHistory `json:"history"`
}

// Store persists and retrieves replica records.
type Store interface {
	// Put writes a record to its slot. Writing an occupied slot fails with
	// ErrSlotTaken.
	Put(ref Ref, rec *Record) error
	// Get reads the record at ref, or ErrNotFound.
	Get(ref Ref) (*Record, error)
	// Refs lists the refs present for a run, ordered by replica id.
	Refs(runID string) ([]Ref, error)
}
