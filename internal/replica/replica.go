// Package replica fans out independent stochastic-sampling replicas (chains
// or cross-validation folds), each with a deterministic seed and an identical
// read-only payload, and rendezvouses their results through the handoff
// store. Concurrency is replica-level only: a backend strategy decides how
// replicas execute (sequentially, on a bounded goroutine pool, or in worker
// processes), never how a single replica samples.
package replica

import (
	"fmt"
	"runtime"

	"tidemark/internal/engine"
	"tidemark/internal/handoff"
)

// SeedStride is the fixed constant multiplied by the replica id to form its
// seed. Computed once at dispatch; replicas never consult ambient state.
const SeedStride = 4001

// Job is one replica's immutable work order. Created at dispatch time and
// never mutated afterwards.
type Job struct {
	Ref      handoff.Ref           `json:"ref"`
	Seed     int64                 `json:"seed"`
	Engine   string                `json:"engine"`
	Spec     engine.ModelSpec      `json:"spec"`
	Payload  *engine.Payload       `json:"payload"`
	Sampling engine.SamplingConfig `json:"sampling"`
}

// ExecError tags an external-engine failure with the replica that hit it.
// Replica failures are collected after the fan-out barrier, never retried.
type ExecError struct {
	ReplicaID int
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("replica %d: %v", e.ReplicaID, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Result is what a fan-out returns: a handoff ref per completed replica plus
// the collected per-replica failures. Callers must treat a non-empty Errors
// slice as an incomplete replica set; aggregation will reject it.
type Result struct {
	Refs   map[int]handoff.Ref
	Errors []*ExecError
}

// Failed reports whether any replica failed.
func (r *Result) Failed() bool { return len(r.Errors) > 0 }

// Options configures one fan-out.
type Options struct {
	// RunID names the handoff run directory. Required.
	RunID string
	// Replicas is R, the number of independent replicas (ids 1..R).
	Replicas int
	// Parallel enables concurrent execution. With Parallel false or R = 1,
	// replicas run one at a time on the calling goroutine.
	Parallel bool
	// Workers caps concurrency; 0 means detected cores − 1. The effective
	// pool size is min(workers, R).
	Workers int
	// Isolate forces the worker-process backend, which re-resolves the
	// engine by name in a fresh address space per replica.
	Isolate bool
	// EngineName resolves the engine in worker processes (and in-process
	// when Engine is nil).
	EngineName string
	// Engine optionally supplies a pre-built engine for in-process backends.
	Engine engine.Engine
	// Store receives one record per completed replica. The process-pool
	// backend requires a *handoff.FSStore.
	Store handoff.Store

	Spec     engine.ModelSpec
	Payload  *engine.Payload
	Sampling engine.SamplingConfig
}

// workerCount applies the min(requested_or_(cores−1), R) rule.
func (o Options) workerCount() int {
	w := o.Workers
	if w <= 0 {
		w = runtime.NumCPU() - 1
	}
	if w < 1 {
		w = 1
	}
	if w > o.Replicas {
		w = o.Replicas
	}
	return w
}

func (o Options) validate() error {
	if o.RunID == "" {
		return fmt.Errorf("replica: run id is required")
	}
	if o.Replicas < 1 {
		return fmt.Errorf("replica: need at least one replica, got %d", o.Replicas)
	}
	if o.Store == nil {
		return fmt.Errorf("replica: handoff store is required")
	}
	if o.Payload == nil {
		return fmt.Errorf("replica: payload is required")
	}
	if err := o.Sampling.Validate(); err != nil {
		return err
	}
	if o.Engine == nil && o.EngineName == "" {
		return fmt.Errorf("replica: engine or engine name is required")
	}
	return nil
}

// jobs builds the immutable work orders. Seeds are id × SeedStride so runs
// are reproducible given the same replica ids.
func (o Options) jobs() []Job {
	out := make([]Job, o.Replicas)
	for i := range out {
		id := i + 1
		out[i] = Job{
			Ref:      handoff.Ref{RunID: o.RunID, ReplicaID: id},
			Seed:     int64(id) * SeedStride,
			Engine:   o.EngineName,
			Spec:     o.Spec,
			Payload:  o.Payload,
			Sampling: o.Sampling,
		}
	}
	return out
}
