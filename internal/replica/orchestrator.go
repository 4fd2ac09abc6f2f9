package replica

import (
	"context"
	"log/slog"

	"tidemark/internal/handoff"
	"tidemark/internal/logging"
)

// Run dispatches all replicas through the selected backend, blocks at the
// fan-out barrier, and returns the handoff refs of every replica that
// completed together with the collected per-replica failures. A failure never
// aborts the remaining replicas; the aggregator is responsible for rejecting
// an incomplete set.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	backend := DetectBackend(opts)
	jobs := opts.jobs()

	log := logging.New("replica")
	log.Info("dispatching replicas",
		"run_id", opts.RunID,
		"replicas", opts.Replicas,
		"backend", backend.Name(),
		"draws", opts.Sampling.Draws())

	errs := backend.Run(ctx, jobs)

	return collect(jobs, errs, log), nil
}

// collect slots backend outcomes by replica id. Replicas may finish in any
// order; the job list fixes the mapping.
func collect(jobs []Job, errs []error, log *slog.Logger) *Result {
	res := &Result{Refs: make(map[int]handoff.Ref, len(jobs))}
	for i, job := range jobs {
		if errs[i] != nil {
			ee := &ExecError{ReplicaID: job.Ref.ReplicaID, Err: errs[i]}
			res.Errors = append(res.Errors, ee)
			log.Error("replica failed", "replica", job.Ref.ReplicaID, "error", errs[i])
			continue
		}
		res.Refs[job.Ref.ReplicaID] = job.Ref
	}
	log.Info("fan-out complete", "completed", len(res.Refs), "failed", len(res.Errors))
	return res
}
