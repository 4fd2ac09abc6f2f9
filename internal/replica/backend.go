package replica

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/logging"
)

// Backend is the concurrency strategy for one fan-out. Run executes every
// job, blocks until all of them finish (a static barrier), and returns one
// error slot per job in job order. Completion order is irrelevant: results
// are slotted by replica id through the handoff store.
type Backend interface {
	Name() string
	Run(ctx context.Context, jobs []Job) []error
}

// DetectBackend probes the options and picks a strategy: sequential when
// parallelism is off or pointless, the worker-process pool when isolation is
// requested, and the goroutine pool otherwise (the payload is read-only, so
// replicas share it safely in one address space).
func DetectBackend(o Options) Backend {
	if !o.Parallel || o.Replicas == 1 {
		return &sequential{exec: makeExecutor(o)}
	}
	if o.Isolate {
		return &processPool{opts: o, workers: o.workerCount()}
	}
	return &goroutinePool{exec: makeExecutor(o), workers: o.workerCount()}
}

// executor runs one replica end to end: sample, then persist the handoff
// record. Shared by the sequential and goroutine-pool backends.
type executor func(ctx context.Context, job Job) error

func makeExecutor(o Options) executor {
	return func(ctx context.Context, job Job) error {
		eng := o.Engine
		if eng == nil {
			var err error
			eng, err = engine.Lookup(job.Engine)
			if err != nil {
				return err
			}
		}

		history, err := eng.Sample(ctx, job.Spec, job.Payload, job.Sampling, job.Seed)
		if err != nil {
			return fmt.Errorf("engine %s: %w", eng.Name(), err)
		}

		rec := &handoff.Record{
			ReplicaID: job.Ref.ReplicaID,
			Seed:      job.Seed,
			Draws:     job.Sampling.Draws(),
			History:   history,
		}
		if err := o.Store.Put(job.Ref, rec); err != nil {
			return err
		}
		return nil
	}
}

// sequential executes replicas one at a time on the calling goroutine.
type sequential struct {
	exec executor
}

func (s *sequential) Name() string { return "sequential" }

func (s *sequential) Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		errs[i] = s.exec(ctx, job)
	}
	return errs
}

// goroutinePool executes replicas concurrently in one address space. The
// payload is shared read-only across workers.
type goroutinePool struct {
	exec    executor
	workers int
}

func (p *goroutinePool) Name() string { return "goroutine-pool" }

func (p *goroutinePool) Run(ctx context.Context, jobs []Job) []error {
	log := logging.New("replica")
	log.Debug("goroutine pool start", "workers", p.workers, "replicas", len(jobs))

	errs := make([]error, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, job := range jobs {
		g.Go(func() error {
			errs[i] = p.exec(gctx, job)
			return nil // failures are slotted, not propagated
		})
	}
	_ = g.Wait()
	return errs
}
