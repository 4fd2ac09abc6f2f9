package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"tidemark/internal/engine"
	"tidemark/internal/handoff"
	"tidemark/internal/logging"
)

// WorkerJob is the serialized work order a worker process receives. The
// address space is not inherited, so everything a replica needs (payload,
// model spec, engine name, handoff location) is exported explicitly and the
// engine is re-resolved by name inside the worker.
type WorkerJob struct {
	Job        Job    `json:"job"`
	HandoffDir string `json:"handoff_dir"`
}

// processPool executes each replica in its own worker process, spawned from
// the current executable's hidden `worker` subcommand. Used when replicas
// must not share the orchestrator's address space.
type processPool struct {
	opts    Options
	workers int
}

func (p *processPool) Name() string { return "process-pool" }

func (p *processPool) Run(ctx context.Context, jobs []Job) []error {
	log := logging.New("replica")

	errs := make([]error, len(jobs))

	fs, ok := p.opts.Store.(*handoff.FSStore)
	if !ok {
		err := fmt.Errorf("replica: process pool requires a filesystem handoff store")
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	exe, err := os.Executable()
	if err != nil {
		for i := range errs {
			errs[i] = fmt.Errorf("replica: resolve executable: %w", err)
		}
		return errs
	}

	jobDir, err := os.MkdirTemp("", "tidemark-jobs-")
	if err != nil {
		for i := range errs {
			errs[i] = fmt.Errorf("replica: create job dir: %w", err)
		}
		return errs
	}
	defer os.RemoveAll(jobDir)

	log.Debug("process pool start", "workers", p.workers, "replicas", len(jobs), "exe", exe)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, job := range jobs {
		g.Go(func() error {
			errs[i] = p.spawn(gctx, exe, jobDir, fs.Root(), job)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// spawn writes the job file, runs one worker process, and relays its failure
// output if it exits non-zero.
func (p *processPool) spawn(ctx context.Context, exe, jobDir, handoffRoot string, job Job) error {
	wj := WorkerJob{Job: job, HandoffDir: handoffRoot}
	data, err := json.Marshal(wj)
	if err != nil {
		return fmt.Errorf("replica: marshal worker job: %w", err)
	}

	jobPath := filepath.Join(jobDir, fmt.Sprintf("job-%d.json", job.Ref.ReplicaID))
	if err := os.WriteFile(jobPath, data, 0o644); err != nil {
		return fmt.Errorf("replica: write worker job: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, "worker", "--job", jobPath)
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("replica: worker process: %w: %s", err, strings.TrimSpace(out.String()))
	}
	return nil
}

// ExecuteWorkerJob is the worker-process entry point: it loads the job file,
// re-resolves the engine by name, samples, and persists the handoff record.
// Called by the hidden `worker` CLI subcommand.
func ExecuteWorkerJob(ctx context.Context, jobPath string) error {
	data, err := os.ReadFile(jobPath)
	if err != nil {
		return fmt.Errorf("replica: read worker job: %w", err)
	}
	var wj WorkerJob
	if err := json.Unmarshal(data, &wj); err != nil {
		return fmt.Errorf("replica: decode worker job: %w", err)
	}

	eng, err := engine.Lookup(wj.Job.Engine)
	if err != nil {
		return err
	}

	store, err := handoff.NewFSStore(wj.HandoffDir)
	if err != nil {
		return err
	}

	history, err := eng.Sample(ctx, wj.Job.Spec, wj.Job.Payload, wj.Job.Sampling, wj.Job.Seed)
	if err != nil {
		return fmt.Errorf("engine %s: %w", eng.Name(), err)
	}

	rec := &handoff.Record{
		ReplicaID: wj.Job.Ref.ReplicaID,
		Seed:      wj.Job.Seed,
		Draws:     wj.Job.Sampling.Draws(),
		History:   history,
	}
	return store.Put(wj.Job.Ref, rec)
}
