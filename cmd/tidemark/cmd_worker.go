package main

import (
	"github.com/spf13/cobra"

	"tidemark/internal/replica"
)

var workerFlags struct {
	job string
}

// workerCmd is the process-pool entry point: the orchestrator re-executes the
// current binary with this subcommand, one process per chain.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single sampling chain from a job file (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return replica.ExecuteWorkerJob(cmd.Context(), workerFlags.job)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerFlags.job, "job", "", "Serialized chain job file")
	_ = workerCmd.MarkFlagRequired("job")
}
