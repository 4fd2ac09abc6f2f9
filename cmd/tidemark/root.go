// tidemark reconstructs paleoenvironmental covariates from biological count
// compositions: calibrate learns smooth response curves from samples with
// known covariates, reconstruct inverts them for new samples, validate
// cross-validates the whole pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tidemark/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "tidemark",
	Short: "Bayesian covariate reconstruction from count compositions",
	Long: "Tidemark fits penalized-spline response curves to count compositions\n" +
		"with known covariates, then reconstructs the covariate for new samples\n" +
		"with credible intervals, running MCMC chains as parallel replicas.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(reconstructCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
