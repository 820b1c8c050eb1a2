package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bex",
		Short: "OpenBex - Billing Export Provisioning Engine",
		Long: `OpenBex converges cloud targets (subscriptions, billing accounts) onto
billing-export resources and keeps them there across runs.

Features:
  - Typed run configuration via CUE
  - Deterministic export resource naming and create-if-absent convergence
  - Credential fallback chains with capability propagation waits
  - OPA policies for target exclusion
  - Durable reconciliation state in SQLite
  - Dry-run planning with real reads and suppressed mutations`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "openbex.cue", "run configuration file or directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProvidersCommand())

	return rootCmd
}
