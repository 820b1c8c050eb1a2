package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		targets     []string
		parallelism int
		autoApprove bool
		policyDirs  []string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge targets onto billing-export resources",
		Long: `Execute a provisioning run. Targets are enumerated fresh, filtered by
policy, and converged in parallel: existing export resources are confirmed,
missing ones created with the variant fallback order for the target's
classification, and terminal outcomes persisted to the state store.

Targets already recorded as converged are skipped. The command exits
non-zero when the run aborts or any target ends failed.`,
		Example: `  # Converge everything the provider enumerates
  bex apply

  # Converge two specific subscriptions without the approval prompt
  bex apply --target sub-1 --target sub-2 --auto-approve

  # Bound the worker pool
  bex apply --parallelism 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			silenceUsage(cmd)
			ctx := cmd.Context()
			opts := runOptions{
				dryRun:      false,
				targets:     targets,
				parallelism: parallelism,
				policyDirs:  policyDirs,
			}

			rt, err := newRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if !autoApprove {
				ok, err := confirmApply(rt)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Apply cancelled.")
					return nil
				}
			}

			report, execErr := rt.executeRun(ctx, opts)
			if report != nil {
				if err := printReport(report); err != nil {
					return err
				}
			}
			if report == nil {
				return execErr
			}
			return runReportError(report, execErr)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "limit the run to specific target IDs")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max targets converged in parallel (0 = from config)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy files or directories")

	return cmd
}

func confirmApply(rt *runtime) (bool, error) {
	fmt.Printf("About to converge targets for provider %q (state: %s).\n",
		rt.cfg.Provider, rt.cfg.StatePath)
	fmt.Print("Continue? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
