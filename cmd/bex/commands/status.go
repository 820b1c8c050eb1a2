package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openbex/openbex/pkg/engine"
	"github.com/openbex/openbex/pkg/stores"
)

// statusOutput is the document rendered by the status command.
type statusOutput struct {
	Records []engine.ReconciliationRecord `json:"records" yaml:"records"`
	Runs    []*stores.Run                 `json:"runs,omitempty" yaml:"runs,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var (
		format   string
		runLimit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted reconciliation state and recent runs",
		Long: `Show the durable per-target reconciliation records and the most recent
runs from the state store. Read-only.`,
		Example: `  # Table of records and the last 5 runs
  bex status

  # Machine-readable output
  bex status --format json
  bex status --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			silenceUsage(cmd)
			ctx := cmd.Context()

			runCfg, err := loadRunConfig(ctx)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: runCfg.StatePath})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			return showStatus(ctx, store, format, runLimit)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json, yaml)")
	cmd.Flags().IntVar(&runLimit, "runs", 5, "number of recent runs to show")

	return cmd
}

func showStatus(ctx context.Context, store stores.Store, format string, runLimit int) error {
	records, err := store.Load(ctx)
	if err != nil {
		return err
	}

	var runs []*stores.Run
	if runLimit > 0 {
		runs, err = store.ListRuns(ctx, runLimit, 0)
		if err != nil {
			return err
		}
	}

	out := statusOutput{Records: records, Runs: runs}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(out)

	case "table":
		printStatusTables(out)
		return nil

	default:
		return fmt.Errorf("unknown format %q (expected table, json, or yaml)", format)
	}
}

func printStatusTables(out statusOutput) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "TARGET\tSTATUS\tVARIANT\tRESOURCE\tLAST ATTEMPT\tMESSAGE")
	for _, r := range out.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TargetID, r.Status, orDash(r.VariantUsed), r.ResourceName,
			r.LastAttemptAt.Format(time.RFC3339), orDash(r.Message))
	}
	if len(out.Records) == 0 {
		fmt.Fprintln(w, "(no records)\t\t\t\t\t")
	}
	w.Flush()

	if len(out.Runs) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tSTARTED\tSUMMARY")
		for _, run := range out.Runs {
			mode := "apply"
			if run.DryRun {
				mode = "plan"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				run.ID, mode, run.Status, run.StartedAt.Format(time.RFC3339), run.Summary)
		}
		w.Flush()
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
