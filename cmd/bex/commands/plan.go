package commands

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var (
		targets    []string
		watch      bool
		policyDirs []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview a provisioning run without mutating anything",
		Long: `Preview a provisioning run. All reads execute for real: targets are
enumerated, credentials resolved, capabilities probed once, and existing
export resources described. Every mutation is replaced with a logged no-op
and nothing is written to the state store.`,
		Example: `  # Preview against the default configuration
  bex plan

  # Preview specific targets only
  bex plan --target sub-1 --target sub-2

  # Re-plan whenever the configuration changes
  bex plan --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			silenceUsage(cmd)
			ctx := cmd.Context()
			opts := runOptions{
				dryRun:     true,
				targets:    targets,
				policyDirs: policyDirs,
			}

			if !watch {
				return planOnce(ctx, opts)
			}
			return planWatch(ctx, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "limit the run to specific target IDs")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when the configuration changes")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy files or directories")

	return cmd
}

func planOnce(ctx context.Context, opts runOptions) error {
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	report, execErr := rt.executeRun(ctx, opts)
	if report != nil {
		if err := printReport(report); err != nil {
			return err
		}
	}
	if execErr != nil {
		return execErr
	}
	return nil
}

// planWatch re-plans on every configuration change until the context is
// cancelled.
func planWatch(ctx context.Context, opts runOptions) error {
	if err := planOnce(ctx, opts); err != nil {
		log.Warn().Err(err).Msg("Initial plan failed, watching for changes")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the containing directory: editors replace files on save, which
	// drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return err
	}

	log.Info().Str("config", configPath).Msg("Watching configuration for changes")

	var debounce *time.Timer
	replan := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".cue" {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case replan <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")

		case <-replan:
			log.Info().Msg("Configuration changed, re-planning")
			if err := planOnce(ctx, opts); err != nil {
				log.Warn().Err(err).Msg("Plan failed")
			}
		}
	}
}
