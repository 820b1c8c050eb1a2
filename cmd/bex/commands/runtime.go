package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openbex/openbex/pkg/config"
	"github.com/openbex/openbex/pkg/engine"
	"github.com/openbex/openbex/pkg/policy"
	"github.com/openbex/openbex/pkg/providers"
	_ "github.com/openbex/openbex/pkg/providers/memory"
	"github.com/openbex/openbex/pkg/stores"
	"github.com/openbex/openbex/pkg/telemetry"
)

// runtime bundles the wired collaborators behind one run-oriented command.
type runtime struct {
	cfg      *config.RunConfig
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	provider *providers.Provider
	policies *policy.Engine
}

// runOptions carry per-command overrides of the run configuration.
type runOptions struct {
	dryRun      bool
	targets     []string
	parallelism int
	policyDirs  []string
}

func loadRunConfig(ctx context.Context) (*config.RunConfig, error) {
	parser := config.NewCUEParser()
	run, err := parser.Load(ctx, []string{configPath})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", configPath, err)
	}
	return run, nil
}

func buildTelemetry(runCfg *config.RunConfig) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()

	if runCfg.Telemetry.LogLevel != "" {
		cfg.Logging.Level = runCfg.Telemetry.LogLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if runCfg.Telemetry.LogFormat != "" {
		cfg.Logging.Format = runCfg.Telemetry.LogFormat
	}

	cfg.Metrics.Enabled = runCfg.Telemetry.MetricsEnabled
	if runCfg.Telemetry.MetricsListen != "" {
		cfg.Metrics.ListenAddress = runCfg.Telemetry.MetricsListen
	}

	cfg.Tracing.Enabled = runCfg.Telemetry.TracingEnabled
	if runCfg.Telemetry.TracingExporter != "" {
		cfg.Tracing.Exporter = runCfg.Telemetry.TracingExporter
	}
	if runCfg.Telemetry.TracingEndpoint != "" {
		cfg.Tracing.Endpoint = runCfg.Telemetry.TracingEndpoint
	}

	return telemetry.NewTelemetry(cfg)
}

// newRuntime loads the configuration and wires telemetry, store, provider,
// and policy engine. The caller must Close it.
func newRuntime(ctx context.Context, opts runOptions) (*runtime, error) {
	runCfg, err := loadRunConfig(ctx)
	if err != nil {
		return nil, err
	}

	tel, err := buildTelemetry(runCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger := tel.Logger.Zerolog()

	provider, err := providers.Build(runCfg.Provider, providers.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: runCfg.StatePath})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	policies, err := policy.NewEngine(logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	policyPaths := append([]string{}, runCfg.PolicyPaths...)
	policyPaths = append(policyPaths, opts.policyDirs...)
	if len(policyPaths) > 0 {
		if err := policies.LoadPolicies(ctx, policyPaths); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	if err := tel.StartMetricsServer(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	return &runtime{
		cfg:      runCfg,
		tel:      tel,
		store:    store,
		provider: provider,
		policies: policies,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	if err := rt.store.Close(); err != nil {
		rt.tel.Logger.WithError(err).Warn("failed to close state store")
	}
	if err := rt.tel.Shutdown(ctx); err != nil {
		rt.tel.Logger.WithError(err).Warn("failed to shut down telemetry")
	}
}

// executeRun performs one provisioning run and persists its bookkeeping.
func (rt *runtime) executeRun(ctx context.Context, opts runOptions) (*engine.RunReport, error) {
	execCfg, err := rt.cfg.ExecutorConfig(opts.dryRun)
	if err != nil {
		return nil, err
	}
	if len(opts.targets) > 0 {
		execCfg.TargetAllowlist = opts.targets
	}
	if opts.parallelism > 0 {
		execCfg.MaxParallel = opts.parallelism
	}

	strategies, err := rt.provider.OrderedStrategies(rt.cfg.CredentialOrder)
	if err != nil {
		return nil, err
	}

	logger := rt.tel.Logger.Zerolog()
	executor := engine.NewPlanExecutor(execCfg, engine.ExecutorDeps{
		Enumerator: rt.provider.Enumerator,
		API:        rt.provider.API,
		Chain:      engine.NewFallbackChain(strategies, logger),
		Store:      rt.store,
		Policy:     rt.policies,
		Events:     rt.store,
		Metrics:    rt.tel.Metrics,
		Logger:     logger,
	})

	rt.tel.Metrics.RunStarted()
	report, execErr := executor.Execute(ctx)
	rt.tel.Metrics.RunFinished()

	// Dry runs leave no trace in the store.
	if report != nil && !opts.dryRun {
		rt.persistRun(ctx, report, execErr)
	}

	return report, execErr
}

// persistRun writes the run row after the fact. The executor has already
// appended events under this run ID; failure to write the row is a warning,
// never a run failure.
func (rt *runtime) persistRun(ctx context.Context, report *engine.RunReport, execErr error) {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		summary = []byte("{}")
	}

	completed := report.StartedAt.Add(report.Duration)
	var errMsg *string
	if execErr != nil {
		msg := execErr.Error()
		errMsg = &msg
	}

	run := &stores.Run{
		ID:          report.RunID,
		DryRun:      report.DryRun,
		Status:      report.Status,
		StartedAt:   report.StartedAt,
		CompletedAt: &completed,
		Error:       errMsg,
		Summary:     string(summary),
	}
	if err := rt.store.CreateRun(ctx, run); err != nil {
		rt.tel.Logger.WithError(err).WithRunID(report.RunID).Warn("failed to persist run record")
	}
}

// printReport renders the end-of-run report to stdout.
func printReport(report *engine.RunReport) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	mode := "apply"
	if report.DryRun {
		mode = "plan (dry-run)"
	}
	fmt.Printf("Run %s [%s] finished: %s in %s\n",
		report.RunID, mode, report.Status, report.Duration.Round(time.Millisecond))

	fmt.Println("\nPhases:")
	for _, phase := range report.Phases {
		line := fmt.Sprintf("  %-22s %s (%s)", phase.Phase, phase.Status, phase.Duration.Round(time.Millisecond))
		if phase.Error != "" {
			line += "  " + phase.Error
		}
		fmt.Println(line)
	}

	s := report.Summary
	fmt.Printf("\nTargets: %d total, %d converged, %d skipped, %d failed",
		s.Total, s.Converged, s.Skipped, s.Failed)
	if s.Pending > 0 {
		fmt.Printf(", %d pending", s.Pending)
	}
	fmt.Println()

	for _, record := range report.Records {
		switch record.Status {
		case engine.RecordStatusFailed:
			fmt.Printf("  failed  %s: %s\n", record.TargetID, record.Message)
		case engine.RecordStatusSkipped:
			fmt.Printf("  skipped %s: %s\n", record.TargetID, record.Message)
		}
	}

	return nil
}

// runReportError maps a finished report to the command exit status.
func runReportError(report *engine.RunReport, execErr error) error {
	if execErr != nil {
		return execErr
	}
	if report.Failed() {
		return fmt.Errorf("run %s finished %s: %d target(s) failed",
			report.RunID, report.Status, report.Summary.Failed)
	}
	return nil
}

// silenceUsage keeps cobra from printing help text after runtime errors.
func silenceUsage(cmd *cobra.Command) {
	cmd.SilenceUsage = true
}
