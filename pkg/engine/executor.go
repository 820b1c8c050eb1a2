package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MetricsRecorder receives engine measurements. Implemented by
// telemetry.Metrics; a no-op implementation is used when metrics are
// disabled.
type MetricsRecorder interface {
	// RecordAuthAttempt counts one credential chain resolution.
	RecordAuthAttempt(strategy string, ok bool)

	// RecordVariantAttempt counts one create attempt per variant and result.
	RecordVariantAttempt(variant, result string)

	// RecordCapabilityWait observes one propagation wait.
	RecordCapabilityWait(seconds float64, granted bool)

	// RecordOperationPoll observes one LRO poll to completion or timeout.
	RecordOperationPoll(status string, seconds float64)

	// RecordTargetOutcome counts one terminal target outcome.
	RecordTargetOutcome(status string)

	// RecordRun observes one completed run.
	RecordRun(status string, seconds float64)
}

// NoopMetrics is a MetricsRecorder that discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordAuthAttempt(string, bool)      {}
func (NoopMetrics) RecordVariantAttempt(string, string) {}
func (NoopMetrics) RecordCapabilityWait(float64, bool)  {}
func (NoopMetrics) RecordOperationPoll(string, float64) {}
func (NoopMetrics) RecordTargetOutcome(string)          {}
func (NoopMetrics) RecordRun(string, float64)           {}

// ExecutorConfig tunes a run.
type ExecutorConfig struct {
	// DryRun replaces every mutating operation with a logged no-op while
	// read-only logic executes for real.
	DryRun bool

	// MaxParallel bounds the convergence worker pool.
	MaxParallel int

	// TargetAllowlist restricts the run to the listed target IDs. Empty
	// means all enumerated targets.
	TargetAllowlist []string

	// Capability is the permission probed before mutating a target.
	Capability string

	// PropagationMaxWait bounds the post-grant capability wait per target.
	PropagationMaxWait time.Duration

	// PropagationPollInterval is the capability probe interval.
	PropagationPollInterval time.Duration

	// OperationTimeout is the local timeout for asynchronous creates.
	OperationTimeout time.Duration

	// OperationPollInterval is the poll interval for asynchronous creates.
	OperationPollInterval time.Duration

	// Retry is the shared backoff policy for transient errors.
	Retry BackoffPolicy

	// Variants is the ordered variant list per classification.
	Variants map[Classification][]string
}

// ExecutorDeps are the collaborators a PlanExecutor drives.
type ExecutorDeps struct {
	Enumerator Enumerator
	API        CloudAPI
	Chain      *FallbackChain
	Store      StateStore
	Policy     TargetPolicy
	Events     EventSink
	Metrics    MetricsRecorder
	Logger     zerolog.Logger
}

// PlanExecutor runs the fixed phase sequence of a provisioning run. Failures
// in Verify or ProvisionSharedInfra abort the run; failures inside
// ConvergeTargets are isolated per target.
type PlanExecutor struct {
	cfg     ExecutorConfig
	enum    Enumerator
	api     CloudAPI
	chain   *FallbackChain
	store   StateStore
	policy  TargetPolicy
	events  EventSink
	metrics MetricsRecorder
	logger  zerolog.Logger

	waiter *PropagationWaiter
	worker *ConvergenceWorker
}

// NewPlanExecutor wires a PlanExecutor. Policy, Events, and Metrics may be
// nil; the enumerator, API, chain, and store are required.
func NewPlanExecutor(cfg ExecutorConfig, deps ExecutorDeps) *PlanExecutor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := deps.Logger.With().Str("component", "plan-executor").Logger()

	prober := NewCapabilityProber(deps.API, deps.Logger)
	poller := NewOperationPoller(deps.API, deps.Logger)
	worker := NewConvergenceWorker(deps.API, poller, WorkerConfig{
		Variants:              cfg.Variants,
		Retry:                 cfg.Retry,
		OperationTimeout:      cfg.OperationTimeout,
		OperationPollInterval: cfg.OperationPollInterval,
		DryRun:                cfg.DryRun,
	}, metrics, deps.Logger)

	return &PlanExecutor{
		cfg:     cfg,
		enum:    deps.Enumerator,
		api:     deps.API,
		chain:   deps.Chain,
		store:   deps.Store,
		policy:  deps.Policy,
		events:  deps.Events,
		metrics: metrics,
		logger:  logger,
		waiter:  NewPropagationWaiter(prober, deps.Logger),
		worker:  worker,
	}
}

// targetOutcome pairs a record with the credential that produced it, so the
// validate phase can re-read converged resources without re-authenticating.
type targetOutcome struct {
	target Target
	record *ReconciliationRecord
	cred   *Credential
	fresh  bool // converged during this run, not seeded from the store
}

// Execute runs all phases and returns the end-of-run report. The returned
// error is non-nil only for fatal aborts (enumeration or shared-infra
// failures, cancellation); per-target failures are reported in the summary
// only.
func (e *PlanExecutor) Execute(ctx context.Context) (*RunReport, error) {
	tracer := otel.Tracer("openbex/engine")
	ctx, runSpan := tracer.Start(ctx, "run")
	defer runSpan.End()

	report := &RunReport{
		RunID:     uuid.New().String(),
		DryRun:    e.cfg.DryRun,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	runSpan.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Bool("run.dry_run", report.DryRun),
	)

	e.logger.Info().
		Str("run_id", report.RunID).
		Bool("dry_run", report.DryRun).
		Msg("Run started")
	e.emit(ctx, report.RunID, "", "info", "run started")

	var outcomes []*targetOutcome
	fatal := false
	degraded := false

	for _, phase := range Phases() {
		if fatal || (ctx.Err() != nil && report.Status == RunStatusCancelled) {
			report.Phases = append(report.Phases, PhaseResult{
				Phase:     phase,
				Status:    PhaseStatusSkipped,
				StartedAt: time.Now(),
			})
			continue
		}

		phaseCtx, span := tracer.Start(ctx, "phase."+string(phase))
		result := PhaseResult{Phase: phase, StartedAt: time.Now()}

		var err error
		switch phase {
		case PhaseVerify:
			err = e.verify(phaseCtx)
		case PhaseProvisionSharedInfra:
			err = e.provisionSharedInfra(phaseCtx, report.RunID)
		case PhaseConvergeTargets:
			outcomes, err = e.convergeTargets(phaseCtx, report.RunID)
		case PhaseConfigureAutomation:
			err = e.configureAutomation(phaseCtx, report.RunID, outcomes)
		case PhaseValidate:
			err = e.validate(phaseCtx, report.RunID, outcomes)
		}

		result.Duration = time.Since(result.StartedAt)
		if err != nil {
			result.Status = PhaseStatusFailed
			result.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			switch phase {
			case PhaseVerify, PhaseProvisionSharedInfra, PhaseConvergeTargets:
				// ConvergeTargets only errors on enumeration failure or
				// cancellation; both are fatal for the run.
				fatal = true
			default:
				// Automation/validation failures degrade the run but the
				// converged targets stand.
				degraded = true
			}
			e.logger.Error().Err(err).Str("phase", string(phase)).Msg("Phase failed")
			e.emit(ctx, report.RunID, "", "error", fmt.Sprintf("phase %s failed: %v", phase, err))
		} else {
			result.Status = PhaseStatusSucceeded
			e.logger.Info().
				Str("phase", string(phase)).
				Dur("duration", result.Duration).
				Msg("Phase completed")
		}
		span.End()
		report.Phases = append(report.Phases, result)
	}

	for _, o := range outcomes {
		report.Records = append(report.Records, *o.record)
	}
	sort.Slice(report.Records, func(i, j int) bool {
		return report.Records[i].TargetID < report.Records[j].TargetID
	})
	report.Summary = summarize(report.Records)
	report.Duration = time.Since(report.StartedAt)

	switch {
	case ctx.Err() != nil:
		report.Status = RunStatusCancelled
	case fatal:
		report.Status = RunStatusFailed
	case report.Summary.Failed > 0 || degraded:
		report.Status = RunStatusPartial
	default:
		report.Status = RunStatusSucceeded
	}

	e.metrics.RecordRun(string(report.Status), report.Duration.Seconds())
	e.logger.Info().
		Str("run_id", report.RunID).
		Str("status", string(report.Status)).
		Int("converged", report.Summary.Converged).
		Int("skipped", report.Summary.Skipped).
		Int("failed", report.Summary.Failed).
		Dur("duration", report.Duration).
		Msg("Run finished")
	e.emit(ctx, report.RunID, "", "info", fmt.Sprintf("run finished: %s", report.Status))

	if fatal {
		return report, fmt.Errorf("run %s aborted: %s", report.RunID, report.Status)
	}
	return report, nil
}

// verify checks shared prerequisites for every target.
func (e *PlanExecutor) verify(ctx context.Context) error {
	if err := e.api.Ping(ctx); err != nil {
		return NewPermanentError("control plane not reachable", err).WithOperation("verify")
	}
	if _, err := e.store.Load(ctx); err != nil {
		return NewPermanentError("state store not readable", err).
			WithCode(ErrCodeStore).
			WithOperation("verify")
	}
	return nil
}

// provisionSharedInfra ensures the shared export destination exists. Fatal
// on failure: every target depends on it.
func (e *PlanExecutor) provisionSharedInfra(ctx context.Context, runID string) error {
	if e.cfg.DryRun {
		e.logger.Info().Msg("Dry-run: would ensure shared export infrastructure")
		e.emit(ctx, runID, "", "info", "dry-run: would ensure shared export infrastructure")
		return nil
	}
	if err := e.api.EnsureSharedInfra(ctx); err != nil {
		return NewPermanentError("shared infrastructure provisioning failed", err).
			WithCode(ErrCodeSharedInfra)
	}
	return nil
}

// convergeTargets enumerates targets, seeds the skip set from the state
// store, and converges the remainder on a bounded worker pool. The returned
// error is non-nil only for enumeration failure or cancellation.
func (e *PlanExecutor) convergeTargets(ctx context.Context, runID string) ([]*targetOutcome, error) {
	targets, err := e.enum.ListTargets(ctx)
	if err != nil {
		return nil, NewPermanentError("target enumeration failed", err).
			WithCode(ErrCodeEnumeration)
	}
	targets = e.filterTargets(targets)

	seeded, err := e.loadConverged(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("targets", len(targets)).
		Int("already_converged", len(seeded)).
		Msg("Converging targets")

	jobs := make(chan Target, len(targets))
	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	workers := e.cfg.MaxParallel
	if len(targets) < workers {
		workers = len(targets)
	}

	var (
		mu       sync.Mutex
		outcomes = make([]*targetOutcome, 0, len(targets))
		wg       sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				outcome := e.processTarget(ctx, runID, target, seeded)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, NewPermanentError("run cancelled", err).WithCode(ErrCodeCancelled)
	}
	return outcomes, nil
}

// processTarget runs the full per-target pipeline: skip-set lookup, policy,
// authentication, propagation wait, convergence, and state persistence.
func (e *PlanExecutor) processTarget(ctx context.Context, runID string, target Target, seeded map[string]ReconciliationRecord) *targetOutcome {
	logger := e.logger.With().Str("target_id", target.ID).Logger()

	// Already converged on a previous run: no-op, no API calls.
	if prior, ok := seeded[target.ID]; ok {
		logger.Debug().Msg("Target already converged in a previous run")
		return &targetOutcome{target: target, record: &prior}
	}

	if err := ctx.Err(); err != nil {
		return e.cancelledOutcome(target, err)
	}

	record := &ReconciliationRecord{
		TargetID:      target.ID,
		ResourceName:  ExportResourceName(target.ID),
		LastAttemptAt: time.Now(),
	}

	// Policy exclusion.
	if skipReason := e.skipReason(ctx, target, logger); skipReason != "" {
		target.SkipReason = skipReason
		record.Status = RecordStatusSkipped
		record.Message = skipReason
		logger.Info().Str("reason", skipReason).Msg("Target skipped by policy")
		e.persist(ctx, runID, record, logger)
		e.metrics.RecordTargetOutcome(string(record.Status))
		return &targetOutcome{target: target, record: record, fresh: true}
	}

	// Authentication fallback chain. Each worker resolves its own
	// credential; nothing identity-shaped is shared across goroutines.
	cred, err := e.chain.Authenticate(ctx, target)
	if err != nil {
		e.metrics.RecordAuthAttempt("exhausted", false)
		record.Status = RecordStatusFailed
		record.Message = err.Error()
		logger.Error().Err(err).Msg("No credential strategy authorized for target")
		e.persist(ctx, runID, record, logger)
		e.metrics.RecordTargetOutcome(string(record.Status))
		return &targetOutcome{target: target, record: record, fresh: true}
	}
	e.metrics.RecordAuthAttempt(cred.Strategy, true)

	// Capability preflight. In dry-run a single probe keeps the output
	// honest without stalling on propagation delays.
	if e.cfg.DryRun {
		if result, perr := e.waiter.prober.Check(ctx, cred, target, e.cfg.Capability); perr == nil {
			logger.Info().Bool("granted", result.Granted).Msg("Dry-run capability probe")
		}
	} else {
		start := time.Now()
		granted, werr := e.waiter.WaitUntilGranted(ctx, cred, target, e.cfg.Capability,
			e.cfg.PropagationMaxWait, e.cfg.PropagationPollInterval)
		e.metrics.RecordCapabilityWait(time.Since(start).Seconds(), granted)
		if werr != nil {
			return e.cancelledOutcome(target, werr)
		}
		if !granted {
			// Proceed optimistically: the worker retries transient
			// authorization errors with backoff anyway.
			logger.Warn().Msg("Capability wait timed out, proceeding optimistically")
		}
	}

	record = e.worker.Converge(ctx, target, cred)
	if record.Status.IsTerminal() {
		e.persist(ctx, runID, record, logger)
		e.metrics.RecordTargetOutcome(string(record.Status))
	}
	e.emit(ctx, runID, target.ID, levelFor(record.Status),
		fmt.Sprintf("target %s: %s", target.ID, record.Status))
	return &targetOutcome{target: target, record: record, cred: cred, fresh: true}
}

// configureAutomation configures scheduled export automation for every
// converged target of this run.
func (e *PlanExecutor) configureAutomation(ctx context.Context, runID string, outcomes []*targetOutcome) error {
	converged := make([]Target, 0, len(outcomes))
	for _, o := range outcomes {
		if o.record.Status == RecordStatusConverged {
			converged = append(converged, o.target)
		}
	}
	if len(converged) == 0 {
		return nil
	}
	if e.cfg.DryRun {
		e.logger.Info().Int("targets", len(converged)).Msg("Dry-run: would configure export automation")
		e.emit(ctx, runID, "", "info", "dry-run: would configure export automation")
		return nil
	}
	return e.api.ConfigureAutomation(ctx, converged)
}

// validate re-describes resources converged during this run. Read-only; a
// resource that cannot be confirmed is logged, not re-created.
func (e *PlanExecutor) validate(ctx context.Context, runID string, outcomes []*targetOutcome) error {
	var unconfirmed int
	for _, o := range outcomes {
		if !o.fresh || o.record.Status != RecordStatusConverged || o.cred == nil {
			continue
		}
		desc, err := e.api.Describe(ctx, o.cred, o.target, o.record.ResourceName)
		if err != nil {
			e.logger.Warn().Err(err).Str("target_id", o.target.ID).Msg("Validation read failed")
			unconfirmed++
			continue
		}
		if !desc.Exists {
			e.logger.Warn().Str("target_id", o.target.ID).Msg("Converged resource not confirmed during validation")
			unconfirmed++
		}
	}
	if unconfirmed > 0 {
		return fmt.Errorf("%d converged resource(s) could not be confirmed", unconfirmed)
	}
	return nil
}

// skipReason consults the exclusion policy. A policy engine error is logged
// and the target proceeds; exclusion must be explicit.
func (e *PlanExecutor) skipReason(ctx context.Context, target Target, logger zerolog.Logger) string {
	if e.policy == nil {
		return ""
	}
	reason, err := e.policy.EvaluateTarget(ctx, target)
	if err != nil {
		logger.Warn().Err(err).Msg("Target policy evaluation failed, not excluding target")
		return ""
	}
	return reason
}

// loadConverged seeds the skip set with previously converged targets.
func (e *PlanExecutor) loadConverged(ctx context.Context) (map[string]ReconciliationRecord, error) {
	records, err := e.store.Load(ctx)
	if err != nil {
		return nil, NewPermanentError("state store load failed", err).WithCode(ErrCodeStore)
	}
	seeded := make(map[string]ReconciliationRecord)
	for _, r := range records {
		if r.Status == RecordStatusConverged {
			seeded[r.TargetID] = r
		}
	}
	return seeded, nil
}

// persist writes a terminal record. Dry runs never write. A persistence
// failure after a successful convergence is only a warning: the resource
// exists, the bookkeeping is stale, and the next run's confirmation check
// re-discovers it without re-creating anything.
func (e *PlanExecutor) persist(ctx context.Context, runID string, record *ReconciliationRecord, logger zerolog.Logger) {
	if e.cfg.DryRun {
		return
	}
	if err := e.store.Upsert(ctx, record); err != nil {
		logger.Warn().
			Err(err).
			Str("status", string(record.Status)).
			Msg("Failed to persist reconciliation record; state is stale until next run")
		e.emit(ctx, runID, record.TargetID, "warning",
			fmt.Sprintf("state store write failed for %s", record.TargetID))
	}
}

func (e *PlanExecutor) filterTargets(targets []Target) []Target {
	if len(e.cfg.TargetAllowlist) == 0 {
		return targets
	}
	allowed := make(map[string]bool, len(e.cfg.TargetAllowlist))
	for _, id := range e.cfg.TargetAllowlist {
		allowed[id] = true
	}
	filtered := make([]Target, 0, len(targets))
	for _, t := range targets {
		if allowed[t.ID] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (e *PlanExecutor) cancelledOutcome(target Target, err error) *targetOutcome {
	return &targetOutcome{
		target: target,
		record: &ReconciliationRecord{
			TargetID:      target.ID,
			ResourceName:  ExportResourceName(target.ID),
			Status:        RecordStatusFailed,
			Message:       fmt.Sprintf("cancelled: %v", err),
			LastAttemptAt: time.Now(),
		},
		fresh: true,
	}
}

// emit appends an event to the durable run log, best-effort.
func (e *PlanExecutor) emit(ctx context.Context, runID, targetID, level, message string) {
	if e.events == nil {
		return
	}
	if err := e.events.AppendRunEvent(ctx, runID, targetID, level, message); err != nil {
		e.logger.Debug().Err(err).Msg("Event append failed")
	}
}

func summarize(records []ReconciliationRecord) RunSummary {
	summary := RunSummary{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case RecordStatusConverged:
			summary.Converged++
		case RecordStatusSkipped:
			summary.Skipped++
		case RecordStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary
}

func levelFor(status RecordStatus) string {
	switch status {
	case RecordStatusFailed:
		return "error"
	case RecordStatusSkipped:
		return "warning"
	default:
		return "info"
	}
}
