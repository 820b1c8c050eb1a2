package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WorkerConfig tunes the convergence worker.
type WorkerConfig struct {
	// Variants is the ordered variant list per classification. Order is
	// fixed priority order, never randomized, so behavior is reproducible
	// across runs.
	Variants map[Classification][]string

	// Retry bounds the transient-authorization retry per variant.
	Retry BackoffPolicy

	// OperationTimeout is the local timeout for asynchronous creates.
	OperationTimeout time.Duration

	// OperationPollInterval is the poll interval for asynchronous creates.
	OperationPollInterval time.Duration

	// DryRun suppresses every mutating call. Read-only confirmation checks
	// still execute so dry-run output reflects current reality.
	DryRun bool
}

// ConvergenceWorker idempotently ensures one target's export resource
// exists, trying configuration variants in priority order and classifying
// failures.
type ConvergenceWorker struct {
	api     CloudAPI
	poller  *OperationPoller
	cfg     WorkerConfig
	metrics MetricsRecorder
	logger  zerolog.Logger
}

// NewConvergenceWorker creates a worker. A nil metrics recorder is replaced
// with a no-op.
func NewConvergenceWorker(api CloudAPI, poller *OperationPoller, cfg WorkerConfig, metrics MetricsRecorder, logger zerolog.Logger) *ConvergenceWorker {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &ConvergenceWorker{
		api:     api,
		poller:  poller,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "convergence-worker").Logger(),
	}
}

// Converge brings one target to the desired state. The returned record is
// the outcome; convergence never returns an error because every failure is
// captured in the record for the run summary.
func (w *ConvergenceWorker) Converge(ctx context.Context, target Target, cred *Credential) *ReconciliationRecord {
	record := &ReconciliationRecord{
		TargetID:      target.ID,
		ResourceName:  ExportResourceName(target.ID),
		Status:        RecordStatusPending,
		LastAttemptAt: time.Now(),
	}
	logger := w.logger.With().Str("target_id", target.ID).Str("resource", record.ResourceName).Logger()

	// Confirmation check first. State is derived from observed reality, not
	// from create-call results, and this is what makes re-runs a no-op.
	desc, err := w.describe(ctx, cred, target, record.ResourceName)
	if err != nil {
		return w.fail(record, "confirmation check failed", err)
	}
	if desc.Exists {
		record.Status = RecordStatusConverged
		record.VariantUsed = desc.Variant
		record.Message = "resource already exists"
		logger.Info().Str("variant", desc.Variant).Msg("Target already converged")
		return record
	}

	variants := w.cfg.Variants[target.Classification]
	if len(variants) == 0 {
		return w.fail(record, fmt.Sprintf("no variants configured for classification %q", target.Classification), nil)
	}

	if w.cfg.DryRun {
		record.VariantUsed = variants[0]
		record.Message = fmt.Sprintf("dry-run: would create with variant %q", variants[0])
		logger.Info().Str("variant", variants[0]).Msg("Dry-run: would create export resource")
		return record
	}

	for _, variant := range variants {
		outcome, done := w.attemptVariant(ctx, logger, target, cred, record, variant)
		if done {
			return outcome
		}
	}

	return w.fail(record, "all configuration variants exhausted", nil)
}

// attemptVariant tries one variant, retrying transient authorization errors
// up to the retry bound. done reports a terminal outcome; when false the
// caller falls through to the next variant.
func (w *ConvergenceWorker) attemptVariant(
	ctx context.Context,
	logger zerolog.Logger,
	target Target,
	cred *Credential,
	record *ReconciliationRecord,
	variant string,
) (*ReconciliationRecord, bool) {
	maxAttempts := w.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return w.cancel(record, err), true
		}

		result, err := w.api.Create(ctx, cred, target, record.ResourceName, variant)
		if err == nil {
			w.metrics.RecordVariantAttempt(variant, "accepted")
			return w.settle(ctx, logger, target, cred, record, variant, result), true
		}

		switch {
		case IsUnsupported(err):
			// Expected signal. Never a failure if a later variant succeeds.
			w.metrics.RecordVariantAttempt(variant, "unsupported")
			logger.Info().Str("variant", variant).Msg("Variant unsupported, falling back")
			return nil, false

		case IsTransient(err):
			// Authorization can flap even after the propagation waiter saw a
			// grant; provider-side permission caches converge independently.
			w.metrics.RecordVariantAttempt(variant, "transient")
			if attempt+1 < maxAttempts {
				logger.Warn().
					Err(err).
					Str("variant", variant).
					Int("attempt", attempt+1).
					Msg("Transient authorization error, retrying variant")
				if serr := w.cfg.Retry.Sleep(ctx, attempt); serr != nil {
					return w.cancel(record, serr), true
				}
				continue
			}
			return w.fail(record, fmt.Sprintf("transient authorization errors exhausted retries on variant %q", variant), err), true

		case IsCapability(err):
			// Missing capability for this variant; the next variant may need
			// a different one, so keep going.
			w.metrics.RecordVariantAttempt(variant, "capability_denied")
			logger.Warn().Err(err).Str("variant", variant).Msg("Capability denied for variant, falling back")
			return nil, false

		default:
			w.metrics.RecordVariantAttempt(variant, "error")
			return w.fail(record, fmt.Sprintf("create failed on variant %q", variant), err), true
		}
	}

	return nil, false
}

// settle finishes a create that was accepted by the provider: waits for the
// asynchronous operation if there is one, then independently confirms the
// resource exists before marking the record converged.
func (w *ConvergenceWorker) settle(
	ctx context.Context,
	logger zerolog.Logger,
	target Target,
	cred *Credential,
	record *ReconciliationRecord,
	variant string,
	result *CreateResult,
) *ReconciliationRecord {
	if !result.Done {
		if result.Handle == nil {
			return w.fail(record, "provider returned neither completion nor an operation handle", nil)
		}

		start := time.Now()
		status, err := w.poller.Poll(ctx, cred, result.Handle, w.cfg.OperationTimeout, w.cfg.OperationPollInterval)
		w.metrics.RecordOperationPoll(string(status), time.Since(start).Seconds())
		if err != nil {
			return w.cancel(record, err)
		}

		switch status {
		case OperationStatusSucceeded:
			// fall through to confirmation
		case OperationStatusTimedOut:
			// Local verdict only. Do not retry-create and do not try another
			// variant: the operation may still finish, and the next run's
			// confirmation check will find the resource if it did.
			record.Status = RecordStatusFailed
			record.VariantUsed = variant
			record.Message = fmt.Sprintf("operation %s timed out locally; resource may still materialize, next run re-checks", result.Handle.ID)
			logger.Warn().Str("operation_id", result.Handle.ID).Msg("Operation timed out locally")
			return record
		case OperationStatusStopped:
			return w.fail(record, fmt.Sprintf("operation %s was stopped", result.Handle.ID), nil)
		default:
			return w.fail(record, fmt.Sprintf("operation %s failed", result.Handle.ID), nil)
		}
	}

	// Confirm independently: create calls can partially fail upstream of
	// confirmation, so the record is only trusted after a read says the
	// resource is there.
	desc, err := w.describe(ctx, cred, target, record.ResourceName)
	if err != nil {
		return w.fail(record, "post-create confirmation failed", err)
	}
	if !desc.Exists {
		return w.fail(record, "create reported success but resource not found", nil)
	}

	record.Status = RecordStatusConverged
	record.VariantUsed = variant
	record.Message = ""
	logger.Info().Str("variant", variant).Msg("Target converged")
	return record
}

// describe reads the resource, retrying transient errors under the shared
// retry policy.
func (w *ConvergenceWorker) describe(ctx context.Context, cred *Credential, target Target, resourceName string) (*DescribeResult, error) {
	maxAttempts := w.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		desc, err := w.api.Describe(ctx, cred, target, resourceName)
		if err == nil {
			return desc, nil
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
		if serr := w.cfg.Retry.Sleep(ctx, attempt); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

func (w *ConvergenceWorker) fail(record *ReconciliationRecord, message string, err error) *ReconciliationRecord {
	record.Status = RecordStatusFailed
	if err != nil {
		record.Message = fmt.Sprintf("%s: %v", message, err)
	} else {
		record.Message = message
	}
	w.logger.Error().Str("target_id", record.TargetID).Msg(record.Message)
	return record
}

func (w *ConvergenceWorker) cancel(record *ReconciliationRecord, err error) *ReconciliationRecord {
	record.Status = RecordStatusFailed
	record.Message = fmt.Sprintf("cancelled: %v", err)
	return record
}
