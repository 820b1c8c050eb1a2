package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Classification determines which configuration variant fallback order
// applies to a target. Values are provider-derived but opaque to the core.
type Classification string

const (
	// ClassificationStandard covers targets on current plan/quota types that
	// support the full set of export variants.
	ClassificationStandard Classification = "standard"

	// ClassificationLegacy covers targets on legacy offer types that only
	// support a reduced variant set.
	ClassificationLegacy Classification = "legacy"
)

// Validate checks if the classification is valid.
func (c Classification) Validate() error {
	switch c {
	case ClassificationStandard, ClassificationLegacy:
		return nil
	default:
		return NewPermanentError("invalid classification: "+string(c), nil).WithCode(ErrCodeValidation)
	}
}

// Target is one provisioning unit: a cloud account, subscription, or billing
// account. Targets are discovered fresh on every run and never persisted;
// only their reconciliation outcome is.
type Target struct {
	// ID is the opaque, stable identifier of the target.
	ID string `json:"id"`

	// DisplayName is the human-readable name, if the provider supplies one.
	DisplayName string `json:"display_name,omitempty"`

	// Classification selects the variant fallback order for this target.
	Classification Classification `json:"classification"`

	// Attributes carries provider-supplied plan/quota fields consumed by the
	// exclusion policy and by enumerator classification.
	Attributes map[string]string `json:"attributes,omitempty"`

	// SkipReason is set when the target is excluded by policy.
	SkipReason string `json:"skip_reason,omitempty"`
}

// ReconciliationRecord is the durable outcome for one target. It is written
// to the state store only on a terminal outcome, and a converged record is
// written only after the export resource was independently confirmed to
// exist.
type ReconciliationRecord struct {
	// TargetID identifies the target this record belongs to.
	TargetID string `json:"target_id"`

	// ResourceName is derived deterministically from the target ID.
	ResourceName string `json:"resource_name"`

	// Status is the reconciliation outcome.
	Status RecordStatus `json:"status"`

	// VariantUsed is the configuration variant that succeeded, if any.
	VariantUsed string `json:"variant_used,omitempty"`

	// Message carries the skip reason or failure detail for the summary.
	Message string `json:"message,omitempty"`

	// LastAttemptAt is when the target was last processed.
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// OperationHandle references an asynchronous provider-side operation.
type OperationHandle struct {
	// ID is the provider-assigned operation identifier.
	ID string `json:"id"`

	// Status is the last observed operation status.
	Status OperationStatus `json:"status"`

	// StartedAt is when the operation was started.
	StartedAt time.Time `json:"started_at"`
}

// CapabilityCheckResult is the outcome of a single capability probe. It is
// transient and never persisted.
type CapabilityCheckResult struct {
	// Granted reports whether the active identity currently holds the
	// capability on the target.
	Granted bool `json:"granted"`

	// CheckedAt is when the probe was performed.
	CheckedAt time.Time `json:"checked_at"`
}

// DescribeResult is the outcome of reading a target's export resource.
type DescribeResult struct {
	// Exists reports whether the resource exists.
	Exists bool `json:"exists"`

	// Variant is the configuration variant of the existing resource.
	Variant string `json:"variant,omitempty"`
}

// CreateResult is the outcome of a create attempt. Exactly one of Done or
// Handle is meaningful: synchronous creates complete immediately, async
// creates return an operation handle to poll.
type CreateResult struct {
	// Done reports the create completed synchronously.
	Done bool `json:"done"`

	// Handle references the asynchronous operation, if the provider started
	// one.
	Handle *OperationHandle `json:"handle,omitempty"`
}

// Credential is an authorized identity for one target, produced by a
// credential strategy. The material is opaque to the core.
type Credential struct {
	// Strategy is the name of the strategy that produced this credential.
	Strategy string `json:"strategy"`

	// Subject identifies the authenticated principal, for diagnostics.
	Subject string `json:"subject,omitempty"`

	// Token is the opaque credential material passed back to the provider.
	Token string `json:"-"`
}

// PhaseResult records the outcome of one run phase.
type PhaseResult struct {
	// Phase identifies the phase.
	Phase Phase `json:"phase"`

	// Status is the phase outcome.
	Status PhaseStatus `json:"status"`

	// Error is the failure message, if the phase failed.
	Error string `json:"error,omitempty"`

	// StartedAt is when the phase started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the phase execution time.
	Duration time.Duration `json:"duration"`
}

// RunSummary aggregates per-target outcomes for a run.
type RunSummary struct {
	// Total is the number of enumerated targets.
	Total int `json:"total"`

	// Converged is the number of targets confirmed converged, including
	// targets already converged before this run.
	Converged int `json:"converged"`

	// Skipped is the number of targets excluded by policy.
	Skipped int `json:"skipped"`

	// Failed is the number of targets with a failed outcome.
	Failed int `json:"failed"`

	// Pending is the number of targets without a terminal outcome. Nonzero
	// only in dry runs.
	Pending int `json:"pending"`
}

// RunReport is the end-of-run result handed to the CLI.
type RunReport struct {
	// RunID is the unique identifier of this run.
	RunID string `json:"run_id"`

	// DryRun reports whether mutations were suppressed.
	DryRun bool `json:"dry_run"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// Phases lists per-phase outcomes in execution order.
	Phases []PhaseResult `json:"phases"`

	// Records lists the per-target outcomes of this run.
	Records []ReconciliationRecord `json:"records"`

	// Summary aggregates the per-target outcomes.
	Summary RunSummary `json:"summary"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run must map to a non-zero exit code: a fatal
// phase failure, cancellation, or any target that ended failed.
func (r *RunReport) Failed() bool {
	return r.Status == RunStatusFailed || r.Status == RunStatusCancelled || r.Summary.Failed > 0
}

// resourceNameSuffixLen is the number of hex characters of the target ID
// digest appended to the export resource name.
const resourceNameSuffixLen = 12

// ExportResourceName derives the deterministic export resource name for a
// target. The same target always maps to the same name, which is what makes
// create-if-absent and confirmation-first reads idempotent across runs.
func ExportResourceName(targetID string) string {
	sum := sha256.Sum256([]byte(targetID))
	return "export-" + hex.EncodeToString(sum[:])[:resourceNameSuffixLen]
}
