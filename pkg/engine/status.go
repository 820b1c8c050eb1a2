package engine

import (
	"encoding/json"
	"fmt"
)

// RecordStatus represents the reconciliation outcome of a target.
type RecordStatus string

const (
	// RecordStatusPending indicates the target has not reached a terminal
	// outcome yet. Dry runs report targets that would be mutated as pending.
	RecordStatusPending RecordStatus = "pending"

	// RecordStatusConverged indicates the export resource was confirmed to
	// exist with the desired configuration.
	RecordStatusConverged RecordStatus = "converged"

	// RecordStatusSkipped indicates the target was excluded by policy.
	RecordStatusSkipped RecordStatus = "skipped"

	// RecordStatusFailed indicates convergence failed after exhausting
	// variants and retries.
	RecordStatusFailed RecordStatus = "failed"
)

// IsTerminal returns true if the record status represents a final outcome.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusConverged || s == RecordStatusSkipped || s == RecordStatusFailed
}

// Validate checks if the record status is valid.
func (s RecordStatus) Validate() error {
	switch s {
	case RecordStatusPending, RecordStatusConverged, RecordStatusSkipped, RecordStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid record status: %s", s)
	}
}

// OperationStatus represents the status of an asynchronous provider-side
// operation.
type OperationStatus string

const (
	// OperationStatusPending indicates the operation is queued provider-side.
	OperationStatusPending OperationStatus = "pending"

	// OperationStatusRunning indicates the operation is in progress.
	OperationStatusRunning OperationStatus = "running"

	// OperationStatusSucceeded indicates the operation completed successfully.
	OperationStatusSucceeded OperationStatus = "succeeded"

	// OperationStatusFailed indicates the provider reported the operation as
	// failed.
	OperationStatusFailed OperationStatus = "failed"

	// OperationStatusStopped indicates the operation was stopped provider-side.
	OperationStatusStopped OperationStatus = "stopped"

	// OperationStatusTimedOut indicates the local poller gave up before the
	// operation reached a terminal status. The remote operation may still be
	// running; distinct from OperationStatusFailed.
	OperationStatusTimedOut OperationStatus = "timed_out"
)

// IsTerminal returns true if the status is terminal from the provider's
// perspective. TimedOut is a local verdict, not a provider-terminal state.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusSucceeded || s == OperationStatusFailed || s == OperationStatusStopped
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationStatusPending, OperationStatusRunning, OperationStatusSucceeded,
		OperationStatusFailed, OperationStatusStopped, OperationStatusTimedOut:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// Phase identifies one stage of a run.
type Phase string

const (
	// PhaseVerify checks shared prerequisites: control plane reachability and
	// state store health. Fatal on failure.
	PhaseVerify Phase = "verify"

	// PhaseProvisionSharedInfra ensures the shared export destination exists.
	// Fatal on failure.
	PhaseProvisionSharedInfra Phase = "provision_shared_infra"

	// PhaseConvergeTargets converges every enumerated target. Per-target
	// failures are isolated.
	PhaseConvergeTargets Phase = "converge_targets"

	// PhaseConfigureAutomation configures the scheduled export automation.
	PhaseConfigureAutomation Phase = "configure_automation"

	// PhaseValidate re-reads resources converged in this run.
	PhaseValidate Phase = "validate"
)

// Phases lists all run phases in execution order.
func Phases() []Phase {
	return []Phase{
		PhaseVerify,
		PhaseProvisionSharedInfra,
		PhaseConvergeTargets,
		PhaseConfigureAutomation,
		PhaseValidate,
	}
}

// PhaseStatus represents the outcome of a single run phase.
type PhaseStatus string

const (
	// PhaseStatusSucceeded indicates the phase completed.
	PhaseStatusSucceeded PhaseStatus = "succeeded"

	// PhaseStatusFailed indicates the phase failed.
	PhaseStatusFailed PhaseStatus = "failed"

	// PhaseStatusSkipped indicates the phase did not run, either because a
	// prior fatal phase failed or because dry-run suppressed its mutations.
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every non-skipped target converged.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates the run completed but some targets failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates a fatal phase failure aborted the run.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial ||
		s == RunStatusFailed || s == RunStatusCancelled
}

// MarshalJSON implements custom JSON marshaling for type-safe enum
// serialization.
func (s RecordStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RecordStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RecordStatus(str)
	return s.Validate()
}
