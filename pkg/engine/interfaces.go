package engine

import (
	"context"
)

// Enumerator lists the provisioning targets for a run and classifies each
// one from provider-supplied attributes. Read-only.
type Enumerator interface {
	// ListTargets returns the ordered target list. A failure here is the one
	// error that aborts the whole run: without a target list no meaningful
	// work is possible.
	ListTargets(ctx context.Context) ([]Target, error)
}

// CloudAPI is the narrow interface to the provider control plane. Payload
// generation, request signing, and wire formats live behind it; the core
// only consumes typed results.
type CloudAPI interface {
	// Ping verifies the control plane is reachable. Read-only.
	Ping(ctx context.Context) error

	// EnsureSharedInfra idempotently provisions the shared export
	// destination (storage container / dataset) every target ships into.
	EnsureSharedInfra(ctx context.Context) error

	// Describe reads the export resource by its deterministic name.
	// A missing resource is not an error; it is reported in the result.
	Describe(ctx context.Context, cred *Credential, target Target, resourceName string) (*DescribeResult, error)

	// Create attempts to create the export resource with the given variant.
	// Implementations signal variant rejection with an unsupported-class
	// error and authorization problems with transient or capability-class
	// errors so the worker can classify the outcome.
	Create(ctx context.Context, cred *Credential, target Target, resourceName, variant string) (*CreateResult, error)

	// PollOperation reads the current status of an asynchronous operation.
	PollOperation(ctx context.Context, cred *Credential, handle *OperationHandle) (OperationStatus, error)

	// CheckCapability reports whether the credential currently holds the
	// capability on the target. A pure read: "not granted" is a normal
	// result, never an error.
	CheckCapability(ctx context.Context, cred *Credential, target Target, capability string) (*CapabilityCheckResult, error)

	// ConfigureAutomation configures the scheduled export automation for the
	// targets converged in this run.
	ConfigureAutomation(ctx context.Context, targets []Target) error
}

// CredentialStrategy produces a credential authorized for a target. A failed
// attempt must be side-effect free.
type CredentialStrategy interface {
	// Name identifies the strategy (e.g. "ambient", "service-principal").
	Name() string

	// Authorize returns a credential authorized for the target, or an error
	// if this strategy cannot authorize it.
	Authorize(ctx context.Context, target Target) (*Credential, error)
}

// StateStore is the durable record of targets already reconciled. It is the
// single source of truth across runs.
type StateStore interface {
	// Load reads the full persisted history. An empty store is not an
	// error; it means nothing converged yet.
	Load(ctx context.Context) ([]ReconciliationRecord, error)

	// Upsert persists a terminal outcome. It is idempotent: writing the same
	// outcome twice must not create duplicates. Safe for concurrent use by
	// multiple convergence workers.
	Upsert(ctx context.Context, record *ReconciliationRecord) error
}

// TargetPolicy decides whether a target is excluded from provisioning.
type TargetPolicy interface {
	// EvaluateTarget returns a non-empty skip reason if the target is
	// excluded by policy.
	EvaluateTarget(ctx context.Context, target Target) (skipReason string, err error)
}

// EventSink receives run lifecycle events for the durable event log. All
// methods are best-effort from the executor's perspective.
type EventSink interface {
	// AppendRunEvent records an event for a run. targetID may be empty for
	// run-level events.
	AppendRunEvent(ctx context.Context, runID, targetID, level, message string) error
}
