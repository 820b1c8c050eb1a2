package policy

import (
	"time"

	"github.com/openbex/openbex/pkg/engine"
)

// Policy represents an exclusion rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Skip rules must be published
	// as a set of reason strings named "skip".
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetInput represents the input document for policy evaluation.
type TargetInput struct {
	// Target is the enumerated target being evaluated.
	Target *engine.Target `json:"target"`

	// Context provides additional evaluation context.
	Context *EvalContext `json:"context"`
}

// EvalContext provides context information for policy evaluation.
type EvalContext struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being considered for the target.
	Operation string `json:"operation,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`
}
