package stores

import (
	"context"
	"time"

	"github.com/openbex/openbex/pkg/engine"
)

// EventLevel represents the severity level of a run event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one provisioning run
type Run struct {
	ID          string           `json:"id"`
	DryRun      bool             `json:"dry_run"`
	Status      engine.RunStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       *string          `json:"error,omitempty"`
	Summary     string           `json:"summary"` // JSON blob of engine.RunSummary
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Event represents an append-only run log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	TargetID  *string    `json:"target_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer. It satisfies
// engine.StateStore and engine.EventSink so the executor can be wired
// directly against it.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Reconciliation record operations
	Load(ctx context.Context) ([]engine.ReconciliationRecord, error)
	Upsert(ctx context.Context, record *engine.ReconciliationRecord) error
	GetRecord(ctx context.Context, targetID string) (*engine.ReconciliationRecord, error)
	DeleteRecord(ctx context.Context, targetID string) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Event operations
	AppendRunEvent(ctx context.Context, runID, targetID, level, message string) error
	GetEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
