package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openbex/openbex/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load returns every reconciliation record. The executor seeds its skip
// set from the converged subset.
func (s *SQLiteStore) Load(ctx context.Context) ([]engine.ReconciliationRecord, error) {
	query := `
		SELECT target_id, resource_name, status, variant_used, message, last_attempt_at
		FROM records
		ORDER BY target_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	records := []engine.ReconciliationRecord{}
	for rows.Next() {
		var record engine.ReconciliationRecord
		err := rows.Scan(
			&record.TargetID,
			&record.ResourceName,
			&record.Status,
			&record.VariantUsed,
			&record.Message,
			&record.LastAttemptAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// Upsert inserts or replaces the reconciliation record for a target.
func (s *SQLiteStore) Upsert(ctx context.Context, record *engine.ReconciliationRecord) error {
	query := `
		INSERT INTO records (target_id, resource_name, status, variant_used, message, last_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(target_id) DO UPDATE SET
			resource_name = excluded.resource_name,
			status = excluded.status,
			variant_used = excluded.variant_used,
			message = excluded.message,
			last_attempt_at = excluded.last_attempt_at,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		record.TargetID,
		record.ResourceName,
		record.Status,
		record.VariantUsed,
		record.Message,
		record.LastAttemptAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}

	return nil
}

// GetRecord retrieves the reconciliation record for a target
func (s *SQLiteStore) GetRecord(ctx context.Context, targetID string) (*engine.ReconciliationRecord, error) {
	query := `
		SELECT target_id, resource_name, status, variant_used, message, last_attempt_at
		FROM records
		WHERE target_id = ?
	`

	record := &engine.ReconciliationRecord{}
	err := s.db.QueryRowContext(ctx, query, targetID).Scan(
		&record.TargetID,
		&record.ResourceName,
		&record.Status,
		&record.VariantUsed,
		&record.Message,
		&record.LastAttemptAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %s", targetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// DeleteRecord deletes the reconciliation record for a target
func (s *SQLiteStore) DeleteRecord(ctx context.Context, targetID string) error {
	query := `DELETE FROM records WHERE target_id = ?`

	result, err := s.db.ExecContext(ctx, query, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("record not found: %s", targetID)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, dry_run, status, started_at, completed_at, error, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.DryRun,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Summary,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, dry_run, status, started_at, completed_at, error, summary, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.DryRun,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Summary,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	var completedAt *time.Time
	if status != engine.RunStatusRunning {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs with pagination, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, dry_run, status, started_at, completed_at, error, summary, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.DryRun,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Summary,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendRunEvent appends an event to the run log. An empty targetID
// records a run-scoped event.
func (s *SQLiteStore) AppendRunEvent(ctx context.Context, runID, targetID, level, message string) error {
	query := `
		INSERT INTO events (run_id, target_id, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	var target *string
	if targetID != "" {
		target = &targetID
	}

	_, err := s.db.ExecContext(ctx, query, runID, target, level, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents retrieves the events of a run with pagination, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, target_id, level, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.TargetID,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
