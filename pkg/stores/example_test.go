package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openbex/openbex/pkg/engine"
	"github.com/openbex/openbex/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Upsert demonstrates persisting a reconciliation record.
func ExampleSQLiteStore_Upsert() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Record a converged target
	record := &engine.ReconciliationRecord{
		TargetID:      "sub-1",
		ResourceName:  engine.ExportResourceName("sub-1"),
		Status:        engine.RecordStatusConverged,
		VariantUsed:   "focus-cost",
		LastAttemptAt: time.Now(),
	}

	if err := store.Upsert(ctx, record); err != nil {
		log.Fatal(err)
	}

	// Retrieve the record
	retrieved, err := store.GetRecord(ctx, "sub-1")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Target: %s, Status: %s, Variant: %s\n",
		retrieved.TargetID, retrieved.Status, retrieved.VariantUsed)
	// Output: Target: sub-1, Status: converged, Variant: focus-cost
}

// ExampleSQLiteStore_CreateRun demonstrates run bookkeeping.
func ExampleSQLiteStore_CreateRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Create a new run
	run := &stores.Run{
		ID:        "run-001",
		DryRun:    false,
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now(),
		Summary:   `{}`,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	// Retrieve the run
	retrieved, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run ID: %s, Status: %s\n", retrieved.ID, retrieved.Status)
	// Output: Run ID: run-001, Status: running
}

// ExampleSQLiteStore_AppendRunEvent demonstrates the append-only run log.
func ExampleSQLiteStore_AppendRunEvent() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Log a run-scoped event and a target-scoped event
	if err := store.AppendRunEvent(ctx, "run-001", "", "info", "run started"); err != nil {
		log.Fatal(err)
	}
	if err := store.AppendRunEvent(ctx, "run-001", "sub-1", "info", "target sub-1: converged"); err != nil {
		log.Fatal(err)
	}

	// Retrieve events, oldest first
	events, err := store.GetEvents(ctx, "run-001", 10, 0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Event count: %d, First: %s\n", len(events), events[0].Message)
	// Output: Event count: 2, First: run started
}
