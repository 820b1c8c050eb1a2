package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeEnumerator struct {
	targets []Target
	err     error
}

func (f *fakeEnumerator) ListTargets(ctx context.Context) ([]Target, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.targets, nil
}

// memStateStore is an in-memory StateStore with injectable failures.
type memStateStore struct {
	mu        sync.Mutex
	records   map[string]ReconciliationRecord
	upserts   int
	failLoad  bool
	failWrite bool
}

func newMemStateStore() *memStateStore {
	return &memStateStore{records: make(map[string]ReconciliationRecord)}
}

func (s *memStateStore) Load(ctx context.Context) ([]ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return nil, errors.New("load failed")
	}
	out := make([]ReconciliationRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStateStore) Upsert(ctx context.Context, record *ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failWrite {
		return errors.New("write failed")
	}
	s.records[record.TargetID] = *record
	return nil
}

type fakePolicy struct {
	skip map[string]string
}

func (p *fakePolicy) EvaluateTarget(ctx context.Context, target Target) (string, error) {
	return p.skip[target.ID], nil
}

func allowAllStrategy() CredentialStrategy {
	return &fakeStrategy{name: "ambient", allow: map[string]bool{
		"sub-1": true, "sub-2": true, "sub-3": true, "sub-4": true, "sub-5": true,
	}}
}

func testExecutorConfig(dryRun bool) ExecutorConfig {
	return ExecutorConfig{
		DryRun:                  dryRun,
		MaxParallel:             2,
		Capability:              "billing.exports.write",
		PropagationMaxWait:      200 * time.Millisecond,
		PropagationPollInterval: 10 * time.Millisecond,
		OperationTimeout:        200 * time.Millisecond,
		OperationPollInterval:   10 * time.Millisecond,
		Retry:                   BackoffPolicy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 1},
		Variants: map[Classification][]string{
			ClassificationStandard: {"focus-cost", "actual-cost"},
			ClassificationLegacy:   {"actual-cost"},
		},
	}
}

func newTestExecutor(cfg ExecutorConfig, api *fakeCloudAPI, enum *fakeEnumerator, store *memStateStore, policy TargetPolicy) *PlanExecutor {
	return NewPlanExecutor(cfg, ExecutorDeps{
		Enumerator: enum,
		API:        api,
		Chain:      NewFallbackChain([]CredentialStrategy{allowAllStrategy()}, zerolog.Nop()),
		Store:      store,
		Policy:     policy,
		Logger:     zerolog.Nop(),
	})
}

func targets(ids ...string) []Target {
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, standardTarget(id))
	}
	return out
}

func TestExecuteConvergesAllTargets(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2", "sub-3")}
	store := newMemStateStore()

	report, err := newTestExecutor(testExecutorConfig(false), api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("expected succeeded, got %s", report.Status)
	}
	if report.Summary.Converged != 3 {
		t.Errorf("expected 3 converged, got %d", report.Summary.Converged)
	}
	if len(store.records) != 3 {
		t.Errorf("expected 3 persisted records, got %d", len(store.records))
	}
}

func TestExecuteEnumerationFailureIsFatal(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{err: errors.New("listing unavailable")}
	store := newMemStateStore()

	report, err := newTestExecutor(testExecutorConfig(false), api, enum, store, nil).Execute(context.Background())
	if err == nil {
		t.Fatal("expected fatal error for enumeration failure")
	}
	if report.Status != RunStatusFailed {
		t.Errorf("expected failed run, got %s", report.Status)
	}
	creates, _, _, _ := api.counts()
	if creates != 0 {
		t.Errorf("no target may be processed after enumeration failure, got %d creates", creates)
	}
	// Later phases must be skipped, not executed.
	for _, p := range report.Phases {
		if p.Phase == PhaseConfigureAutomation && p.Status != PhaseStatusSkipped {
			t.Errorf("expected automation phase skipped, got %s", p.Status)
		}
	}
}

func TestExecutePerTargetFailureIsolation(t *testing.T) {
	api := newFakeCloudAPI()
	api.createErr["sub-3"] = NewPermanentError("authorization permanently denied", nil).WithCode(ErrCodeAuthDenied)
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2", "sub-3", "sub-4", "sub-5")}
	store := newMemStateStore()

	report, err := newTestExecutor(testExecutorConfig(false), api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("per-target failures must not abort the run: %v", err)
	}
	if report.Status != RunStatusPartial {
		t.Errorf("expected partial, got %s", report.Status)
	}
	if report.Summary.Converged != 4 {
		t.Errorf("expected 4 converged, got %d", report.Summary.Converged)
	}
	if report.Summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", report.Summary.Failed)
	}
	if !report.Failed() {
		t.Error("report with failed targets must map to a non-zero exit")
	}
}

func TestExecuteResumeFromPartialState(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2", "sub-3")}
	store := newMemStateStore()
	store.records["sub-1"] = ReconciliationRecord{
		TargetID:     "sub-1",
		ResourceName: ExportResourceName("sub-1"),
		Status:       RecordStatusConverged,
		VariantUsed:  "focus-cost",
	}
	store.records["sub-2"] = ReconciliationRecord{
		TargetID:     "sub-2",
		ResourceName: ExportResourceName("sub-2"),
		Status:       RecordStatusConverged,
		VariantUsed:  "focus-cost",
	}

	report, err := newTestExecutor(testExecutorConfig(false), api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Converged != 3 {
		t.Errorf("expected 3 converged, got %d", report.Summary.Converged)
	}
	creates, _, _, _ := api.counts()
	if creates != 1 {
		t.Errorf("only the remaining target may be created, got %d creates", creates)
	}
}

func TestExecuteIdempotentSecondRun(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2")}
	store := newMemStateStore()
	cfg := testExecutorConfig(false)

	first, err := newTestExecutor(cfg, api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	createsAfterFirst, _, _, _ := api.counts()

	second, err := newTestExecutor(cfg, api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	createsAfterSecond, _, _, _ := api.counts()

	if createsAfterSecond != createsAfterFirst {
		t.Errorf("second run must issue zero create calls: %d -> %d", createsAfterFirst, createsAfterSecond)
	}
	if first.Summary.Converged != second.Summary.Converged {
		t.Errorf("summaries differ across idempotent runs: %+v vs %+v", first.Summary, second.Summary)
	}
	for i := range first.Records {
		if first.Records[i].TargetID != second.Records[i].TargetID ||
			first.Records[i].Status != second.Records[i].Status ||
			first.Records[i].VariantUsed != second.Records[i].VariantUsed {
			t.Errorf("record %d differs: %+v vs %+v", i, first.Records[i], second.Records[i])
		}
	}
}

func TestExecuteDryRunPurity(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2", "sub-3", "sub-4", "sub-5")}
	store := newMemStateStore()

	report, err := newTestExecutor(testExecutorConfig(true), api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	creates, describes, polls, checks := api.counts()
	if creates != 0 || polls != 0 {
		t.Errorf("dry-run must not reach mutating calls: creates=%d polls=%d", creates, polls)
	}
	if api.sharedCalls != 0 || api.automationCalls != 0 {
		t.Errorf("dry-run must not provision shared infra or automation: shared=%d automation=%d",
			api.sharedCalls, api.automationCalls)
	}
	if describes == 0 || checks == 0 {
		t.Errorf("dry-run must still perform reads: describes=%d checks=%d", describes, checks)
	}
	if store.upserts != 0 {
		t.Errorf("dry-run must not write state, got %d upserts", store.upserts)
	}
	if report.Summary.Pending != 5 {
		t.Errorf("expected 5 pending outcomes in dry-run, got %d", report.Summary.Pending)
	}
}

func TestExecutePolicySkip(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2")}
	store := newMemStateStore()
	policy := &fakePolicy{skip: map[string]string{"sub-2": "unsupported offer type"}}

	report, err := newTestExecutor(testExecutorConfig(false), api, enum, store, policy).Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", report.Summary.Skipped)
	}
	if report.Summary.Converged != 1 {
		t.Errorf("expected 1 converged, got %d", report.Summary.Converged)
	}
	for _, r := range report.Records {
		if r.TargetID == "sub-2" && r.Message != "unsupported offer type" {
			t.Errorf("skip reason not recorded: %+v", r)
		}
	}
}

func TestExecuteStateWriteFailureDoesNotFailTarget(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1")}
	store := newMemStateStore()
	store.failWrite = true

	report, err := newTestExecutor(testExecutorConfig(false), api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Converged != 1 {
		t.Errorf("converged target must stay converged despite stale bookkeeping, got %+v", report.Summary)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("expected succeeded, got %s", report.Status)
	}
}

func TestExecuteTargetAllowlist(t *testing.T) {
	api := newFakeCloudAPI()
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2", "sub-3")}
	store := newMemStateStore()
	cfg := testExecutorConfig(false)
	cfg.TargetAllowlist = []string{"sub-2"}

	report, err := newTestExecutor(cfg, api, enum, store, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Total != 1 {
		t.Errorf("expected 1 target in scope, got %d", report.Summary.Total)
	}
	if _, ok := store.records["sub-2"]; !ok {
		t.Error("allowlisted target not converged")
	}
}

func TestExecuteCancellationMarksInFlightFailed(t *testing.T) {
	api := newFakeCloudAPI()
	// Never-granted capability keeps workers inside the propagation wait.
	api.probesUntilGranted["sub-1"] = -1
	api.probesUntilGranted["sub-2"] = -1
	enum := &fakeEnumerator{targets: targets("sub-1", "sub-2")}
	store := newMemStateStore()
	cfg := testExecutorConfig(false)
	cfg.PropagationMaxWait = time.Hour
	cfg.PropagationPollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	report, err := newTestExecutor(cfg, api, enum, store, nil).Execute(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled run")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not unblock in-flight waits promptly")
	}
	if report.Status != RunStatusCancelled {
		t.Errorf("expected cancelled, got %s", report.Status)
	}
	for _, r := range report.Records {
		if r.Status != RecordStatusFailed {
			t.Errorf("in-flight target %s should be failed on cancellation, got %s", r.TargetID, r.Status)
		}
	}
}
