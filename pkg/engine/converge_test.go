package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeCloudAPI is a scriptable in-memory control plane shared by the worker
// and executor tests.
type fakeCloudAPI struct {
	mu sync.Mutex

	// resources maps resource name -> variant for existing resources.
	resources map[string]string

	// unsupported marks target/variant pairs rejected as unsupported.
	unsupported map[string]bool

	// transientLeft counts remaining transient failures per target/variant.
	transientLeft map[string]int

	// capabilityDenied marks target/variant pairs rejected with a
	// capability-class error.
	capabilityDenied map[string]bool

	// createErr is returned verbatim for a target on Create.
	createErr map[string]error

	// probesUntilGranted counts capability probes before a grant becomes
	// visible; -1 means never granted.
	probesUntilGranted map[string]int

	// async marks targets whose create returns an operation handle.
	async map[string]bool

	// pollsUntilDone is the number of polls before an async operation
	// reports succeeded; -1 means it never terminates.
	pollsUntilDone int
	pollCount      int

	pingErr   error
	sharedErr error

	createCalls     int
	describeCalls   int
	pollCalls       int
	checkCalls      int
	sharedCalls     int
	automationCalls int
}

func newFakeCloudAPI() *fakeCloudAPI {
	return &fakeCloudAPI{
		resources:          make(map[string]string),
		unsupported:        make(map[string]bool),
		transientLeft:      make(map[string]int),
		capabilityDenied:   make(map[string]bool),
		createErr:          make(map[string]error),
		probesUntilGranted: make(map[string]int),
		async:              make(map[string]bool),
	}
}

func key(targetID, variant string) string { return targetID + "/" + variant }

func (f *fakeCloudAPI) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeCloudAPI) EnsureSharedInfra(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sharedCalls++
	return f.sharedErr
}

func (f *fakeCloudAPI) Describe(ctx context.Context, cred *Credential, target Target, resourceName string) (*DescribeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	variant, ok := f.resources[resourceName]
	return &DescribeResult{Exists: ok, Variant: variant}, nil
}

func (f *fakeCloudAPI) Create(ctx context.Context, cred *Credential, target Target, resourceName, variant string) (*CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++

	if err, ok := f.createErr[target.ID]; ok {
		return nil, err
	}
	if f.unsupported[key(target.ID, variant)] {
		return nil, NewUnsupportedError(fmt.Sprintf("variant %s not supported", variant), nil).WithCode(ErrCodeUnsupported)
	}
	if left := f.transientLeft[key(target.ID, variant)]; left > 0 {
		f.transientLeft[key(target.ID, variant)] = left - 1
		return nil, NewTransientError("authorization not yet propagated", nil)
	}
	if f.capabilityDenied[key(target.ID, variant)] {
		return nil, NewCapabilityError("missing capability for variant", nil).WithCode(ErrCodeAuthDenied)
	}

	if f.async[target.ID] {
		return &CreateResult{Handle: &OperationHandle{
			ID:        "op-" + target.ID,
			Status:    OperationStatusRunning,
			StartedAt: time.Now(),
		}}, nil
	}

	f.resources[resourceName] = variant
	return &CreateResult{Done: true}, nil
}

func (f *fakeCloudAPI) PollOperation(ctx context.Context, cred *Credential, handle *OperationHandle) (OperationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.pollsUntilDone < 0 {
		return OperationStatusRunning, nil
	}
	f.pollCount++
	if f.pollCount >= f.pollsUntilDone {
		// Operation completion materializes the resource.
		targetID := handle.ID[len("op-"):]
		f.resources[ExportResourceName(targetID)] = "focus-cost"
		return OperationStatusSucceeded, nil
	}
	return OperationStatusRunning, nil
}

func (f *fakeCloudAPI) CheckCapability(ctx context.Context, cred *Credential, target Target, capability string) (*CapabilityCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	left, ok := f.probesUntilGranted[target.ID]
	if !ok {
		return &CapabilityCheckResult{Granted: true, CheckedAt: time.Now()}, nil
	}
	if left < 0 {
		return &CapabilityCheckResult{Granted: false, CheckedAt: time.Now()}, nil
	}
	if left == 0 {
		return &CapabilityCheckResult{Granted: true, CheckedAt: time.Now()}, nil
	}
	f.probesUntilGranted[target.ID] = left - 1
	return &CapabilityCheckResult{Granted: false, CheckedAt: time.Now()}, nil
}

func (f *fakeCloudAPI) ConfigureAutomation(ctx context.Context, targets []Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.automationCalls++
	return nil
}

func (f *fakeCloudAPI) counts() (creates, describes, polls, checks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.describeCalls, f.pollCalls, f.checkCalls
}

func testWorker(api *fakeCloudAPI, dryRun bool) *ConvergenceWorker {
	cfg := WorkerConfig{
		Variants: map[Classification][]string{
			ClassificationStandard: {"focus-cost", "actual-cost"},
			ClassificationLegacy:   {"actual-cost"},
		},
		Retry:                 BackoffPolicy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 1},
		OperationTimeout:      200 * time.Millisecond,
		OperationPollInterval: 10 * time.Millisecond,
		DryRun:                dryRun,
	}
	poller := NewOperationPoller(api, zerolog.Nop())
	return NewConvergenceWorker(api, poller, cfg, nil, zerolog.Nop())
}

func standardTarget(id string) Target {
	return Target{ID: id, Classification: ClassificationStandard}
}

func TestConvergeCreatesWithPreferredVariant(t *testing.T) {
	api := newFakeCloudAPI()
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{Strategy: "ambient"})

	if record.Status != RecordStatusConverged {
		t.Fatalf("expected converged, got %s (%s)", record.Status, record.Message)
	}
	if record.VariantUsed != "focus-cost" {
		t.Errorf("expected preferred variant focus-cost, got %s", record.VariantUsed)
	}
	if record.ResourceName != ExportResourceName("sub-1") {
		t.Errorf("unexpected resource name %s", record.ResourceName)
	}
}

func TestConvergeConfirmationFirstSkipsCreate(t *testing.T) {
	api := newFakeCloudAPI()
	api.resources[ExportResourceName("sub-1")] = "actual-cost"
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusConverged {
		t.Fatalf("expected converged, got %s", record.Status)
	}
	if record.VariantUsed != "actual-cost" {
		t.Errorf("expected existing variant actual-cost, got %s", record.VariantUsed)
	}
	creates, _, _, _ := api.counts()
	if creates != 0 {
		t.Errorf("expected zero create calls for an existing resource, got %d", creates)
	}
}

func TestConvergeVariantFallbackOrder(t *testing.T) {
	api := newFakeCloudAPI()
	api.unsupported[key("sub-1", "focus-cost")] = true
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusConverged {
		t.Fatalf("expected converged, got %s (%s)", record.Status, record.Message)
	}
	if record.VariantUsed != "actual-cost" {
		t.Errorf("expected fallback variant actual-cost, got %s", record.VariantUsed)
	}
	creates, _, _, _ := api.counts()
	if creates != 2 {
		t.Errorf("expected exactly 2 create attempts (one per variant), got %d", creates)
	}
}

func TestConvergeTransientAuthRetriesSameVariant(t *testing.T) {
	api := newFakeCloudAPI()
	api.transientLeft[key("sub-1", "focus-cost")] = 2
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusConverged {
		t.Fatalf("expected converged after transient retries, got %s (%s)", record.Status, record.Message)
	}
	if record.VariantUsed != "focus-cost" {
		t.Errorf("expected focus-cost after retries, got %s", record.VariantUsed)
	}
}

func TestConvergeTransientAuthExhaustedFails(t *testing.T) {
	api := newFakeCloudAPI()
	api.transientLeft[key("sub-1", "focus-cost")] = 10
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusFailed {
		t.Fatalf("expected failed after exhausting transient retries, got %s", record.Status)
	}
}

func TestConvergeCapabilityDeniedFallsThrough(t *testing.T) {
	api := newFakeCloudAPI()
	api.capabilityDenied[key("sub-1", "focus-cost")] = true
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusConverged {
		t.Fatalf("expected converged via fallback, got %s (%s)", record.Status, record.Message)
	}
	if record.VariantUsed != "actual-cost" {
		t.Errorf("expected actual-cost, got %s", record.VariantUsed)
	}
}

func TestConvergePermanentErrorFailsWithoutFallback(t *testing.T) {
	api := newFakeCloudAPI()
	api.createErr["sub-1"] = NewPermanentError("authorization permanently denied", nil).WithCode(ErrCodeAuthDenied)
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusFailed {
		t.Fatalf("expected failed, got %s", record.Status)
	}
	creates, _, _, _ := api.counts()
	if creates != 1 {
		t.Errorf("permanent error must not trigger variant fallback, got %d create calls", creates)
	}
}

func TestConvergeAsyncOperationSucceeds(t *testing.T) {
	api := newFakeCloudAPI()
	api.async["sub-1"] = true
	api.pollsUntilDone = 3
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusConverged {
		t.Fatalf("expected converged after async operation, got %s (%s)", record.Status, record.Message)
	}
	_, _, polls, _ := api.counts()
	if polls < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls)
	}
}

func TestConvergeAsyncTimeoutIsNotFailedOperation(t *testing.T) {
	api := newFakeCloudAPI()
	api.async["sub-1"] = true
	api.pollsUntilDone = -1
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusFailed {
		t.Fatalf("expected failed record on local timeout, got %s", record.Status)
	}
	if record.Message == "" {
		t.Error("timeout record must carry a message distinguishing it from provider failure")
	}
	// Timeout must not trigger a second variant: the operation may still
	// complete remotely.
	creates, _, _, _ := api.counts()
	if creates != 1 {
		t.Errorf("expected a single create attempt, got %d", creates)
	}
}

func TestConvergeDryRunIssuesNoMutations(t *testing.T) {
	api := newFakeCloudAPI()
	worker := testWorker(api, true)

	record := worker.Converge(context.Background(), standardTarget("sub-1"), &Credential{})

	if record.Status != RecordStatusPending {
		t.Fatalf("expected pending in dry-run, got %s", record.Status)
	}
	if record.VariantUsed != "focus-cost" {
		t.Errorf("dry-run should report the variant it would use, got %s", record.VariantUsed)
	}
	creates, describes, polls, _ := api.counts()
	if creates != 0 || polls != 0 {
		t.Errorf("dry-run must not mutate: creates=%d polls=%d", creates, polls)
	}
	if describes == 0 {
		t.Error("dry-run should still perform the confirmation read")
	}
}

func TestConvergeNoVariantsForClassification(t *testing.T) {
	api := newFakeCloudAPI()
	worker := testWorker(api, false)

	record := worker.Converge(context.Background(), Target{ID: "sub-1", Classification: "unknown"}, &Credential{})

	if record.Status != RecordStatusFailed {
		t.Fatalf("expected failed for unknown classification, got %s", record.Status)
	}
}

func TestExportResourceNameDeterministic(t *testing.T) {
	a := ExportResourceName("sub-1")
	b := ExportResourceName("sub-1")
	c := ExportResourceName("sub-2")

	if a != b {
		t.Errorf("resource name not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Error("distinct targets must map to distinct resource names")
	}
	if len(a) != len("export-")+12 {
		t.Errorf("unexpected resource name length: %s", a)
	}
}
