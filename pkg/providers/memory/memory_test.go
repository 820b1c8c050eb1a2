package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openbex/openbex/pkg/engine"
	"github.com/openbex/openbex/pkg/providers"
)

func testPlane(cfg Config) *ControlPlane {
	return NewControlPlane(cfg, zerolog.Nop())
}

func testCred() *engine.Credential {
	return &engine.Credential{Strategy: "ambient", Subject: "test"}
}

func testTarget(id string) engine.Target {
	return engine.Target{ID: id, Classification: engine.ClassificationStandard}
}

func readyPlane(t *testing.T, cfg Config) *ControlPlane {
	t.Helper()
	cp := testPlane(cfg)
	if err := cp.EnsureSharedInfra(context.Background()); err != nil {
		t.Fatalf("EnsureSharedInfra failed: %v", err)
	}
	return cp
}

func TestListTargetsGenerated(t *testing.T) {
	cp := testPlane(Config{TargetCount: 6})

	targets, err := cp.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(targets) != 6 {
		t.Fatalf("expected 6 targets, got %d", len(targets))
	}
	if targets[0].ID != "mem-sub-001" {
		t.Errorf("unexpected first target ID %s", targets[0].ID)
	}
	// Every third target is on a legacy offer.
	if targets[2].Classification != engine.ClassificationLegacy {
		t.Errorf("expected third target legacy, got %s", targets[2].Classification)
	}
	if targets[0].Classification != engine.ClassificationStandard {
		t.Errorf("expected first target standard, got %s", targets[0].Classification)
	}
	if targets[2].Attributes["offer_type"] != "legacy-rate" {
		t.Errorf("unexpected offer type %s", targets[2].Attributes["offer_type"])
	}
}

func TestListTargetsExplicit(t *testing.T) {
	want := []engine.Target{testTarget("sub-a"), testTarget("sub-b")}
	cp := testPlane(Config{Targets: want})

	targets, err := cp.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(targets) != 2 || targets[0].ID != "sub-a" {
		t.Errorf("unexpected targets %+v", targets)
	}
}

func TestCreateRequiresSharedInfra(t *testing.T) {
	cp := testPlane(Config{})

	_, err := cp.Create(context.Background(), testCred(), testTarget("sub-1"), "export-abc", "focus-cost")
	if err == nil {
		t.Fatal("expected error before shared infra is provisioned")
	}
	if !engine.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestCreateSynchronous(t *testing.T) {
	cp := readyPlane(t, Config{})
	target := testTarget("sub-1")

	result, err := cp.Create(context.Background(), testCred(), target, "export-abc", "focus-cost")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !result.Done {
		t.Error("expected synchronous create to report done")
	}

	desc, err := cp.Describe(context.Background(), testCred(), target, "export-abc")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if !desc.Exists || desc.Variant != "focus-cost" {
		t.Errorf("unexpected describe result %+v", desc)
	}
}

func TestCreateAsyncCompletesAfterPolls(t *testing.T) {
	cp := readyPlane(t, Config{AsyncCreates: true, PollsUntilDone: 2})
	target := testTarget("sub-1")

	result, err := cp.Create(context.Background(), testCred(), target, "export-abc", "focus-cost")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.Done || result.Handle == nil {
		t.Fatalf("expected async handle, got %+v", result)
	}

	// The resource is not visible until the operation completes.
	desc, _ := cp.Describe(context.Background(), testCred(), target, "export-abc")
	if desc.Exists {
		t.Error("resource visible before operation completed")
	}

	for i := 0; i < 2; i++ {
		status, err := cp.PollOperation(context.Background(), testCred(), result.Handle)
		if err != nil {
			t.Fatalf("PollOperation failed: %v", err)
		}
		if status != engine.OperationStatusRunning {
			t.Fatalf("expected running on poll %d, got %s", i+1, status)
		}
	}

	status, err := cp.PollOperation(context.Background(), testCred(), result.Handle)
	if err != nil {
		t.Fatalf("PollOperation failed: %v", err)
	}
	if status != engine.OperationStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", status)
	}

	desc, _ = cp.Describe(context.Background(), testCred(), target, "export-abc")
	if !desc.Exists {
		t.Error("resource missing after operation succeeded")
	}
}

func TestPollUnknownOperation(t *testing.T) {
	cp := readyPlane(t, Config{})

	_, err := cp.PollOperation(context.Background(), testCred(), &engine.OperationHandle{ID: "nope"})
	if err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestCreateUnsupportedVariant(t *testing.T) {
	cp := readyPlane(t, Config{
		UnsupportedVariants: map[string]bool{"sub-1/focus-cost": true},
	})

	_, err := cp.Create(context.Background(), testCred(), testTarget("sub-1"), "export-abc", "focus-cost")
	if !engine.IsUnsupported(err) {
		t.Fatalf("expected unsupported error, got %v", err)
	}

	// Other variants remain fine.
	if _, err := cp.Create(context.Background(), testCred(), testTarget("sub-1"), "export-abc", "actual-cost"); err != nil {
		t.Errorf("actual-cost create failed: %v", err)
	}
}

func TestCreateTransientFailuresExhaust(t *testing.T) {
	cp := readyPlane(t, Config{
		TransientCreateFailures: map[string]int{"sub-1/focus-cost": 2},
	})
	target := testTarget("sub-1")

	for i := 0; i < 2; i++ {
		_, err := cp.Create(context.Background(), testCred(), target, "export-abc", "focus-cost")
		if !engine.IsTransient(err) {
			t.Fatalf("attempt %d: expected transient error, got %v", i+1, err)
		}
	}

	result, err := cp.Create(context.Background(), testCred(), target, "export-abc", "focus-cost")
	if err != nil {
		t.Fatalf("expected success after failures drained: %v", err)
	}
	if !result.Done {
		t.Error("expected done result")
	}
}

func TestCheckCapabilityPropagation(t *testing.T) {
	cp := readyPlane(t, Config{
		ProbesUntilGranted: map[string]int{"sub-1": 2},
	})
	target := testTarget("sub-1")

	for i := 0; i < 2; i++ {
		res, err := cp.CheckCapability(context.Background(), testCred(), target, "billing.exports.write")
		if err != nil {
			t.Fatalf("CheckCapability failed: %v", err)
		}
		if res.Granted {
			t.Fatalf("probe %d: expected not granted", i+1)
		}
	}

	res, err := cp.CheckCapability(context.Background(), testCred(), target, "billing.exports.write")
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if !res.Granted {
		t.Error("expected granted after propagation delay")
	}
}

func TestCallsRequireCredential(t *testing.T) {
	cp := readyPlane(t, Config{})
	target := testTarget("sub-1")

	if _, err := cp.Describe(context.Background(), nil, target, "export-abc"); err == nil {
		t.Error("expected describe to require a credential")
	}
	if _, err := cp.Create(context.Background(), nil, target, "export-abc", "focus-cost"); err == nil {
		t.Error("expected create to require a credential")
	}
	if _, err := cp.CheckCapability(context.Background(), nil, target, "cap"); err == nil {
		t.Error("expected capability check to require a credential")
	}
}

func TestConfigureAutomationRecordsCalls(t *testing.T) {
	cp := readyPlane(t, Config{})

	targets := []engine.Target{testTarget("sub-1"), testTarget("sub-2")}
	if err := cp.ConfigureAutomation(context.Background(), targets); err != nil {
		t.Fatalf("ConfigureAutomation failed: %v", err)
	}

	calls := cp.AutomationCalls()
	if len(calls) != 1 || len(calls[0]) != 2 || calls[0][0] != "sub-1" {
		t.Errorf("unexpected automation calls %v", calls)
	}
}

func TestCancelledContext(t *testing.T) {
	cp := readyPlane(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cp.ListTargets(ctx); err == nil {
		t.Error("expected cancellation error")
	}
	if err := cp.Ping(ctx); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestAmbientStrategy(t *testing.T) {
	s := &ambientStrategy{}

	cred, err := s.Authorize(context.Background(), testTarget("sub-1"))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Strategy != "ambient" {
		t.Errorf("unexpected strategy %s", cred.Strategy)
	}

	denied := testTarget("sub-2")
	denied.Attributes = map[string]string{"deny_ambient": "true"}
	if _, err := s.Authorize(context.Background(), denied); err == nil {
		t.Error("expected ambient denial")
	}
}

func TestRegisteredWithDefaultRegistry(t *testing.T) {
	provider, err := providers.Build(Name, providers.Options{
		Logger:   zerolog.Nop(),
		Settings: map[string]string{"targets": "2", "async": "true", "polls": "1"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if provider.Enumerator == nil || provider.API == nil {
		t.Fatal("expected enumerator and API wired")
	}
	if _, err := provider.OrderedStrategies([]string{"ambient", "service-principal"}); err != nil {
		t.Errorf("expected both strategies implemented: %v", err)
	}

	targets, err := provider.Enumerator.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(targets) != 2 {
		t.Errorf("expected 2 targets from settings, got %d", len(targets))
	}
}

func TestBuildRejectsBadSettings(t *testing.T) {
	_, err := providers.Build(Name, providers.Options{
		Settings: map[string]string{"targets": "many"},
	})
	if err == nil {
		t.Error("expected error for non-numeric targets setting")
	}

	_, err = providers.Build(Name, providers.Options{
		Settings: map[string]string{"unknown_knob": "1"},
	})
	if err == nil {
		t.Error("expected error for unknown setting")
	}
}
