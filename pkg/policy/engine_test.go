package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openbex/openbex/pkg/engine"
	"github.com/rs/zerolog"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t)

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"unsupported-offer",
		"inactive-target",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateTarget_UnsupportedOffer(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name       string
		target     engine.Target
		expectSkip bool
	}{
		{
			name: "standard offer proceeds",
			target: engine.Target{
				ID:             "sub-1",
				Classification: engine.ClassificationStandard,
				Attributes:     map[string]string{"offer_type": "pay-as-you-go"},
			},
			expectSkip: false,
		},
		{
			name: "sponsorship offer excluded",
			target: engine.Target{
				ID:             "sub-2",
				Classification: engine.ClassificationStandard,
				Attributes:     map[string]string{"offer_type": "sponsorship"},
			},
			expectSkip: true,
		},
		{
			name: "internal trial excluded",
			target: engine.Target{
				ID:             "sub-3",
				Classification: engine.ClassificationLegacy,
				Attributes:     map[string]string{"offer_type": "internal-trial"},
			},
			expectSkip: true,
		},
		{
			name: "no attributes proceeds",
			target: engine.Target{
				ID:             "sub-4",
				Classification: engine.ClassificationStandard,
			},
			expectSkip: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, err := eng.EvaluateTarget(context.Background(), tt.target)
			if err != nil {
				t.Fatalf("EvaluateTarget failed: %v", err)
			}
			if tt.expectSkip && reason == "" {
				t.Error("expected skip reason, got none")
			}
			if !tt.expectSkip && reason != "" {
				t.Errorf("expected no skip, got %q", reason)
			}
		})
	}
}

func TestEvaluateTarget_InactiveTarget(t *testing.T) {
	eng := testEngine(t)

	target := engine.Target{
		ID:             "sub-1",
		Classification: engine.ClassificationStandard,
		Attributes:     map[string]string{"state": "disabled"},
	}

	reason, err := eng.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if reason != "target is disabled" {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestEvaluateTarget_DisabledPolicyIgnored(t *testing.T) {
	eng := testEngine(t)

	if err := eng.DisablePolicy("unsupported-offer"); err != nil {
		t.Fatalf("failed to disable policy: %v", err)
	}

	target := engine.Target{
		ID:             "sub-1",
		Classification: engine.ClassificationStandard,
		Attributes:     map[string]string{"offer_type": "sponsorship"},
	}

	reason, err := eng.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if reason != "" {
		t.Errorf("disabled policy must not exclude targets, got %q", reason)
	}
}

func TestLoadPoliciesFromDisk(t *testing.T) {
	eng := testEngine(t)

	dir := t.TempDir()
	custom := `package custom.targets

import rego.v1

# Sandbox subscriptions never carry billable usage.
skip contains reason if {
	input.target.attributes.environment == "sandbox"
	reason := "sandbox targets are not exported"
}
`
	if err := os.WriteFile(filepath.Join(dir, "sandbox.rego"), []byte(custom), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("sandbox"); err != nil {
		t.Fatalf("custom policy not registered: %v", err)
	}

	target := engine.Target{
		ID:             "sub-1",
		Classification: engine.ClassificationStandard,
		Attributes:     map[string]string{"environment": "sandbox"},
	}

	reason, err := eng.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if reason != "sandbox targets are not exported" {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestEnableDisableUnknownPolicy(t *testing.T) {
	eng := testEngine(t)

	if err := eng.EnablePolicy("no-such-policy"); err == nil {
		t.Error("expected error enabling unknown policy")
	}
	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error disabling unknown policy")
	}
}

func TestReloadPoliciesDropsCustom(t *testing.T) {
	eng := testEngine(t)

	dir := t.TempDir()
	custom := `package custom.targets

import rego.v1

skip contains reason if {
	input.target.id == "sub-banned"
	reason := "explicitly excluded"
}
`
	if err := os.WriteFile(filepath.Join(dir, "banned.rego"), []byte(custom), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("banned"); err == nil {
		t.Error("custom policy should be dropped after reload")
	}
	if _, err := eng.GetPolicy("unsupported-offer"); err != nil {
		t.Errorf("built-in policy missing after reload: %v", err)
	}
}

func TestEngineImplementsTargetPolicy(t *testing.T) {
	eng := testEngine(t)
	var _ engine.TargetPolicy = eng
}
