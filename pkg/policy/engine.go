package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/openbex/openbex/pkg/engine"
	"github.com/rs/zerolog"
)

// Engine implements the TargetPolicy interface from pkg/engine.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy with its prepared
// skip query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateTarget evaluates all enabled policies against a target. It
// returns the first skip reason produced, or an empty string when no
// policy excludes the target.
func (e *Engine) EvaluateTarget(ctx context.Context, target engine.Target) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &TargetInput{
		Target: &target,
		Context: &EvalContext{
			Timestamp: time.Now(),
			Operation: "converge",
		},
	}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		reasons, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return "", fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		if len(reasons) > 0 {
			e.logger.Debug().
				Str("policy", cp.policy.Name).
				Str("target_id", target.ID).
				Str("reason", reasons[0]).
				Msg("Target excluded by policy")
			return reasons[0], nil
		}
	}

	return "", nil
}

// LoadPolicies loads policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy runs the prepared skip query of a single policy and
// collects the reason strings.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *TargetInput) ([]string, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var reasons []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			skipSet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range skipSet {
				switch v := item.(type) {
				case string:
					reasons = append(reasons, v)
				default:
					reasons = append(reasons, fmt.Sprintf("%v", v))
				}
			}
		}
	}

	return reasons, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(regoSrc string) string {
	lines := strings.Split(regoSrc, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "openbex.targets"
}

// compileAndStorePolicy compiles a policy, prepares its skip query, and
// stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	packageName := extractPackageName(policy.Rego)
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.skip", packageName)),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and reloads the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
