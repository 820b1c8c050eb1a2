// Package memory implements a deterministic in-memory provider. It backs
// development runs and integration-style tests: every control-plane behavior
// the engine has to cope with (capability propagation delay, asynchronous
// creates, unsupported variants, transient faults) can be injected through
// its configuration.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openbex/openbex/pkg/engine"
	"github.com/openbex/openbex/pkg/providers"
)

// Name is the registry name of this provider.
const Name = "memory"

func init() {
	providers.Register(Name, func(opts providers.Options) (*providers.Provider, error) {
		cfg, err := configFromSettings(opts.Settings)
		if err != nil {
			return nil, err
		}
		cp := NewControlPlane(cfg, opts.Logger)
		return &providers.Provider{
			Name:       Name,
			Enumerator: cp,
			API:        cp,
			Strategies: map[string]engine.CredentialStrategy{
				"ambient":           &ambientStrategy{},
				"service-principal": &servicePrincipalStrategy{},
			},
		}, nil
	})
}

// Config controls the simulated control plane. The zero value is a healthy
// plane with three targets and synchronous creates.
type Config struct {
	// Targets overrides the generated target list.
	Targets []engine.Target

	// TargetCount is the number of generated targets when Targets is empty.
	TargetCount int

	// UnsupportedVariants marks target/variant pairs the plane rejects with
	// an unsupported error. Key format: "<targetID>/<variant>".
	UnsupportedVariants map[string]bool

	// TransientCreateFailures injects N transient failures before a create
	// succeeds, per "<targetID>/<variant>" key.
	TransientCreateFailures map[string]int

	// ProbesUntilGranted is the number of capability probes a target answers
	// "not granted" before granting. Zero means granted immediately.
	ProbesUntilGranted map[string]int

	// AsyncCreates makes every create return an operation handle instead of
	// completing synchronously.
	AsyncCreates bool

	// PollsUntilDone is the number of polls an asynchronous operation stays
	// running before it succeeds.
	PollsUntilDone int

	// Latency is an artificial delay applied to every call.
	Latency time.Duration
}

const defaultTargetCount = 3

func configFromSettings(settings map[string]string) (Config, error) {
	cfg := Config{}
	for key, value := range settings {
		var err error
		switch key {
		case "targets":
			cfg.TargetCount, err = strconv.Atoi(value)
		case "async":
			cfg.AsyncCreates, err = strconv.ParseBool(value)
		case "polls":
			cfg.PollsUntilDone, err = strconv.Atoi(value)
		case "latency":
			cfg.Latency, err = time.ParseDuration(value)
		default:
			err = fmt.Errorf("unknown setting")
		}
		if err != nil {
			return Config{}, fmt.Errorf("memory provider setting %s=%q: %w", key, value, err)
		}
	}
	return cfg, nil
}

// ControlPlane is the simulated provider control plane. It implements both
// engine.Enumerator and engine.CloudAPI and is safe for concurrent use.
type ControlPlane struct {
	cfg    Config
	logger zerolog.Logger

	mu               sync.Mutex
	sharedInfraReady bool
	resources        map[string]string // resource key -> variant
	operations       map[string]*operationState
	probes           map[string]int // targetID -> probes answered
	createFailures   map[string]int // remaining transient failures
	automation       [][]string     // target ID sets per ConfigureAutomation call
}

type operationState struct {
	remaining   int
	resourceKey string
	variant     string
}

// NewControlPlane creates a control plane with the given behavior.
func NewControlPlane(cfg Config, logger zerolog.Logger) *ControlPlane {
	failures := make(map[string]int, len(cfg.TransientCreateFailures))
	for key, count := range cfg.TransientCreateFailures {
		failures[key] = count
	}
	return &ControlPlane{
		cfg:            cfg,
		logger:         logger.With().Str("component", "memory-provider").Logger(),
		resources:      make(map[string]string),
		operations:     make(map[string]*operationState),
		probes:         make(map[string]int),
		createFailures: failures,
	}
}

// ListTargets returns the configured or generated target list.
func (cp *ControlPlane) ListTargets(ctx context.Context) ([]engine.Target, error) {
	if err := cp.simulate(ctx); err != nil {
		return nil, err
	}

	if len(cp.cfg.Targets) > 0 {
		out := make([]engine.Target, len(cp.cfg.Targets))
		copy(out, cp.cfg.Targets)
		return out, nil
	}

	count := cp.cfg.TargetCount
	if count <= 0 {
		count = defaultTargetCount
	}

	targets := make([]engine.Target, 0, count)
	for i := 1; i <= count; i++ {
		// Every third target runs on a legacy offer.
		classification := engine.ClassificationStandard
		offer := "pay-as-you-go"
		if i%3 == 0 {
			classification = engine.ClassificationLegacy
			offer = "legacy-rate"
		}
		targets = append(targets, engine.Target{
			ID:             fmt.Sprintf("mem-sub-%03d", i),
			DisplayName:    fmt.Sprintf("Memory Subscription %d", i),
			Classification: classification,
			Attributes: map[string]string{
				"offer_type": offer,
				"state":      "active",
			},
		})
	}
	return targets, nil
}

// Ping verifies the control plane is reachable.
func (cp *ControlPlane) Ping(ctx context.Context) error {
	return cp.simulate(ctx)
}

// EnsureSharedInfra idempotently provisions the shared export destination.
func (cp *ControlPlane) EnsureSharedInfra(ctx context.Context) error {
	if err := cp.simulate(ctx); err != nil {
		return err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.sharedInfraReady = true
	return nil
}

// SharedInfraReady reports whether the shared destination was provisioned.
func (cp *ControlPlane) SharedInfraReady() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.sharedInfraReady
}

// Describe reads an export resource by name.
func (cp *ControlPlane) Describe(ctx context.Context, cred *engine.Credential, target engine.Target, resourceName string) (*engine.DescribeResult, error) {
	if err := cp.simulate(ctx); err != nil {
		return nil, err
	}
	if err := requireCredential(cred, target); err != nil {
		return nil, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	variant, exists := cp.resources[resourceKey(target.ID, resourceName)]
	return &engine.DescribeResult{
		Exists:  exists,
		Variant: variant,
	}, nil
}

// Create attempts to create an export resource with the given variant.
func (cp *ControlPlane) Create(ctx context.Context, cred *engine.Credential, target engine.Target, resourceName, variant string) (*engine.CreateResult, error) {
	if err := cp.simulate(ctx); err != nil {
		return nil, err
	}
	if err := requireCredential(cred, target); err != nil {
		return nil, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.sharedInfraReady {
		return nil, engine.NewTransientError("shared export destination not provisioned", nil).
			WithCode(engine.ErrCodeSharedInfra).
			WithTarget(target.ID).
			WithOperation("create")
	}

	injectKey := target.ID + "/" + variant
	if cp.cfg.UnsupportedVariants[injectKey] {
		return nil, engine.NewUnsupportedError(
			fmt.Sprintf("variant %s is not supported for target %s", variant, target.ID), nil).
			WithCode(engine.ErrCodeUnsupported).
			WithTarget(target.ID).
			WithOperation("create")
	}

	if remaining := cp.createFailures[injectKey]; remaining > 0 {
		cp.createFailures[injectKey] = remaining - 1
		return nil, engine.NewTransientError("simulated control plane fault", nil).
			WithCode(engine.ErrCodeOperationFailed).
			WithTarget(target.ID).
			WithOperation("create")
	}

	key := resourceKey(target.ID, resourceName)

	if cp.cfg.AsyncCreates {
		opID := uuid.New().String()
		cp.operations[opID] = &operationState{
			remaining:   cp.cfg.PollsUntilDone,
			resourceKey: key,
			variant:     variant,
		}
		return &engine.CreateResult{
			Handle: &engine.OperationHandle{
				ID:        opID,
				Status:    engine.OperationStatusPending,
				StartedAt: time.Now(),
			},
		}, nil
	}

	cp.resources[key] = variant
	return &engine.CreateResult{Done: true}, nil
}

// PollOperation reads the status of an asynchronous create.
func (cp *ControlPlane) PollOperation(ctx context.Context, cred *engine.Credential, handle *engine.OperationHandle) (engine.OperationStatus, error) {
	if err := cp.simulate(ctx); err != nil {
		return "", err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	op, ok := cp.operations[handle.ID]
	if !ok {
		return "", engine.NewPermanentError(
			fmt.Sprintf("unknown operation %s", handle.ID), nil).
			WithCode(engine.ErrCodeOperationFailed).
			WithOperation("poll")
	}

	if op.remaining > 0 {
		op.remaining--
		return engine.OperationStatusRunning, nil
	}

	cp.resources[op.resourceKey] = op.variant
	return engine.OperationStatusSucceeded, nil
}

// CheckCapability reports whether the capability has propagated for the
// target. Each target answers "not granted" for the configured number of
// probes before granting.
func (cp *ControlPlane) CheckCapability(ctx context.Context, cred *engine.Credential, target engine.Target, capability string) (*engine.CapabilityCheckResult, error) {
	if err := cp.simulate(ctx); err != nil {
		return nil, err
	}
	if err := requireCredential(cred, target); err != nil {
		return nil, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.probes[target.ID]++
	granted := cp.probes[target.ID] > cp.cfg.ProbesUntilGranted[target.ID]

	return &engine.CapabilityCheckResult{
		Granted:   granted,
		CheckedAt: time.Now(),
	}, nil
}

// ConfigureAutomation records the scheduled-export configuration call.
func (cp *ControlPlane) ConfigureAutomation(ctx context.Context, targets []engine.Target) error {
	if err := cp.simulate(ctx); err != nil {
		return err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	cp.automation = append(cp.automation, ids)
	return nil
}

// AutomationCalls returns the recorded ConfigureAutomation invocations.
func (cp *ControlPlane) AutomationCalls() [][]string {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	out := make([][]string, len(cp.automation))
	copy(out, cp.automation)
	return out
}

// Resources returns a snapshot of the created export resources.
func (cp *ControlPlane) Resources() map[string]string {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	out := make(map[string]string, len(cp.resources))
	for k, v := range cp.resources {
		out[k] = v
	}
	return out
}

// simulate applies the configured latency while honoring cancellation.
func (cp *ControlPlane) simulate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.cfg.Latency <= 0 {
		return nil
	}
	timer := time.NewTimer(cp.cfg.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func requireCredential(cred *engine.Credential, target engine.Target) error {
	if cred == nil {
		return engine.NewPermanentError("no credential supplied", nil).
			WithCode(engine.ErrCodeNoCredential).
			WithTarget(target.ID)
	}
	return nil
}

func resourceKey(targetID, resourceName string) string {
	return targetID + "/" + resourceName
}

// ambientStrategy authorizes with the identity of the running process.
type ambientStrategy struct{}

func (s *ambientStrategy) Name() string { return "ambient" }

func (s *ambientStrategy) Authorize(ctx context.Context, target engine.Target) (*engine.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target.Attributes["deny_ambient"] == "true" {
		return nil, engine.NewPermanentError("ambient identity not authorized", nil).
			WithCode(engine.ErrCodeAuthDenied).
			WithTarget(target.ID)
	}
	return &engine.Credential{
		Strategy: s.Name(),
		Subject:  "memory-ambient",
		Token:    "ambient-token",
	}, nil
}

// servicePrincipalStrategy authorizes with a configured service principal.
type servicePrincipalStrategy struct{}

func (s *servicePrincipalStrategy) Name() string { return "service-principal" }

func (s *servicePrincipalStrategy) Authorize(ctx context.Context, target engine.Target) (*engine.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &engine.Credential{
		Strategy: s.Name(),
		Subject:  "memory-sp",
		Token:    "sp-token",
	}, nil
}
