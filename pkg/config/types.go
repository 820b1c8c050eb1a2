package config

import (
	"fmt"
	"time"

	"github.com/openbex/openbex/pkg/engine"
)

// RunConfig is the fully resolved run configuration from CUE.
type RunConfig struct {
	// Provider selects the cloud provider implementation.
	Provider string `json:"provider" validate:"required"`

	// StatePath is the SQLite state database path.
	StatePath string `json:"statePath" validate:"required"`

	// Capability is the permission probed before mutating a target.
	Capability string `json:"capability" validate:"required"`

	// MaxParallel bounds the convergence worker pool.
	MaxParallel int `json:"maxParallel" validate:"gte=1,lte=64"`

	// Targets restricts the run to the listed target IDs. Empty means all.
	Targets []string `json:"targets,omitempty"`

	// CredentialOrder is the ordered credential strategy fallback chain.
	CredentialOrder []string `json:"credentialOrder" validate:"min=1,dive,oneof=ambient service-principal delegated"`

	// Variants is the ordered export variant list per classification.
	Variants map[string][]string `json:"variants" validate:"required,min=1"`

	// Propagation tunes the post-grant capability wait.
	Propagation PropagationConfig `json:"propagation"`

	// Operation tunes asynchronous create polling.
	Operation OperationConfig `json:"operation"`

	// Retry is the shared backoff policy for transient errors.
	Retry RetryConfig `json:"retry"`

	// PolicyPaths lists additional policy files or directories.
	PolicyPaths []string `json:"policyPaths,omitempty"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`
}

// PropagationConfig tunes the capability propagation wait.
type PropagationConfig struct {
	// MaxWait bounds the wait per target (Go duration string).
	MaxWait string `json:"maxWait" validate:"required"`

	// PollInterval is the capability probe interval.
	PollInterval string `json:"pollInterval" validate:"required"`
}

// OperationConfig tunes long-running operation polling.
type OperationConfig struct {
	// Timeout is the local timeout for asynchronous creates.
	Timeout string `json:"timeout" validate:"required"`

	// PollInterval is the operation status poll interval.
	PollInterval string `json:"pollInterval" validate:"required"`
}

// RetryConfig is the shared backoff policy.
type RetryConfig struct {
	// MaxAttempts is the per-variant attempt budget for transient errors.
	MaxAttempts int `json:"maxAttempts" validate:"gte=1,lte=20"`

	// InitialInterval is the first backoff interval.
	InitialInterval string `json:"initialInterval" validate:"required"`

	// Multiplier grows the interval per attempt. 1 means fixed intervals.
	Multiplier float64 `json:"multiplier" validate:"gte=1"`

	// MaxInterval caps the backoff interval.
	MaxInterval string `json:"maxInterval" validate:"required"`

	// Jitter is the random interval extension fraction, 0 to 1.
	Jitter float64 `json:"jitter" validate:"gte=0,lte=1"`
}

// TelemetryConfig configures the observability stack.
type TelemetryConfig struct {
	// LogLevel is the zerolog level (trace, debug, info, warn, error).
	LogLevel string `json:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`

	// LogFormat selects console or json output.
	LogFormat string `json:"logFormat" validate:"omitempty,oneof=console json"`

	// MetricsEnabled exposes the Prometheus endpoint.
	MetricsEnabled bool `json:"metricsEnabled"`

	// MetricsListen is the Prometheus listen address.
	MetricsListen string `json:"metricsListen,omitempty"`

	// TracingEnabled turns on OpenTelemetry tracing.
	TracingEnabled bool `json:"tracingEnabled"`

	// TracingExporter selects the span exporter (stdout, otlp-grpc).
	TracingExporter string `json:"tracingExporter" validate:"omitempty,oneof=stdout otlp-grpc"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `json:"tracingEndpoint,omitempty"`
}

// ValidationError represents a configuration error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "retry.maxAttempts").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// ParsedConfig pairs a decoded RunConfig with its parse diagnostics.
type ParsedConfig struct {
	// Run is the decoded run configuration. Nil when Errors is non-empty.
	Run *RunConfig `json:"run,omitempty"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ExecutorConfig converts the run configuration into engine settings.
// Durations are parsed here so a malformed value fails before a run starts.
func (rc *RunConfig) ExecutorConfig(dryRun bool) (engine.ExecutorConfig, error) {
	propMaxWait, err := parseDuration("propagation.maxWait", rc.Propagation.MaxWait)
	if err != nil {
		return engine.ExecutorConfig{}, err
	}
	propPoll, err := parseDuration("propagation.pollInterval", rc.Propagation.PollInterval)
	if err != nil {
		return engine.ExecutorConfig{}, err
	}
	opTimeout, err := parseDuration("operation.timeout", rc.Operation.Timeout)
	if err != nil {
		return engine.ExecutorConfig{}, err
	}
	opPoll, err := parseDuration("operation.pollInterval", rc.Operation.PollInterval)
	if err != nil {
		return engine.ExecutorConfig{}, err
	}
	retryInitial, err := parseDuration("retry.initialInterval", rc.Retry.InitialInterval)
	if err != nil {
		return engine.ExecutorConfig{}, err
	}
	retryMax, err := parseDuration("retry.maxInterval", rc.Retry.MaxInterval)
	if err != nil {
		return engine.ExecutorConfig{}, err
	}

	variants := make(map[engine.Classification][]string, len(rc.Variants))
	for key, order := range rc.Variants {
		classification := engine.Classification(key)
		if err := classification.Validate(); err != nil {
			return engine.ExecutorConfig{}, fmt.Errorf("variants: %w", err)
		}
		if len(order) == 0 {
			return engine.ExecutorConfig{}, fmt.Errorf("variants.%s: at least one variant required", key)
		}
		variants[classification] = order
	}

	return engine.ExecutorConfig{
		DryRun:                  dryRun,
		MaxParallel:             rc.MaxParallel,
		TargetAllowlist:         rc.Targets,
		Capability:              rc.Capability,
		PropagationMaxWait:      propMaxWait,
		PropagationPollInterval: propPoll,
		OperationTimeout:        opTimeout,
		OperationPollInterval:   opPoll,
		Retry: engine.BackoffPolicy{
			MaxAttempts: rc.Retry.MaxAttempts,
			Initial:     retryInitial,
			Multiplier:  rc.Retry.Multiplier,
			MaxInterval: retryMax,
			Jitter:      rc.Retry.Jitter,
		},
		Variants: variants,
	}, nil
}

func parseDuration(path, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %q", path, value)
	}
	return d, nil
}
