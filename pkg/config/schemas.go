package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema("run", builtinRunSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against the definition at defPath
// within a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName, defPath string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	def := schema.LookupPath(cue.ParsePath(defPath))
	if !def.Exists() {
		return fmt.Errorf("definition %s not found in schema %s", defPath, schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

// builtinRunSchema constrains a run configuration and supplies the
// defaults. A user config is unified with #Run before decoding, so a
// minimal config needs only the provider.
const builtinRunSchema = `
// Run schema for OpenBex run configuration
#Run: {
	// provider selects the cloud provider implementation
	provider: string & =~"^[a-z0-9-]+$"

	// statePath is the SQLite state database path
	statePath: string | *"openbex.db"

	// capability is the permission probed before mutating a target
	capability: string | *"billing.exports.write"

	// maxParallel bounds the convergence worker pool
	maxParallel: int & >=1 & <=64 | *4

	// targets restricts the run to the listed target IDs
	targets?: [...string]

	// credentialOrder is the ordered credential strategy fallback chain
	credentialOrder: [...("ambient" | "service-principal" | "delegated")] | *["ambient", "service-principal"]

	// variants is the ordered export variant list per classification
	variants: {
		standard: [...string] | *["focus-cost", "actual-cost"]
		legacy: [...string] | *["actual-cost"]
	}

	// propagation tunes the post-grant capability wait
	propagation: {
		maxWait:      string | *"30m"
		pollInterval: string | *"30s"
	}

	// operation tunes asynchronous create polling
	operation: {
		timeout:      string | *"10m"
		pollInterval: string | *"15s"
	}

	// retry is the shared backoff policy for transient errors
	retry: {
		maxAttempts:     int & >=1 & <=20 | *5
		initialInterval: string | *"2s"
		multiplier:      number & >=1 | *2.0
		maxInterval:     string | *"1m"
		jitter:          number & >=0 & <=1 | *0.25
	}

	// policyPaths lists additional policy files or directories
	policyPaths?: [...string]

	// telemetry configures logging, metrics, and tracing
	telemetry: {
		logLevel:        ("trace" | "debug" | "info" | "warn" | "error") | *"info"
		logFormat:       ("console" | "json") | *"console"
		metricsEnabled:  bool | *false
		metricsListen:   string | *":9464"
		tracingEnabled:  bool | *false
		tracingExporter: ("stdout" | "otlp-grpc") | *"stdout"
		tracingEndpoint: string | *"localhost:4317"
	}
}
`

// ValidateRun validates a run configuration against the run schema.
func (sr *SchemaRegistry) ValidateRun(ctx context.Context, run RunConfig) error {
	return sr.ValidateAgainstSchema(ctx, "run", "#Run", run)
}
