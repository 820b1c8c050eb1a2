// Package providers maintains the registry of cloud provider
// implementations. A provider bundles the collaborators the engine needs:
// an enumerator, a control-plane API, and credential strategies. Providers
// register themselves from init, so importing a provider package for side
// effects is enough to make it available by name.
package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openbex/openbex/pkg/engine"
)

// Provider bundles the per-provider collaborators handed to the engine.
type Provider struct {
	// Name is the registry name of this provider.
	Name string

	// Enumerator lists and classifies this provider's targets.
	Enumerator engine.Enumerator

	// API is the control-plane interface.
	API engine.CloudAPI

	// Strategies maps strategy name to implementation.
	Strategies map[string]engine.CredentialStrategy
}

// OrderedStrategies returns the strategies in the given preference order.
// Every name in the order must be implemented by the provider.
func (p *Provider) OrderedStrategies(order []string) ([]engine.CredentialStrategy, error) {
	out := make([]engine.CredentialStrategy, 0, len(order))
	for _, name := range order {
		strategy, ok := p.Strategies[name]
		if !ok {
			return nil, fmt.Errorf("provider %s does not implement credential strategy %q (has: %s)",
				p.Name, name, strings.Join(strategyNames(p.Strategies), ", "))
		}
		out = append(out, strategy)
	}
	return out, nil
}

func strategyNames(strategies map[string]engine.CredentialStrategy) []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options carry provider construction inputs.
type Options struct {
	// Logger is the base logger; providers derive component loggers from it.
	Logger zerolog.Logger

	// Settings are provider-specific key/value settings from the run
	// configuration or CLI flags.
	Settings map[string]string
}

// Factory constructs a provider instance.
type Factory func(opts Options) (*Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given name. Registering the same name
// twice is a programming error.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return fmt.Errorf("provider name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("provider %s: factory must not be nil", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// Build constructs the named provider.
func (r *Registry) Build(name string, opts Options) (*Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %s)",
			name, strings.Join(r.List(), ", "))
	}

	provider, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider %s: %w", name, err)
	}
	if provider.Name == "" {
		provider.Name = name
	}
	return provider, nil
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultRegistry backs the package-level registration functions.
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry. Provider packages call
// this from init; a duplicate name panics because it is a wiring bug.
func Register(name string, factory Factory) {
	if err := defaultRegistry.Register(name, factory); err != nil {
		panic(err)
	}
}

// Build constructs the named provider from the default registry.
func Build(name string, opts Options) (*Provider, error) {
	return defaultRegistry.Build(name, opts)
}

// List returns the provider names in the default registry, sorted.
func List() []string {
	return defaultRegistry.List()
}
