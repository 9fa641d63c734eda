package connector

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"prism/internal/types"
)

// Registry maps connector names to their specs and, when available, their
// implementations. Lens validation (gate 3) only needs the names; the
// orchestrator needs both.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]types.ConnectorSpec
	impls map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]types.ConnectorSpec),
		impls: make(map[string]Connector),
	}
}

// Register adds a spec with an optional implementation. Registering the same
// name twice is an error; specs are bootstrap-time configuration, not
// runtime state.
func (r *Registry) Register(spec types.ConnectorSpec, impl Connector) error {
	if spec.Name == "" {
		return fmt.Errorf("connector spec has no name")
	}
	if !spec.Phase.Valid() {
		return fmt.Errorf("connector %q has invalid phase %q", spec.Name, spec.Phase)
	}
	if spec.TrustLevel < 0 || spec.TrustLevel > 100 {
		return fmt.Errorf("connector %q trust_level %d out of range [0,100]", spec.Name, spec.TrustLevel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("connector %q already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	if impl != nil {
		r.impls[spec.Name] = impl
	}
	return nil
}

// Bind attaches an implementation to an already-registered spec.
func (r *Registry) Bind(name string, impl Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; !exists {
		return fmt.Errorf("cannot bind implementation: connector %q not registered", name)
	}
	r.impls[name] = impl
	return nil
}

// Has reports whether a connector name is registered. Satisfies
// lens.ConnectorRegistry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// Spec returns the registered spec for a name.
func (r *Registry) Spec(name string) (types.ConnectorSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Impl returns the implementation bound to a name, if any.
func (r *Registry) Impl(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.impls[name]
	return c, ok
}

// Names returns all registered connector names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// registryFile is the YAML shape of a connector registry file.
type registryFile struct {
	Connectors []types.ConnectorSpec `yaml:"connectors"`
}

// LoadSpecsFile reads connector specs from a YAML file and registers them
// without implementations. Implementations are bound separately at wiring
// time.
func (r *Registry) LoadSpecsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read connector registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse connector registry: %w", err)
	}
	for _, spec := range file.Connectors {
		if err := r.Register(spec, nil); err != nil {
			return err
		}
	}
	return nil
}
