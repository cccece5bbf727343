package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages registered actions. Reasoning steps register their actions
// at construction time and hand the backend a narrowed Provider per turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds an action to the registry.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// MustRegister registers an action, panicking on conflict. Used for fixed
// per-step action sets built at construction time.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider narrows a registry to the action set one step exposes this turn.
// The stage machine hands each backend call a stage-appropriate provider.
type Provider struct {
	registry *Registry
	allowSet map[string]struct{}
	order    []string
}

// NewProvider creates a Provider restricted to the named actions.
// Order is preserved in Definitions so prompts list actions deterministically.
func (r *Registry) NewProvider(allowed ...string) (*Provider, error) {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		if _, err := r.Get(name); err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		allowSet[name] = struct{}{}
	}
	return &Provider{
		registry: r,
		allowSet: allowSet,
		order:    append([]string(nil), allowed...),
	}, nil
}

// Get retrieves an allowed action by name.
func (p *Provider) Get(name string) (Tool, error) {
	if _, ok := p.allowSet[name]; !ok {
		return nil, fmt.Errorf("tool %s not available in this context", name)
	}
	return p.registry.Get(name)
}

// Allowed reports whether the named action is in the allow-set.
func (p *Provider) Allowed(name string) bool {
	_, ok := p.allowSet[name]
	return ok
}

// Definitions returns the function-calling declarations for the allowed set.
func (p *Provider) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(p.order))
	for _, name := range p.order {
		tool, err := p.registry.Get(name)
		if err != nil {
			continue
		}
		defs = append(defs, tool.Definition())
	}
	return defs
}
