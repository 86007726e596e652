package provider

import (
	"context"
	"log/slog"
	"sync"
)

// Registry tracks registered providers and resolves them by identity or
// capability. Registration is idempotent per identity, so initialization
// code running more than once never produces duplicate fan-out entries.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Descriptor
	order     []string // registration order, for deterministic iteration
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		providers: make(map[string]*Descriptor),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider descriptor. Re-registering the same identity is
// a no-op, not an error.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Name()
	if _, exists := r.providers[name]; exists {
		r.logger.Debug("provider already registered", "provider", name)
		return
	}
	r.providers[name] = d
	r.order = append(r.order, name)
	r.logger.Info("registered provider", "provider", name, "capabilities", d.Capabilities(), "enabled", d.Enabled)
}

// ByIdentity returns the descriptor for a provider name.
func (r *Registry) ByIdentity(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.providers[name]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// ByCapability returns all providers implementing the capability, in
// registration order. With enabledOnly set, disabled providers are
// skipped.
func (r *Registry) ByCapability(cap Capability, enabledOnly bool) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, name := range r.order {
		d := r.providers[name]
		if enabledOnly && !d.Enabled {
			continue
		}
		if hasCapability(d, cap) {
			out = append(out, d)
		}
	}
	return out
}

// SetEnabled flips a provider's enabled flag. Returns ErrNotFound for an
// unknown identity.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.providers[name]
	if !ok {
		return ErrNotFound
	}
	d.Enabled = enabled
	return nil
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HealthCheckAll runs each provider's health check and returns a map of
// identity to status. Providers without a HealthChecker report healthy.
// Unhealthy providers stay registered so they can self-heal when their
// configuration changes.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]Status {
	r.mu.RLock()
	descriptors := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.providers[name])
	}
	r.mu.RUnlock()

	// Checks run outside the lock: a slow probe must not block lookups.
	statuses := make(map[string]Status, len(descriptors))
	for _, d := range descriptors {
		if hc, ok := d.Provider.(HealthChecker); ok {
			statuses[d.Name()] = hc.HealthCheck(ctx)
			continue
		}
		statuses[d.Name()] = Status{Healthy: true}
	}
	return statuses
}

func hasCapability(d *Descriptor, cap Capability) bool {
	switch cap {
	case CapabilitySearch:
		_, ok := d.Provider.(Searcher)
		return ok
	case CapabilityGenerate:
		_, ok := d.Provider.(Generator)
		return ok
	case CapabilityStore:
		_, ok := d.Provider.(Storer)
		return ok
	}
	return false
}
