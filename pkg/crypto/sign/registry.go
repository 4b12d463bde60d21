// Copyright 2025 Certen Protocol
//
// Registry of pluggable signing Strategy implementations, indexed by
// Scheme. Mirrors the registration/lookup shape used elsewhere in this
// codebase for other pluggable concerns (epoch oracle backends).

package sign

import (
	"fmt"
	"sync"
)

// Registry manages registered signing strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Scheme]Strategy
}

// NewRegistry creates an empty signing strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[Scheme]Strategy)}
}

// Register adds a strategy for its own scheme.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("sign: strategy cannot be nil")
	}
	scheme := s.Scheme()
	if !scheme.IsValid() {
		return fmt.Errorf("sign: invalid scheme: %s", scheme)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[scheme]; exists {
		return fmt.Errorf("sign: strategy already registered for scheme: %s", scheme)
	}
	r.strategies[scheme] = s
	return nil
}

// Get retrieves the strategy registered for scheme.
func (r *Registry) Get(scheme Scheme) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[scheme]
	if !exists {
		return nil, fmt.Errorf("sign: no strategy registered for scheme: %s", scheme)
	}
	return s, nil
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// GetGlobalRegistry returns the process-wide signing strategy registry.
func GetGlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// SetGlobalRegistry replaces the global registry (for testing).
func SetGlobalRegistry(r *Registry) {
	globalRegistry = r
}
