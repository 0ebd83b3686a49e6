// Package jeweler holds the live deployment adapters the process has
// connected to, keyed by the same DeploymentID the vault's DeploymentPouch
// persists metadata for (spec §4.5: the adapter registry is process-memory
// only — at startup cmd/flecsd registers one Docker adapter for its
// configured socket; the persisted Deployment records are not read).
package jeweler

import (
	"fmt"
	"sync"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment"
)

// Registry maps a DeploymentID to its live Adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[core.DeploymentID]deployment.Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[core.DeploymentID]deployment.Adapter)}
}

// Register adds or replaces the live adapter for a deployment.
func (r *Registry) Register(a deployment.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Unregister drops a deployment's adapter, if present.
func (r *Registry) Unregister(id core.DeploymentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}

// Get returns the live adapter for id.
func (r *Registry) Get(id core.DeploymentID) (deployment.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("jeweler: no live adapter registered for deployment %q", id)
	}
	return a, nil
}

// List returns every currently registered adapter.
func (r *Registry) List() []deployment.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]deployment.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
