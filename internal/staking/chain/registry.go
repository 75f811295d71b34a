package chain

import (
	"sync"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
)

// Registry maps chain kinds to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[staking.ChainKind]Adapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[staking.ChainKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its chain
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Chain()] = a
}

// Get returns the adapter for chain
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func (r *Registry) Get(chain staking.ChainKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[chain]
	if !ok {
		return nil, errors.Errorf("no adapter registered for chain %q", chain)
	}
	return a, nil
}

// Chains returns the registered chain kinds
func (r *Registry) Chains() []staking.ChainKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]staking.ChainKind, 0, len(r.adapters))
	for _, c := range staking.AllChains {
		if _, ok := r.adapters[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
