package registry

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"tribeone/core/types"
)

var (
	errEmptyKey     = errors.New("registry: tribe key must not be empty")
	errDuplicateKey = errors.New("registry: tribe key already registered")
	// ErrUnknownTribe is returned for lookups against unregistered keys.
	ErrUnknownTribe = errors.New("registry: unknown tribe")
)

// Tribe is the synthetic-asset token contract surface consumed by the
// engines. Implementations must be safe for concurrent use.
type Tribe interface {
	Key() string
	Issue(account types.Address, amount *big.Int) error
	Burn(account types.Address, amount *big.Int) error
	BalanceOf(account types.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
}

// Registry maps globally-unique currency keys to tribe token contracts.
type Registry struct {
	mu     sync.RWMutex
	tribes map[string]Tribe
	order  []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tribes: make(map[string]Tribe)}
}

// Add registers a tribe. Keys must be unique.
func (r *Registry) Add(tribe Tribe) error {
	if tribe == nil {
		return ErrUnknownTribe
	}
	key := strings.TrimSpace(tribe.Key())
	if key == "" {
		return errEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tribes[key]; exists {
		return errDuplicateKey
	}
	r.tribes[key] = tribe
	r.order = append(r.order, key)
	return nil
}

// Remove unregisters a tribe key. Callers enforce the removal preconditions
// (valid rate, zero supply or vault deprecation) before calling.
func (r *Registry) Remove(key string) error {
	key = strings.TrimSpace(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tribes[key]; !exists {
		return ErrUnknownTribe
	}
	delete(r.tribes, key)
	for i, existing := range r.order {
		if existing == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get resolves a tribe by key.
func (r *Registry) Get(key string) (Tribe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tribe, ok := r.tribes[strings.TrimSpace(key)]
	return tribe, ok
}

// Keys returns the registered keys in insertion order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SupplyOf reports the total supply for a registered tribe.
func (r *Registry) SupplyOf(key string) (*big.Int, error) {
	tribe, ok := r.Get(key)
	if !ok {
		return nil, ErrUnknownTribe
	}
	return tribe.TotalSupply()
}
