package provider

import (
	"fmt"
	"sync"
)

// Factory creates and caches Provider instances by name using a
// double-checked-locking shape. It has no built-in constructors: every
// provider, "anthropic" included, is added by the caller through Register.
type Factory struct {
	mu        sync.RWMutex
	providers map[string]Provider
	ctors     map[string]func() (Provider, error)
}

// NewFactory creates an empty factory. Add constructors with Register
// before calling GetProvider.
func NewFactory() *Factory {
	return &Factory{
		providers: make(map[string]Provider),
		ctors:     make(map[string]func() (Provider, error)),
	}
}

// Register associates a provider name with its constructor. Call once per
// provider during wiring, before any GetProvider call.
func (f *Factory) Register(name string, ctor func() (Provider, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[name] = ctor
}

// GetProvider returns a provider by name, constructing and caching it on
// first use.
func (f *Factory) GetProvider(name string) (Provider, error) {
	f.mu.RLock()
	if p, ok := f.providers[name]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[name]; ok {
		return p, nil
	}

	ctor, ok := f.ctors[name]
	if !ok {
		return nil, fmt.Errorf("provider/factory: unknown provider: %s", name)
	}

	p, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("provider/factory: create provider %s: %w", name, err)
	}

	f.providers[name] = p
	return p, nil
}

// GetAllUsage returns token usage for every provider constructed so far.
func (f *Factory) GetAllUsage() map[string]TokenUsage {
	f.mu.RLock()
	defer f.mu.RUnlock()

	usage := make(map[string]TokenUsage, len(f.providers))
	for name, p := range f.providers {
		usage[name] = p.GetUsage()
	}
	return usage
}

// ResetAllUsage clears usage statistics for every provider constructed so
// far.
func (f *Factory) ResetAllUsage() {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, p := range f.providers {
		p.ResetUsage()
	}
}
