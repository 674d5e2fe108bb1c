package breaker

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry lazily creates one breaker per named dependency. Breakers
// live until explicit administrative removal. The registry is
// constructor-injected so test suites can run isolated instances.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Settings
	onChange StateChangeFunc
	onReject RejectFunc
	logger   zerolog.Logger
}

func NewRegistry(defaults Settings, onChange StateChangeFunc, onReject RejectFunc, logger zerolog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		onChange: onChange,
		onReject: onReject,
		logger:   logger.With().Str("component", "breaker_registry").Logger(),
	}
}

// Get returns the breaker for name, creating it with the registry
// defaults on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.defaults, r.onChange, r.onReject)
	r.breakers[name] = b
	r.logger.Debug().Str("breaker", name).Msg("Circuit breaker created")
	return b
}

// Configure installs a breaker with explicit settings, replacing any
// existing breaker of the same name.
func (r *Registry) Configure(name string, settings Settings) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := New(name, settings, r.onChange, r.onReject)
	r.breakers[name] = b
	return b
}

// Remove deletes a breaker. Administrative action only.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Status returns the status of one breaker, or false if it does not exist
func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	if !ok {
		return Status{}, false
	}
	return b.Status(), true
}

// AllStatus exports every breaker's state and metrics, keyed by name
func (r *Registry) AllStatus() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Status()
	}
	return out
}
