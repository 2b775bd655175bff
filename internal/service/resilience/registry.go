package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry owns one CircuitBreaker per external dependency name. The
// aggregator and the health monitor share breakers through it.
type Registry struct {
	cfg       BreakerConfig
	now       func() time.Time
	listeners []StateChangeFunc

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock sets the clock handed to every breaker.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithStateChangeListener subscribes to transitions of all breakers.
func WithStateChangeListener(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.listeners = append(r.listeners, fn)
		}
	}
}

// NewRegistry creates an empty registry; breakers are created on first use.
func NewRegistry(cfg BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, r.cfg, WithClock(r.now), WithStateChange(r.fanOut))
	r.breakers[name] = cb
	return cb
}

// Lookup returns the breaker for name without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Stats returns stats for every breaker, sorted by name.
func (r *Registry) Stats() []BreakerStats {
	r.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.RUnlock()

	out := make([]BreakerStats, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset forces the named breaker closed. It reports false for unknown names.
func (r *Registry) Reset(name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

func (r *Registry) fanOut(name string, from, to State) {
	for _, l := range r.listeners {
		l(name, from, to)
	}
}
