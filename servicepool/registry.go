package servicepool

import (
	"sort"
	"sync"
)

// Registry holds one Pool per logical service name.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	opts  []Option
}

// NewRegistry creates a registry whose pools are built with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{pools: map[string]*Pool{}, opts: opts}
}

// Pool returns the pool for serviceName, creating it on first use.
func (r *Registry) Pool(serviceName string) *Pool {
	r.mu.RLock()
	p, ok := r.pools[serviceName]
	r.mu.RUnlock()

	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[serviceName]; ok {
		return p
	}

	p = New(serviceName, r.opts...)
	r.pools[serviceName] = p

	return p
}

// Lookup returns the pool for serviceName without creating it.
func (r *Registry) Lookup(serviceName string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[serviceName]

	return p, ok
}

// Names lists known service names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.pools))
	for n := range r.pools {
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

// Sync applies a full discovery result: every service in healthy gets its set, and every known
// service missing from it is emptied. It returns the names of pools that changed.
func (r *Registry) Sync(healthy map[string][]Definition) []string {
	var changed []string

	for _, name := range r.Names() {
		if _, ok := healthy[name]; !ok && r.Pool(name).SetHealthyNodes(nil) {
			changed = append(changed, name)
		}
	}

	names := make([]string, 0, len(healthy))
	for n := range healthy {
		names = append(names, n)
	}

	sort.Strings(names)

	for _, name := range names {
		if r.Pool(name).SetHealthyNodes(healthy[name]) {
			changed = append(changed, name)
		}
	}

	sort.Strings(changed)

	return changed
}
