package scraper

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps source names to fetcher factories. It is populated at
// process initialization and read-only afterwards; reads are safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	meta    Metadata
	factory Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a source. Registering the same name twice is a
// configuration error and fails immediately rather than at run time.
func (r *Registry) Register(meta Metadata, factory Factory) error {
	if meta.Name == "" {
		return fmt.Errorf("scraper: register: empty source name")
	}
	if factory == nil {
		return fmt.Errorf("scraper: register %q: nil factory", meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[meta.Name]; ok {
		return fmt.Errorf("scraper: source %q already registered", meta.Name)
	}
	r.entries[meta.Name] = registryEntry{meta: meta, factory: factory}
	return nil
}

// Resolve returns the factory registered for name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return entry.factory, nil
}

// Metadata returns the metadata registered for name.
func (r *Registry) Metadata(name string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return entry.meta, nil
}

// Names returns all registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registered reports whether name has a registered fetcher.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}
