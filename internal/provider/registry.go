package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Factory builds an adapter from a spec.
type Factory func(spec ModelSpec, timeout time.Duration) (Provider, error)

// Registry resolves model IDs to adapters. Each adapter is built at most
// once, on first use, and cached for the registry's lifetime. Registries are
// passed explicitly; there is no package-level instance.
type Registry struct {
	mu      sync.Mutex
	specs   map[string]ModelSpec
	order   []string
	cache   map[string]Provider
	factory Factory
	timeout time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory replaces the adapter constructor.
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithTimeout sets the per-call timeout handed to every adapter.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates a registry over specs. Order of specs is kept for
// Available and FanOut.
func NewRegistry(specs []ModelSpec, opts ...RegistryOption) *Registry {
	r := &Registry{
		specs:   make(map[string]ModelSpec, len(specs)),
		cache:   make(map[string]Provider),
		factory: New,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range specs {
		if _, dup := r.specs[s.ID]; !dup {
			r.order = append(r.order, s.ID)
		}
		r.specs[s.ID] = s
	}
	return r
}

// Register installs a ready-made adapter under its ID, replacing any cached
// instance. Used to inject fakes.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, known := r.specs[id]; !known {
		r.specs[id] = ModelSpec{ID: id}
		r.order = append(r.order, id)
	}
	r.cache[id] = p
}

// IDs returns every known model ID in registration order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Spec returns the catalog entry for id.
func (r *Registry) Spec(id string) (ModelSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.specs[id]
	return s, ok
}

// Get returns the adapter for id, building it on first use.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *Registry) getLocked(id string) (Provider, error) {
	if p, ok := r.cache[id]; ok {
		return p, nil
	}
	spec, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	p, err := r.factory(spec, r.timeout)
	if err != nil {
		return nil, err
	}
	r.cache[id] = p
	return p, nil
}

// Available returns every adapter whose credentials are present, in
// registration order. Specs that fail to build are skipped.
func (r *Registry) Available() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Provider
	for _, id := range r.order {
		p, err := r.getLocked(id)
		if err != nil || !p.Available() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Result pairs a model ID with its response.
type Result struct {
	ModelID  string   `json:"model_id"`
	Response Response `json:"response"`
}

// FanOut sends the same prompts to every available adapter concurrently and
// waits for all of them. One adapter's failure never cancels the others;
// results come back in registration order.
func (r *Registry) FanOut(ctx context.Context, system, user string) []Result {
	providers := r.Available()
	results := make([]Result, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			results[i] = Result{ModelID: p.ID(), Response: p.Chat(ctx, system, user)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
