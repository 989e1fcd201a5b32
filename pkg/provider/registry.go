package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/storage"
	"github.com/pkg/errors"
)

// Registry owns the provider list for the lifetime of the process. The panel
// fills the in-memory cache from host pushes; readers fall back to the list the
// host mirrored into storage when the cache has nothing to offer.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	store     storage.Store
}

// NewRegistry returns an empty registry reading its fallback list from store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// SetCache replaces the in-memory provider list.
func (r *Registry) SetCache(providers []Provider) {
	snapshot := make([]Provider, len(providers))
	copy(snapshot, providers)

	r.mu.Lock()
	r.providers = snapshot
	r.mu.Unlock()
}

// Cached returns a copy of the in-memory list.
func (r *Registry) Cached() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Persisted reads the host-mirrored list. Missing or unreadable data yields an
// empty list and invalid entries are skipped; the reason is logged.
func (r *Registry) Persisted(ctx context.Context) []Provider {
	raw, ok, err := r.store.GetItem(ctx, storage.ProvidersKey)
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to read persisted providers")
		return []Provider{}
	}
	if !ok || raw == "" {
		return []Provider{}
	}

	providers, err := ParseLenient(ctx, []byte(raw))
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to parse persisted providers")
		return []Provider{}
	}
	return providers
}

// List returns the cached list, or the persisted one when the cache is empty.
func (r *Registry) List(ctx context.Context) []Provider {
	if cached := r.Cached(); len(cached) > 0 {
		return cached
	}
	return r.Persisted(ctx)
}

// Find looks a provider up by id in List.
func (r *Registry) Find(ctx context.Context, id string) (Provider, bool) {
	return FindByID(r.List(ctx), id)
}

// Active returns the active provider from the cache, falling back to the
// persisted list when the cache has no active entry.
func (r *Registry) Active(ctx context.Context) (Provider, bool) {
	if p, ok := FindActive(r.Cached()); ok {
		return p, true
	}
	return FindActive(r.Persisted(ctx))
}

// Mirror writes providers to storage the way the host does, so later runs can
// fall back to them.
func (r *Registry) Mirror(ctx context.Context, providers []Provider) error {
	if err := Validate(providers); err != nil {
		return err
	}
	data, err := json.Marshal(providers)
	if err != nil {
		return errors.Wrap(err, "failed to marshal providers")
	}
	return r.store.SetItem(ctx, storage.ProvidersKey, string(data))
}
