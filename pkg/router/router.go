package router

import (
	"fmt"
	"sync"

	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/registry"
	"github.com/constellation-io/constellation/pkg/types"
)

// Router resolves a resource key to its owning worker, pinning new keys
// to workers chosen round-robin over the healthy members of the registry.
type Router struct {
	registry *registry.Registry
	bindings *registry.Bindings

	// mu serializes route decisions so a stale-binding drop and the
	// re-bind that replaces it are observed as one step.
	mu sync.Mutex
}

// NewRouter creates a router over the given registry and binding table
func NewRouter(reg *registry.Registry, bindings *registry.Bindings) *Router {
	return &Router{
		registry: reg,
		bindings: bindings,
	}
}

// Route returns the worker that owns the resource key, choosing and
// recording a new owner when the key is unbound or its binding is stale.
// The key is the request path with the query string excluded.
//
// The round-robin cursor advances only when a new binding is recorded;
// reusing an existing binding leaves it untouched, so already-pinned
// resources never skew the spread of newly seen ones.
func (r *Router) Route(resource string) (*registry.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bindings.Owner(resource); ok {
		if w, healthy := r.registry.LookupHealthy(id); healthy {
			return w, nil
		}
		// The owner left the registry or went unhealthy between eviction
		// cascades; drop the stale entry and fall through to selection.
		r.bindings.EvictKey(resource)
		staleLogger := log.WithComponent("router")
		staleLogger.Debug().
			Str("resource", resource).
			Str("stale_owner", id.String()).
			Msg("dropped stale binding")
	}

	w, err := r.registry.SelectRoundRobin()
	if err != nil {
		return nil, fmt.Errorf("routing %s: %w", resource, types.ErrNoWorkers)
	}

	r.bindings.Bind(resource, w.ID)
	pinLogger := log.WithComponent("router")
	pinLogger.Debug().
		Str("resource", resource).
		Str("worker_id", w.ID.String()).
		Msg("pinned resource")
	return w, nil
}
