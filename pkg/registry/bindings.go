package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-io/constellation/pkg/events"
	"github.com/constellation-io/constellation/pkg/metrics"
)

type binding struct {
	owner   uuid.UUID
	boundAt time.Time
}

// Bindings maps resource keys to the worker that owns them. Its mutex is
// acquired after the registry mutex whenever both are held.
type Bindings struct {
	mu     sync.Mutex
	owners map[string]binding
	broker *events.Broker
}

// NewBindings creates an empty binding table
func NewBindings(broker *events.Broker) *Bindings {
	return &Bindings{
		owners: make(map[string]binding),
		broker: broker,
	}
}

// Bind records key ownership. Re-binding the same pair is a no-op
// observable only through the refreshed timestamp.
func (b *Bindings) Bind(key string, id uuid.UUID) {
	b.mu.Lock()
	existing, present := b.owners[key]
	b.owners[key] = binding{owner: id, boundAt: time.Now().UTC()}
	metrics.BindingsTotal.Set(float64(len(b.owners)))
	b.mu.Unlock()

	if !present || existing.owner != id {
		b.publish(&events.Event{Type: events.EventBindingCreated, WorkerID: id.String(), Resource: key})
	}
}

// Owner returns the identifier currently bound to the key
func (b *Bindings) Owner(key string) (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.owners[key]
	return entry.owner, ok
}

// BoundAt returns when the key was last bound
func (b *Bindings) BoundAt(key string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.owners[key]
	return entry.boundAt, ok
}

// EvictWorker removes every binding owned by the identifier and returns
// the keys it held
func (b *Bindings) EvictWorker(id uuid.UUID) []string {
	b.mu.Lock()
	var keys []string
	for key, entry := range b.owners {
		if entry.owner == id {
			keys = append(keys, key)
			delete(b.owners, key)
		}
	}
	metrics.BindingsTotal.Set(float64(len(b.owners)))
	b.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// EvictKey removes a single binding
func (b *Bindings) EvictKey(key string) {
	b.mu.Lock()
	entry, present := b.owners[key]
	delete(b.owners, key)
	metrics.BindingsTotal.Set(float64(len(b.owners)))
	b.mu.Unlock()

	if present {
		b.publish(&events.Event{Type: events.EventBindingEvicted, WorkerID: entry.owner.String(), Resource: key})
	}
}

// Snapshot groups bound keys by owning worker, keys sorted for stable
// admin output
func (b *Bindings) Snapshot() map[string][]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string][]string)
	for key, entry := range b.owners {
		id := entry.owner.String()
		snapshot[id] = append(snapshot[id], key)
	}
	for _, keys := range snapshot {
		sort.Strings(keys)
	}
	return snapshot
}

// Len returns the number of bound keys
func (b *Bindings) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.owners)
}

func (b *Bindings) publish(event *events.Event) {
	if b.broker != nil {
		b.broker.Publish(event)
	}
}
