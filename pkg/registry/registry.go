package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-io/constellation/pkg/events"
	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/metrics"
	"github.com/constellation-io/constellation/pkg/types"
)

// Sender pushes frames onto a worker's transport channel. Implementations
// must be safe for concurrent use; Send returns an error when the channel
// is closed or its outbound queue refuses the frame.
type Sender interface {
	Send(f *frame.Frame) error
	Close() error
	RemoteAddr() string
}

// Worker is the registry record for one connected worker. Mutable fields
// (Healthy, LastActivity) are read and written only under the registry
// mutex; everything else is fixed at admission.
type Worker struct {
	ID           uuid.UUID
	Address      string
	ConnectedAt  time.Time
	LastActivity time.Time
	Healthy      bool
	Sender       Sender
	Cancel       context.CancelFunc
}

// Info returns the admin-facing view of the worker
func (w *Worker) Info() types.WorkerInfo {
	return types.WorkerInfo{
		ID:           w.ID.String(),
		Address:      w.Address,
		Healthy:      w.Healthy,
		ConnectedAt:  w.ConnectedAt,
		LastActivity: w.LastActivity,
	}
}

// Registry holds the set of connected workers and the round-robin cursor.
// The registry mutex is always acquired before the binding mutex when both
// are needed.
type Registry struct {
	mu       sync.Mutex
	workers  []*Worker
	cursor   int
	bindings *Bindings
	broker   *events.Broker
}

// NewRegistry creates a registry that cascades evictions into bindings
func NewRegistry(bindings *Bindings, broker *events.Broker) *Registry {
	return &Registry{
		bindings: bindings,
		broker:   broker,
	}
}

// Add admits a worker. A worker enters healthy; re-admitting an identifier
// still present is rejected.
func (r *Registry) Add(w *Worker) error {
	r.mu.Lock()
	for _, existing := range r.workers {
		if existing.ID == w.ID {
			r.mu.Unlock()
			return types.ErrWorkerExists
		}
	}

	now := time.Now().UTC()
	if w.ConnectedAt.IsZero() {
		w.ConnectedAt = now
	}
	w.LastActivity = now
	w.Healthy = true
	r.workers = append(r.workers, w)
	r.updateGauges()
	r.mu.Unlock()

	r.publish(&events.Event{Type: events.EventWorkerJoined, WorkerID: w.ID.String()})
	return nil
}

// Remove evicts a worker, cancels its loops, and drops every binding it
// owned. Returns false when the identifier is not present.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	index := -1
	var w *Worker
	for i, existing := range r.workers {
		if existing.ID == id {
			index = i
			w = existing
			break
		}
	}
	if index < 0 {
		r.mu.Unlock()
		return false
	}

	r.workers = append(r.workers[:index], r.workers[index+1:]...)
	if n := len(r.workers); n > 0 {
		r.cursor = r.cursor % n
	} else {
		r.cursor = 0
	}

	// Binding eviction happens before the registry lock is released so no
	// route call can observe the worker gone but its bindings live.
	evicted := r.bindings.EvictWorker(id)
	r.updateGauges()
	r.mu.Unlock()

	if w.Cancel != nil {
		w.Cancel()
	}
	if w.Sender != nil {
		_ = w.Sender.Close()
	}

	r.publish(&events.Event{Type: events.EventWorkerEvicted, WorkerID: id.String()})
	for _, key := range evicted {
		r.publish(&events.Event{Type: events.EventBindingEvicted, WorkerID: id.String(), Resource: key})
	}
	return true
}

// Lookup returns the worker with the given identifier
func (r *Registry) Lookup(id uuid.UUID) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.ID == id {
			return w, true
		}
	}
	return nil, false
}

// LookupHealthy returns the worker only if it is present and healthy
func (r *Registry) LookupHealthy(id uuid.UUID) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.ID == id {
			return w, w.Healthy
		}
	}
	return nil, false
}

// Snapshot copies the worker list so callers iterate without the lock
func (r *Registry) Snapshot() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Worker, len(r.workers))
	copy(snapshot, r.workers)
	return snapshot
}

// Infos returns admin-facing worker views, consistent under one lock hold
func (r *Registry) Infos() []types.WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]types.WorkerInfo, len(r.workers))
	for i, w := range r.workers {
		infos[i] = w.Info()
	}
	return infos
}

// Len returns the number of admitted workers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// SetHealthy flips a worker's health flag. Only the worker's heartbeat
// loop calls this.
func (r *Registry) SetHealthy(id uuid.UUID, healthy bool) bool {
	r.mu.Lock()
	var w *Worker
	for _, existing := range r.workers {
		if existing.ID == id {
			w = existing
			break
		}
	}
	if w == nil {
		r.mu.Unlock()
		return false
	}
	changed := w.Healthy != healthy
	w.Healthy = healthy
	r.updateGauges()
	r.mu.Unlock()

	if changed && !healthy {
		r.publish(&events.Event{Type: events.EventWorkerDegraded, WorkerID: id.String()})
	}
	return true
}

// Touch records activity on the worker's channel
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.ID == id {
			w.LastActivity = time.Now().UTC()
			return
		}
	}
}

// SelectRoundRobin scans for the next healthy worker starting one past the
// cursor and advances the cursor to the chosen index. Unhealthy candidates
// are skipped without moving the cursor past healthy ones; when every
// worker is unhealthy the call fails.
func (r *Registry) SelectRoundRobin() (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.workers)
	if n == 0 {
		return nil, types.ErrNoWorkers
	}

	for i := 1; i <= n; i++ {
		index := (r.cursor + i) % n
		if r.workers[index].Healthy {
			r.cursor = index
			return r.workers[index], nil
		}
	}
	return nil, types.ErrNoWorkers
}

func (r *Registry) updateGauges() {
	healthy := 0
	for _, w := range r.workers {
		if w.Healthy {
			healthy++
		}
	}
	metrics.WorkersConnected.Set(float64(len(r.workers)))
	metrics.WorkersHealthy.Set(float64(healthy))
}

func (r *Registry) publish(event *events.Event) {
	if r.broker != nil {
		r.broker.Publish(event)
	}
}
