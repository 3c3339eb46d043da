package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/types"
)

// fakeSender records sent frames and can be told to fail
type fakeSender struct {
	mu     sync.Mutex
	sent   []*frame.Frame
	fail   bool
	closed bool
}

func (s *fakeSender) Send(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("send refused")
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) RemoteAddr() string { return "127.0.0.1:0" }

func newTestRegistry() (*Registry, *Bindings) {
	bindings := NewBindings(nil)
	return NewRegistry(bindings, nil), bindings
}

func addWorker(t *testing.T, r *Registry) *Worker {
	t.Helper()
	w := &Worker{ID: uuid.New(), Address: "127.0.0.1:0", Sender: &fakeSender{}}
	require.NoError(t, r.Add(w))
	return w
}

func TestAddAndLookup(t *testing.T) {
	r, _ := newTestRegistry()
	w := addWorker(t, r)

	found, ok := r.Lookup(w.ID)
	require.True(t, ok)
	assert.Equal(t, w.ID, found.ID)
	assert.True(t, found.Healthy, "workers enter the registry healthy")
	assert.False(t, found.ConnectedAt.IsZero())
	assert.False(t, found.LastActivity.IsZero())
}

func TestAddRejectsDuplicateID(t *testing.T) {
	r, _ := newTestRegistry()
	w := addWorker(t, r)

	err := r.Add(&Worker{ID: w.ID, Sender: &fakeSender{}})
	assert.ErrorIs(t, err, types.ErrWorkerExists)
	assert.Equal(t, 1, r.Len())
}

func TestRemove(t *testing.T) {
	r, _ := newTestRegistry()
	w := addWorker(t, r)
	sender := w.Sender.(*fakeSender)

	assert.True(t, r.Remove(w.ID))
	assert.Equal(t, 0, r.Len())
	assert.True(t, sender.closed, "removal closes the transport handle")

	_, ok := r.Lookup(w.ID)
	assert.False(t, ok)

	assert.False(t, r.Remove(w.ID), "second removal reports absence")
}

// TestRemoveCascadesBindings pins invariant I3: immediately after Remove
// returns, no binding maps to the removed worker
func TestRemoveCascadesBindings(t *testing.T) {
	r, bindings := newTestRegistry()
	w1 := addWorker(t, r)
	w2 := addWorker(t, r)

	bindings.Bind("/api/users", w1.ID)
	bindings.Bind("/api/orders", w1.ID)
	bindings.Bind("/api/products", w2.ID)

	r.Remove(w1.ID)

	_, ok := bindings.Owner("/api/users")
	assert.False(t, ok)
	_, ok = bindings.Owner("/api/orders")
	assert.False(t, ok)

	owner, ok := bindings.Owner("/api/products")
	require.True(t, ok)
	assert.Equal(t, w2.ID, owner, "other workers' bindings survive")
}

func TestSnapshotIsACopy(t *testing.T) {
	r, _ := newTestRegistry()
	addWorker(t, r)
	addWorker(t, r)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)

	r.Remove(snapshot[0].ID)
	assert.Len(t, snapshot, 2, "snapshot unaffected by later mutation")
	assert.Equal(t, 1, r.Len())
}

func TestSetHealthy(t *testing.T) {
	r, _ := newTestRegistry()
	w := addWorker(t, r)

	assert.True(t, r.SetHealthy(w.ID, false))
	_, healthy := r.LookupHealthy(w.ID)
	assert.False(t, healthy)

	assert.True(t, r.SetHealthy(w.ID, true))
	_, healthy = r.LookupHealthy(w.ID)
	assert.True(t, healthy)

	assert.False(t, r.SetHealthy(uuid.New(), false), "unknown id reports absence")
}

func TestSelectRoundRobinCyclesThroughWorkers(t *testing.T) {
	r, _ := newTestRegistry()
	w1 := addWorker(t, r)
	w2 := addWorker(t, r)
	w3 := addWorker(t, r)

	var order []uuid.UUID
	for i := 0; i < 3; i++ {
		w, err := r.SelectRoundRobin()
		require.NoError(t, err)
		order = append(order, w.ID)
	}

	assert.ElementsMatch(t, []uuid.UUID{w1.ID, w2.ID, w3.ID}, order,
		"three selections over three workers cover all of them")

	again, err := r.SelectRoundRobin()
	require.NoError(t, err)
	assert.Equal(t, order[0], again.ID, "cursor wraps")
}

func TestSelectRoundRobinSkipsUnhealthy(t *testing.T) {
	r, _ := newTestRegistry()
	w1 := addWorker(t, r)
	w2 := addWorker(t, r)
	w3 := addWorker(t, r)

	r.SetHealthy(w2.ID, false)

	seen := make(map[uuid.UUID]int)
	for i := 0; i < 4; i++ {
		w, err := r.SelectRoundRobin()
		require.NoError(t, err)
		seen[w.ID]++
	}

	assert.Zero(t, seen[w2.ID], "unhealthy workers are never chosen")
	assert.Positive(t, seen[w1.ID])
	assert.Positive(t, seen[w3.ID])
}

func TestSelectRoundRobinFailsWhenAllUnhealthy(t *testing.T) {
	r, _ := newTestRegistry()
	w1 := addWorker(t, r)
	w2 := addWorker(t, r)

	r.SetHealthy(w1.ID, false)
	r.SetHealthy(w2.ID, false)

	_, err := r.SelectRoundRobin()
	assert.ErrorIs(t, err, types.ErrNoWorkers)
}

func TestSelectRoundRobinEmptyRegistry(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.SelectRoundRobin()
	assert.ErrorIs(t, err, types.ErrNoWorkers)
}

// TestCursorSurvivesRemovals exercises the cursor clamp: selections after
// arbitrary removals must neither panic nor starve the remaining workers
func TestCursorSurvivesRemovals(t *testing.T) {
	r, _ := newTestRegistry()
	workers := make([]*Worker, 5)
	for i := range workers {
		workers[i] = addWorker(t, r)
	}

	for i := 0; i < 4; i++ {
		_, err := r.SelectRoundRobin()
		require.NoError(t, err)
	}

	r.Remove(workers[4].ID)
	r.Remove(workers[3].ID)
	r.Remove(workers[2].ID)

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 4; i++ {
		w, err := r.SelectRoundRobin()
		require.NoError(t, err)
		seen[w.ID] = true
	}
	assert.True(t, seen[workers[0].ID])
	assert.True(t, seen[workers[1].ID])
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	r, _ := newTestRegistry()
	w := addWorker(t, r)

	before := w.LastActivity
	r.Touch(w.ID)
	found, _ := r.Lookup(w.ID)
	assert.False(t, found.LastActivity.Before(before))
}
