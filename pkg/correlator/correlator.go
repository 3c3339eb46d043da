package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/metrics"
	"github.com/constellation-io/constellation/pkg/types"
)

// Sender pushes a frame onto a worker's transport channel
type Sender interface {
	Send(f *frame.Frame) error
}

type inflight struct {
	slot     chan *frame.Frame
	deadline time.Time
}

type retained struct {
	response  *frame.Frame
	expiresAt time.Time
}

// Correlator pairs response frames with the dispatch calls that are
// waiting on them, matching only by correlation id. Responses that arrive
// after their waiter gave up are retained until their expiration so they
// do not accumulate.
type Correlator struct {
	mu        sync.Mutex
	inflight  map[uuid.UUID]*inflight
	retained  map[uuid.UUID]*retained
	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New creates a correlator retaining late responses for the given duration
func New(retention time.Duration) *Correlator {
	return &Correlator{
		inflight:  make(map[uuid.UUID]*inflight),
		retained:  make(map[uuid.UUID]*retained),
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background sweep that evicts expired retained responses
func (c *Correlator) Start() {
	go c.sweepLoop()
}

// Stop terminates the sweep loop
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Dispatch forwards a request frame on the worker's channel and suspends
// until the matching response frame arrives, the timeout fires, or ctx is
// cancelled. The request's GUID is the correlation id.
func (c *Correlator) Dispatch(ctx context.Context, sender Sender, req *frame.Frame, timeout time.Duration) (*frame.Frame, error) {
	id, err := req.CorrelationID()
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	record := &inflight{
		slot:     make(chan *frame.Frame, 1),
		deadline: time.Now().Add(timeout),
	}

	c.mu.Lock()
	c.inflight[id] = record
	c.mu.Unlock()

	started := time.Now()
	if err := sender.Send(req); err != nil {
		c.remove(id)
		return nil, fmt.Errorf("%w: %v", types.ErrProxyFailed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-record.slot:
		metrics.DispatchDuration.Observe(time.Since(started).Seconds())
		return resp, nil
	case <-timer.C:
		c.remove(id)
		return nil, fmt.Errorf("%w after %s", types.ErrTimeout, timeout)
	case <-ctx.Done():
		c.remove(id)
		return nil, ctx.Err()
	}
}

// Deliver hands a response frame from any worker to its waiter. Responses
// with no waiter are retained until expiration; frames without a parseable
// correlation id are logged and dropped.
func (c *Correlator) Deliver(resp *frame.Frame) {
	id, err := resp.CorrelationID()
	if err != nil {
		dropLogger := log.WithComponent("correlator")
		dropLogger.Warn().
			Str("guid", resp.GUID).
			Msg("dropping response with invalid correlation id")
		return
	}

	c.mu.Lock()
	record, waiting := c.inflight[id]
	if waiting {
		delete(c.inflight, id)
		c.mu.Unlock()
		record.slot <- resp
		return
	}

	expiresAt := time.Now().Add(c.retention)
	if resp.ExpirationUTC != nil {
		expiresAt = *resp.ExpirationUTC
	}
	c.retained[id] = &retained{response: resp, expiresAt: expiresAt}
	c.mu.Unlock()

	retainLogger := log.WithComponent("correlator")
	retainLogger.Debug().
		Str("correlation_id", id.String()).
		Msg("retained response with no waiter")
}

// Retained returns a retained late response, if one is still held
func (c *Correlator) Retained(id uuid.UUID) (*frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.retained[id]
	if !ok {
		return nil, false
	}
	return entry.response, true
}

// Pending returns the number of in-flight requests
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Correlator) remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *Correlator) sweepLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

func (c *Correlator) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.retained {
		if now.After(entry.expiresAt) {
			delete(c.retained, id)
		}
	}
}
