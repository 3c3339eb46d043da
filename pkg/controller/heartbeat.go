package controller

import (
	"context"
	"time"

	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/metrics"
	"github.com/constellation-io/constellation/pkg/registry"
)

// heartbeatLoop probes one worker's channel until the worker's failure
// budget is exhausted or the loop is cancelled. The first probe goes out
// immediately; later probes wait the configured interval.
//
// The counter tolerates MaxFailures consecutive send failures; the next
// failure flips the worker unhealthy and evicts it, which cascades into
// the binding table. A successful send resets the counter.
func (c *Controller) heartbeatLoop(ctx context.Context, w *registry.Worker) {
	interval := time.Duration(c.settings.Heartbeat.IntervalMs) * time.Millisecond
	maxFailures := c.settings.Heartbeat.MaxFailures
	logger := log.WithWorkerID(w.ID.String())

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.Sender.Send(frame.NewHeartbeat(w.ID)); err != nil {
			failures++
			metrics.HeartbeatFailures.WithLabelValues(w.ID.String()).Inc()
			logger.Warn().
				Err(err).
				Int("failures", failures).
				Int("max_failures", maxFailures).
				Msg("heartbeat send failed")

			if failures > maxFailures {
				c.registry.SetHealthy(w.ID, false)
				c.registry.Remove(w.ID)
				logger.Info().Msg("worker evicted after exhausting heartbeat budget")
				return
			}
		} else {
			failures = 0
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}
