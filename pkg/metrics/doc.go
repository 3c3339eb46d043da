// Package metrics registers the Prometheus collectors for the fleet,
// the proxy path, and the heartbeat loops, and exposes their handler.
package metrics
