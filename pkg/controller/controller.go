package controller

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-io/constellation/pkg/config"
	"github.com/constellation-io/constellation/pkg/correlator"
	"github.com/constellation-io/constellation/pkg/events"
	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/registry"
	"github.com/constellation-io/constellation/pkg/router"
	"github.com/constellation-io/constellation/pkg/transport"
)

// Controller owns the routing core: the worker registry, the binding
// table, the router, the correlator, and one heartbeat loop per admitted
// worker. Multiple controllers can coexist in one process; nothing here
// is package-level state.
type Controller struct {
	settings *config.Settings

	registry   *registry.Registry
	bindings   *registry.Bindings
	router     *router.Router
	correlator *correlator.Correlator
	broker     *events.Broker
	server     *transport.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a controller from validated settings
func New(settings *config.Settings) *Controller {
	broker := events.NewBroker()
	bindings := registry.NewBindings(broker)
	reg := registry.NewRegistry(bindings, broker)
	retention := time.Duration(settings.Proxy.ResponseRetentionMs) * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		settings:   settings,
		registry:   reg,
		bindings:   bindings,
		router:     router.NewRouter(reg, bindings),
		correlator: correlator.New(retention),
		broker:     broker,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start opens the worker-facing socket channel and begins admitting
// workers. tlsConfig may be nil; it is required when Socket.Ssl is set.
func (c *Controller) Start(tlsConfig *tls.Config) error {
	if c.settings.Socket.Ssl && tlsConfig == nil {
		return fmt.Errorf("socket ssl enabled but no TLS configuration given")
	}
	if !c.settings.Socket.Ssl {
		tlsConfig = nil
	}

	c.broker.Start()
	c.correlator.Start()

	c.server = transport.NewServer(
		c.settings.Socket.Hostnames,
		c.settings.Socket.Port,
		tlsConfig,
		transport.Callbacks{
			OnConnected:    c.onWorkerConnected,
			OnDisconnected: c.onWorkerDisconnected,
			OnFrame:        c.onWorkerFrame,
		},
	)
	return c.server.Start()
}

// Stop cancels every worker loop and tears down the socket channel
func (c *Controller) Stop() {
	c.cancel()
	if c.server != nil {
		c.server.Stop()
	}
	c.correlator.Stop()
	c.broker.Stop()
}

// Registry exposes the worker registry for the admin surface
func (c *Controller) Registry() *registry.Registry {
	return c.registry
}

// Bindings exposes the binding table for the admin surface
func (c *Controller) Bindings() *registry.Bindings {
	return c.bindings
}

// Broker exposes the event broker
func (c *Controller) Broker() *events.Broker {
	return c.broker
}

// Correlator exposes the request correlator
func (c *Controller) Correlator() *correlator.Correlator {
	return c.correlator
}

// SocketAddr returns the bound socket address, useful when Port was 0
func (c *Controller) SocketAddr() string {
	if c.server == nil {
		return ""
	}
	return c.server.Addr()
}

// Settings returns the controller's configuration
func (c *Controller) Settings() *config.Settings {
	return c.settings
}

// Dispatch routes the request frame to the worker owning its resource key
// and waits for the correlated response. The returned worker is non-nil
// whenever routing succeeded, even if the dispatch itself failed.
func (c *Controller) Dispatch(ctx context.Context, req *frame.Frame) (*frame.Frame, *registry.Worker, error) {
	resource := req.Path()
	w, err := c.router.Route(resource)
	if err != nil {
		return nil, nil, err
	}

	timeout := time.Duration(c.settings.Proxy.TimeoutMs) * time.Millisecond
	resp, err := c.correlator.Dispatch(ctx, w.Sender, req, timeout)
	if err != nil {
		return nil, w, err
	}
	return resp, w, nil
}

// onWorkerConnected admits the announced worker and starts its heartbeat
// loop. An identifier already present is rejected; reconnects arrive with
// a fresh identifier.
func (c *Controller) onWorkerConnected(workerID uuid.UUID, conn *transport.Conn) {
	workerCtx, workerCancel := context.WithCancel(c.ctx)
	w := &registry.Worker{
		ID:      workerID,
		Address: conn.RemoteAddr(),
		Sender:  conn,
		Cancel:  workerCancel,
	}

	if err := c.registry.Add(w); err != nil {
		admitLogger := log.WithWorkerID(workerID.String())
		admitLogger.Warn().Err(err).Msg("rejecting worker admission")
		workerCancel()
		_ = conn.Close()
		return
	}

	admittedLogger := log.WithWorkerID(workerID.String())
	admittedLogger.Info().
		Str("address", w.Address).
		Msg("worker admitted")

	go c.heartbeatLoop(workerCtx, w)
}

// onWorkerDisconnected evicts the worker when its channel drops
func (c *Controller) onWorkerDisconnected(workerID uuid.UUID) {
	if c.registry.Remove(workerID) {
		disconnectLogger := log.WithWorkerID(workerID.String())
		disconnectLogger.Info().Msg("worker disconnected")
	}
}

// onWorkerFrame handles one inbound frame. Responses go to the correlator;
// heartbeats only refresh activity; anything else is logged and dropped.
func (c *Controller) onWorkerFrame(workerID uuid.UUID, f *frame.Frame) {
	c.registry.Touch(workerID)

	switch f.Kind {
	case frame.KindResponse:
		c.correlator.Deliver(f)
	case frame.KindHeartbeat:
	default:
		frameLogger := log.WithWorkerID(workerID.String())
		frameLogger.Warn().
			Str("kind", string(f.Kind)).
			Str("guid", f.GUID).
			Msg("dropping unexpected frame")
	}
}

// ProxyTimeout returns the configured dispatch timeout
func (c *Controller) ProxyTimeout() time.Duration {
	return time.Duration(c.settings.Proxy.TimeoutMs) * time.Millisecond
}

// WorkerCount returns the number of admitted workers
func (c *Controller) WorkerCount() int {
	return c.registry.Len()
}
