package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/transport"
	"github.com/constellation-io/constellation/pkg/types"
)

// Handler processes one proxied request frame. Returning a nil frame
// suppresses the response; errors and panics become 500 response frames
// without closing the channel.
type Handler interface {
	Handle(ctx context.Context, req *frame.Frame) (*frame.Frame, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, req *frame.Frame) (*frame.Frame, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, req *frame.Frame) (*frame.Frame, error) {
	return f(ctx, req)
}

// Config holds worker configuration
type Config struct {
	ControllerURL             string
	ConnectionCheckIntervalMs int
}

// Worker maintains one channel to the controller, reconnecting on loss.
// Each connection attempt announces a freshly generated identifier, so a
// reconnect appears to the controller as a brand-new worker and the old
// identity's bindings are discarded.
type Worker struct {
	client   *transport.Client
	handler  Handler
	interval time.Duration

	mu   sync.Mutex
	id   uuid.UUID
	conn *transport.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a worker that dispatches requests to handler
func NewWorker(cfg *Config, handler Handler) (*Worker, error) {
	if handler == nil {
		return nil, fmt.Errorf("worker requires a request handler")
	}
	if cfg.ConnectionCheckIntervalMs == 0 {
		cfg.ConnectionCheckIntervalMs = types.DefaultConnectionCheckIntervalMs
	}
	if cfg.ConnectionCheckIntervalMs < types.MinConnectionCheckIntervalMs {
		return nil, fmt.Errorf("connection check interval %dms below minimum %dms",
			cfg.ConnectionCheckIntervalMs, types.MinConnectionCheckIntervalMs)
	}

	client, err := transport.NewClient(cfg.ControllerURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		client:   client,
		handler:  handler,
		interval: time.Duration(cfg.ConnectionCheckIntervalMs) * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start begins the connection-maintenance loop
func (w *Worker) Start() {
	go w.connectionLoop()
}

// Stop cancels the worker and closes its channel
func (w *Worker) Stop() {
	w.cancel()
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.mu.Unlock()
	<-w.done
}

// ID returns the identifier announced on the current connection
func (w *Worker) ID() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// Connected reports whether a channel to the controller is open
func (w *Worker) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil && !w.conn.Closed()
}

// connectionLoop dials, drives one session to completion, then retries
// every check interval until cancelled
func (w *Worker) connectionLoop() {
	defer close(w.done)
	logger := log.WithComponent("worker")

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		conn, id, err := w.connect()
		if err != nil {
			logger.Warn().Err(err).
				Str("controller", w.client.Address()).
				Msg("connection attempt failed")
			select {
			case <-time.After(w.interval):
				continue
			case <-w.ctx.Done():
				return
			}
		}

		workerLogger := log.WithWorkerID(id.String())
		workerLogger.Info().
			Str("controller", w.client.Address()).
			Msg("connected to controller")

		w.runSession(conn)

		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()

		select {
		case <-w.ctx.Done():
			return
		default:
			reconnectLogger := log.WithWorkerID(id.String())
			reconnectLogger.Warn().Msg("connection lost, scheduling reconnect")
		}

		select {
		case <-time.After(w.interval):
		case <-w.ctx.Done():
			return
		}
	}
}

// connect dials the controller and announces a fresh identity
func (w *Worker) connect() (*transport.Conn, uuid.UUID, error) {
	conn, err := w.client.Dial()
	if err != nil {
		return nil, uuid.Nil, err
	}

	id := uuid.New()
	if err := conn.Send(frame.NewHeartbeat(id)); err != nil {
		_ = conn.Close()
		return nil, uuid.Nil, fmt.Errorf("handshake failed: %w", err)
	}

	w.mu.Lock()
	w.id = id
	w.conn = conn
	w.mu.Unlock()
	return conn, id, nil
}

// runSession reads frames until the connection drops or the worker stops
func (w *Worker) runSession(conn *transport.Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			_ = conn.Close()
			return
		}

		switch f.Kind {
		case frame.KindHeartbeat:
			// Probes require no reply beyond the transport acknowledgement.
		case frame.KindRequest:
			go w.handleRequest(conn, f)
		default:
			unexpectedLogger := log.WithComponent("worker")
			unexpectedLogger.Warn().
				Str("kind", string(f.Kind)).
				Str("guid", f.GUID).
				Msg("dropping unexpected frame")
		}
	}
}

// handleRequest runs the handler for one request frame and pushes the
// response back with the same correlation id. Handler errors and panics
// become 500 response frames; the channel stays open.
func (w *Worker) handleRequest(conn *transport.Conn, req *frame.Frame) {
	logger := log.WithComponent("worker")

	resp := w.invokeHandler(req)
	if resp == nil {
		return
	}

	resp.GUID = req.GUID
	if err := conn.Send(resp); err != nil {
		logger.Error().Err(err).
			Str("guid", req.GUID).
			Msg("failed to send response frame")
	}
}

func (w *Worker) invokeHandler(req *frame.Frame) (resp *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			panicLogger := log.WithComponent("worker")
			panicLogger.Error().
				Interface("panic", r).
				Str("guid", req.GUID).
				Msg("request handler panicked")
			resp = errorResponse(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	resp, err := w.handler.Handle(w.ctx, req)
	if err != nil {
		failLogger := log.WithComponent("worker")
		failLogger.Error().Err(err).
			Str("guid", req.GUID).
			Msg("request handler failed")
		return errorResponse(err.Error())
	}
	return resp
}

func errorResponse(message string) *frame.Frame {
	body := []byte(fmt.Sprintf(`{"kind":%q,"message":%q}`, types.ErrorKindInternalError, message))
	resp, err := frame.NewResponse(500, "application/json", nil, body)
	if err != nil {
		// 500 is always in range; NewResponse cannot fail here.
		return nil
	}
	return resp
}
