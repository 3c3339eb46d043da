package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
)

// How long a fresh connection has to announce its worker id
const handshakeTimeout = 30 * time.Second

// Callbacks are invoked from transport-owned goroutines. Handlers must
// not block; long work belongs on the callee's side of a queue.
type Callbacks struct {
	OnConnected    func(workerID uuid.UUID, conn *Conn)
	OnDisconnected func(workerID uuid.UUID)
	OnFrame        func(workerID uuid.UUID, f *frame.Frame)
}

// Server accepts worker channels on one or more listen addresses. Each
// accepted connection must open with a heartbeat frame announcing the
// worker's identifier before any other traffic.
type Server struct {
	hostnames []string
	port      int
	tlsConfig *tls.Config
	callbacks Callbacks

	listeners []net.Listener
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewServer creates a frame channel server. tlsConfig may be nil for
// plaintext listeners.
func NewServer(hostnames []string, port int, tlsConfig *tls.Config, callbacks Callbacks) *Server {
	return &Server{
		hostnames: hostnames,
		port:      port,
		tlsConfig: tlsConfig,
		callbacks: callbacks,
		stopCh:    make(chan struct{}),
	}
}

// Start opens every listener and begins accepting connections
func (s *Server) Start() error {
	logger := log.WithComponent("transport")

	for _, hostname := range s.hostnames {
		addr := net.JoinHostPort(hostname, fmt.Sprintf("%d", s.port))
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		if s.tlsConfig != nil {
			listener = tls.NewListener(listener, s.tlsConfig)
		}
		s.listeners = append(s.listeners, listener)
		logger.Info().Str("address", listener.Addr().String()).Msg("socket channel listening")

		s.wg.Add(1)
		go s.acceptLoop(listener)
	}
	return nil
}

// Addr returns the bound address of the first listener, useful when the
// configured port was 0
func (s *Server) Addr() string {
	if len(s.listeners) == 0 {
		return ""
	}
	return s.listeners[0].Addr().String()
}

// Stop closes all listeners and waits for accept loops to drain
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.closeListeners()
	})
	s.wg.Wait()
}

func (s *Server) closeListeners() {
	for _, listener := range s.listeners {
		_ = listener.Close()
	}
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	logger := log.WithComponent("transport")

	for {
		nc, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				logger.Error().Err(err).Msg("failed to accept connection")
				time.Sleep(1 * time.Second)
				continue
			}
		}
		go s.handleConnection(nc)
	}
}

// handleConnection drives one worker channel: handshake, then a read loop
// that hands every inbound frame to the frame callback.
func (s *Server) handleConnection(nc net.Conn) {
	logger := log.WithComponent("transport")

	_ = nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	first, err := ReadFrame(nc)
	if err != nil {
		logger.Debug().Err(err).Str("peer", nc.RemoteAddr().String()).Msg("handshake read failed")
		_ = nc.Close()
		return
	}
	if first.Kind != frame.KindHeartbeat {
		logger.Warn().Str("peer", nc.RemoteAddr().String()).Str("kind", string(first.Kind)).
			Msg("rejecting connection: handshake frame is not a heartbeat")
		_ = nc.Close()
		return
	}
	workerID, err := first.WorkerID()
	if err != nil {
		logger.Warn().Err(err).Str("peer", nc.RemoteAddr().String()).
			Msg("rejecting connection: handshake carries no worker id")
		_ = nc.Close()
		return
	}
	_ = nc.SetReadDeadline(time.Time{})

	conn := NewConn(nc)
	if s.callbacks.OnConnected != nil {
		s.callbacks.OnConnected(workerID, conn)
	}

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			_ = conn.Close()
			if s.callbacks.OnDisconnected != nil {
				s.callbacks.OnDisconnected(workerID)
			}
			return
		}
		if s.callbacks.OnFrame != nil {
			s.callbacks.OnFrame(workerID, f)
		}
	}
}
