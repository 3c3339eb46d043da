package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
)

const outboundQueueSize = 64

// Conn wraps a network connection with a single-writer outbound queue so
// that transport callbacks and dispatch calls enqueue without blocking.
type Conn struct {
	conn      net.Conn
	outbound  chan *frame.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn wraps nc and starts its write loop
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		conn:     nc,
		outbound: make(chan *frame.Frame, outboundQueueSize),
		closed:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send enqueues a frame for delivery. It never blocks: a full queue or a
// closed connection reports failure to the caller instead.
func (c *Conn) Send(f *frame.Frame) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection to %s is closed", c.RemoteAddr())
	default:
	}

	select {
	case c.outbound <- f:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection to %s is closed", c.RemoteAddr())
	default:
		return fmt.Errorf("outbound queue full for %s", c.RemoteAddr())
	}
}

// Close tears down the connection and stops the write loop
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Closed reports whether the connection has been torn down
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// RemoteAddr returns the peer address for diagnostics
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadFrame reads the next inbound frame from the connection
func (c *Conn) ReadFrame() (*frame.Frame, error) {
	return ReadFrame(c.conn)
}

func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.outbound:
			if err := WriteFrame(c.conn, f); err != nil {
				writeFailLogger := log.WithComponent("transport")
				writeFailLogger.Debug().
					Err(err).
					Str("peer", c.RemoteAddr()).
					Msg("write failed, closing connection")
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
