package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

const dialTimeout = 10 * time.Second

// Client dials the controller's frame channel. The controller URL uses
// http or https scheme; https dials through TLS.
type Client struct {
	address   string
	tlsConfig *tls.Config
}

// NewClient parses a controller URL of the form {http|https}://host:port
func NewClient(controllerURL string) (*Client, error) {
	u, err := url.Parse(controllerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid controller URL: %w", err)
	}

	var tlsConfig *tls.Config
	switch u.Scheme {
	case "http":
	case "https":
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		return nil, fmt.Errorf("unsupported controller URL scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("controller URL %s has no host", controllerURL)
	}

	return &Client{
		address:   u.Host,
		tlsConfig: tlsConfig,
	}, nil
}

// Dial opens one channel to the controller
func (c *Client) Dial() (*Conn, error) {
	var nc net.Conn
	var err error
	if c.tlsConfig != nil {
		dialer := &net.Dialer{Timeout: dialTimeout}
		nc, err = tls.DialWithDialer(dialer, "tcp", c.address, c.tlsConfig)
	} else {
		nc, err = net.DialTimeout("tcp", c.address, dialTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial controller at %s: %w", c.address, err)
	}
	return NewConn(nc), nil
}

// Address returns the host:port the client dials
func (c *Client) Address() string {
	return c.address
}
