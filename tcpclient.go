package rearview

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Standard ports for plain DNS over TCP and DNS-over-TLS upstreams.
const (
	PlainDNSPort = "53"
	DoTPort      = "853"
)

const defaultQueryTimeout = 5 * time.Second

// Upstream forwards a raw DNS request to a recursive resolver and
// returns the raw response.
type Upstream interface {
	Forward(ctx context.Context, request []byte) ([]byte, error)
	fmt.Stringer
}

// TCPClient exchanges DNS messages with a recursive resolver over TCP,
// optionally wrapped in TLS. Messages carry the 2-byte big-endian
// length prefix in both directions. Each query uses its own connection.
type TCPClient struct {
	addr    string
	useTLS  bool
	timeout time.Duration
}

var _ Upstream = &TCPClient{}

type TCPClientOptions struct {
	// Wrap the connection in TLS, using the system trust anchors, and
	// contact the resolver on the DoT port.
	UseTLS bool
	// Per-query timeout covering connect, write and read. Defaults to
	// 5 seconds.
	QueryTimeout time.Duration
}

// NewTCPClient returns a client for the recursive resolver at host,
// contacted on port 53, or port 853 when TLS is enabled.
func NewTCPClient(host string, opt TCPClientOptions) *TCPClient {
	port := PlainDNSPort
	if opt.UseTLS {
		port = DoTPort
	}
	timeout := opt.QueryTimeout
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &TCPClient{
		addr:    net.JoinHostPort(host, port),
		useTLS:  opt.UseTLS,
		timeout: timeout,
	}
}

// Forward sends one length-framed request and reads one length-framed
// response, draining short reads, then closes the connection.
func (c *TCPClient) Forward(ctx context.Context, request []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	buf := make([]byte, 2+len(request))
	binary.BigEndian.PutUint16(buf, uint16(len(request)))
	copy(buf[2:], request)
	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", c.addr, err)
	}

	var length [2]byte
	if _, err := io.ReadFull(conn, length[:]); err != nil {
		return nil, fmt.Errorf("failed to read response length from %s: %w", c.addr, err)
	}
	response := make([]byte, binary.BigEndian.Uint16(length[:]))
	if _, err := io.ReadFull(conn, response); err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", c.addr, err)
	}
	return response, nil
}

func (c *TCPClient) dial(ctx context.Context) (net.Conn, error) {
	if c.useTLS {
		d := &tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", c.addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", c.addr)
}

func (c *TCPClient) String() string {
	if c.useTLS {
		return fmt.Sprintf("DoT(%s)", c.addr)
	}
	return fmt.Sprintf("DNS(%s)", c.addr)
}
