package rearview

import (
	"context"
	"fmt"
	"net"
)

// Room for any request that fits a single datagram, EDNS0 included.
const maxUDPSize = 4096

// Listener is an interface for a DNS listener.
type Listener interface {
	Start() error
	fmt.Stringer
}

// UDPListener receives DNS queries as single datagrams and answers each
// one from its own goroutine. Responses go out in whatever order the
// pipeline completes them.
type UDPListener struct {
	addr     string
	pipeline *Pipeline
}

var _ Listener = &UDPListener{}

// NewUDPListener returns a listener feeding the given pipeline.
func NewUDPListener(addr string, pipeline *Pipeline) *UDPListener {
	return &UDPListener{
		addr:     addr,
		pipeline: pipeline,
	}
}

// Start binds the socket and serves until the socket fails.
func (l *UDPListener) Start() error {
	laddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %s: %w", l.addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	Log.WithField("addr", l.addr).Info("starting udp listener")

	buf := make([]byte, maxUDPSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		request := make([]byte, n)
		copy(request, buf[:n])
		go l.serve(conn, raddr, request)
	}
}

func (l *UDPListener) serve(conn *net.UDPConn, raddr *net.UDPAddr, request []byte) {
	response := l.pipeline.Handle(context.Background(), request, raddr.IP)
	if response == nil {
		return
	}
	if _, err := conn.WriteToUDP(response, raddr); err != nil {
		Log.WithError(err).WithField("client", raddr.IP).Error("failed to send response")
	}
}

func (l *UDPListener) String() string {
	return fmt.Sprintf("UDP(%s)", l.addr)
}
