package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/searchktools/coroserve/core/coro"
)

// TCPHost accepts TCP connections as Streams.
type TCPHost struct {
	ln         *net.TCPListener
	bufferSize int
	closed     atomic.Bool
}

// Listen opens a TCP listener on addr. Accepted sockets get TCP_NODELAY and
// SO_KEEPALIVE.
func Listen(addr string, bufferSize int) (*TCPHost, error) {
	lc := net.ListenConfig{Control: controlListener}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPHost{ln: ln.(*net.TCPListener), bufferSize: bufferSize}, nil
}

// Accept waits for the next connection until deadline.
func (h *TCPHost) Accept(deadline coro.Deadline) (Stream, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if err := h.ln.SetDeadline(deadline.Time()); err != nil {
		return nil, h.mapErr(err)
	}
	c, err := h.ln.AcceptTCP()
	if err != nil {
		return nil, h.mapErr(err)
	}
	if err := tuneConn(c); err != nil {
		c.Close()
		return nil, fmt.Errorf("stream: tune accepted socket: %w", err)
	}
	return NewConn(c, h.bufferSize), nil
}

// Addr returns the listening address.
func (h *TCPHost) Addr() net.Addr {
	return h.ln.Addr()
}

// Close stops accepting. A blocked Accept returns ErrClosed.
func (h *TCPHost) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.ln.Close()
}

func (h *TCPHost) mapErr(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return coro.ErrTimeout
	case h.closed.Load(), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}

// Dial connects to addr before deadline.
func Dial(addr string, deadline coro.Deadline, bufferSize int) (*Conn, error) {
	d := net.Dialer{Deadline: deadline.Time()}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, coro.ErrTimeout
		}
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		if err := tuneConn(tc); err != nil {
			c.Close()
			return nil, fmt.Errorf("stream: tune dialed socket: %w", err)
		}
	}
	return NewConn(c, bufferSize), nil
}
