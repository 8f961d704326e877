package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/searchktools/coroserve/core/coro"
)

// DefaultBufferSize is the write buffer size of a Conn.
const DefaultBufferSize = 8192

// Conn is a Stream over a net.Conn. Writes are buffered until Flush.
//
// A read that returns data together with an error (a reset after the peer
// sent its last bytes) delivers the data first; the next read reports
// ErrClosed.
type Conn struct {
	conn    net.Conn
	w       *bufio.Writer
	closed  atomic.Bool
	pending error
}

// NewConn wraps c. bufferSize <= 0 selects DefaultBufferSize.
func NewConn(c net.Conn, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Conn{
		conn: c,
		w:    bufio.NewWriterSize(c, bufferSize),
	}
}

// Read implements Reader.
func (c *Conn) Read(p []byte, deadline coro.Deadline) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.pending != nil {
		return nil, c.mapErr(c.pending)
	}
	if len(p) == 0 {
		return p, nil
	}
	if err := c.conn.SetReadDeadline(deadline.Time()); err != nil {
		return nil, c.mapErr(err)
	}
	n, err := c.conn.Read(p)
	if n > 0 {
		if err != nil {
			c.pending = err
		}
		return p[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, c.mapErr(err)
}

// Write implements Writer.
func (c *Conn) Write(p []byte, deadline coro.Deadline) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(deadline.Time()); err != nil {
		return c.mapErr(err)
	}
	if _, err := c.w.Write(p); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Flush implements Writer.
func (c *Conn) Flush(deadline coro.Deadline) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(deadline.Time()); err != nil {
		return c.mapErr(err)
	}
	if err := c.w.Flush(); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Close closes the connection. It is safe to call from another coroutine
// to interrupt a blocked Read or Write.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return coro.ErrTimeout
	case c.closed.Load(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}

// Pipe returns two connected in-memory streams. Every write on one end
// must be read from the other.
func Pipe() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a, 0), NewConn(b, 0)
}
