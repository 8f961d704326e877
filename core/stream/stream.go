// Package stream defines the deadline-aware duplex byte stream the HTTP
// core is written against, plus TCP, in-memory and pipe implementations.
package stream

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/searchktools/coroserve/core/coro"
)

// ErrClosed is returned by every operation on a closed stream, and by Read
// once the peer has finished sending or reset the connection.
var ErrClosed = errors.New("stream: closed")

// Reader reads with a deadline. Read fills as much of p as is currently
// available and returns the filled prefix; it never returns an empty slice
// with a nil error.
type Reader interface {
	Read(p []byte, deadline coro.Deadline) ([]byte, error)
}

// Writer writes with a deadline. Write either writes all of p or fails.
type Writer interface {
	Write(p []byte, deadline coro.Deadline) error
	Flush(deadline coro.Deadline) error
}

// Stream is a duplex byte stream owned by one coroutine at a time.
type Stream interface {
	Reader
	Writer
	Close() error
	Closed() bool
}

// Host accepts new streams.
type Host interface {
	Accept(deadline coro.Deadline) (Stream, error)
	Addr() net.Addr
	Close() error
}

// IsTransport reports whether err is a transport condition (closed stream,
// timeout, reset, broken pipe) as opposed to an application error.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || coro.IsTimeout(err) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// ReadAll reads r until the peer closes it.
func ReadAll(r Reader, deadline coro.Deadline) ([]byte, error) {
	var (
		out []byte
		buf = make([]byte, 4096)
	)
	for {
		chunk, err := r.Read(buf, deadline)
		out = append(out, chunk...)
		if errors.Is(err, ErrClosed) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// Copy writes everything read from src to dst.
func Copy(dst Writer, src Reader, deadline coro.Deadline) (int64, error) {
	var (
		n   int64
		buf = make([]byte, 32*1024)
	)
	for {
		chunk, err := src.Read(buf, deadline)
		if len(chunk) > 0 {
			if werr := dst.Write(chunk, deadline); werr != nil {
				return n, werr
			}
			n += int64(len(chunk))
		}
		if errors.Is(err, ErrClosed) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

// NewIOReader adapts r to io.Reader with a fixed deadline. ErrClosed
// becomes io.EOF.
func NewIOReader(r Reader, deadline coro.Deadline) io.Reader {
	return &ioReader{r: r, deadline: deadline}
}

type ioReader struct {
	r        Reader
	deadline coro.Deadline
}

func (r *ioReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk, err := r.r.Read(p, r.deadline)
	if errors.Is(err, ErrClosed) {
		err = io.EOF
	}
	return len(chunk), err
}

// NewIOWriter adapts w to io.Writer with a fixed deadline.
func NewIOWriter(w Writer, deadline coro.Deadline) io.Writer {
	return &ioWriter{w: w, deadline: deadline}
}

type ioWriter struct {
	w        Writer
	deadline coro.Deadline
}

func (w *ioWriter) Write(p []byte) (int, error) {
	if err := w.w.Write(p, w.deadline); err != nil {
		return 0, err
	}
	return len(p), nil
}

// BytesReader is a Reader over a byte slice.
type BytesReader struct {
	data []byte
}

// NewBytesReader returns a Reader that yields data and then ErrClosed.
func NewBytesReader(data []byte) *BytesReader {
	return &BytesReader{data: data}
}

func (r *BytesReader) Read(p []byte, _ coro.Deadline) ([]byte, error) {
	if len(r.data) == 0 {
		return nil, ErrClosed
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return p[:n], nil
}

// Len returns the number of unread bytes.
func (r *BytesReader) Len() int {
	return len(r.data)
}

// Buffer is a Writer that collects everything written to it.
type Buffer struct {
	data    []byte
	flushes int
}

func (b *Buffer) Write(p []byte, _ coro.Deadline) error {
	b.data = append(b.data, p...)
	return nil
}

func (b *Buffer) Flush(coro.Deadline) error {
	b.flushes++
	return nil
}

// Bytes returns the collected bytes.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Flushes returns how many times Flush was called.
func (b *Buffer) Flushes() int {
	return b.flushes
}
