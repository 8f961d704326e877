package http

import (
	"errors"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/stream"
)

// ErrBodyConsumed is returned when a reader body is converted after its
// reader was already handed out.
var ErrBodyConsumed = errors.New("http: body already consumed")

// BodyKind tags the representation a Body currently holds.
type BodyKind int

const (
	BufferBody BodyKind = iota
	ReaderBody
	WriterBody
)

func (k BodyKind) String() string {
	switch k {
	case BufferBody:
		return "buffer"
	case ReaderBody:
		return "reader"
	case WriterBody:
		return "writer"
	}
	return "unknown"
}

// BodyWriterFunc produces a body by writing to w. Flush on w pushes the
// bytes written so far to the peer.
type BodyWriterFunc func(w stream.Writer, deadline coro.Deadline) error

// Body is a message body held as a byte buffer, a stream to read from, or a
// callback that writes it. The zero value is an empty buffer.
//
// Conversions cache their result in place, so a reader is drained at most
// once.
type Body struct {
	kind     BodyKind
	buf      []byte
	reader   stream.Reader
	writer   BodyWriterFunc
	consumed bool
}

// BufferOf returns a buffer body holding b.
func BufferOf(b []byte) Body {
	return Body{kind: BufferBody, buf: b}
}

// StringBody returns a buffer body holding s.
func StringBody(s string) Body {
	return BufferOf([]byte(s))
}

// ReaderOf returns a body read from r until it reports ErrClosed.
func ReaderOf(r stream.Reader) Body {
	return Body{kind: ReaderBody, reader: r}
}

// WriterOf returns a body produced by fn.
func WriterOf(fn BodyWriterFunc) Body {
	return Body{kind: WriterBody, writer: fn}
}

// Kind returns the current representation.
func (b *Body) Kind() BodyKind {
	return b.kind
}

// Bytes returns the buffer of a buffer body and nil otherwise.
func (b *Body) Bytes() []byte {
	if b.kind != BufferBody {
		return nil
	}
	return b.buf
}

// Len returns the body length if known, or -1 for streaming bodies.
func (b *Body) Len() int {
	if b.kind != BufferBody {
		return -1
	}
	return len(b.buf)
}

// Buffer converts the body to a buffer and returns it.
func (b *Body) Buffer(deadline coro.Deadline) ([]byte, error) {
	switch b.kind {
	case ReaderBody:
		r, err := b.take()
		if err != nil {
			return nil, err
		}
		data, err := stream.ReadAll(r, deadline)
		if err != nil {
			return nil, err
		}
		*b = BufferOf(data)
	case WriterBody:
		var out stream.Buffer
		if err := b.writer(&out, deadline); err != nil {
			return nil, err
		}
		*b = BufferOf(out.Bytes())
	}
	return b.buf, nil
}

// Reader returns a reader over the body. A reader body hands out its
// reader once; later conversions fail with ErrBodyConsumed.
func (b *Body) Reader(deadline coro.Deadline) (stream.Reader, error) {
	switch b.kind {
	case ReaderBody:
		return b.take()
	case WriterBody:
		if _, err := b.Buffer(deadline); err != nil {
			return nil, err
		}
	}
	return stream.NewBytesReader(b.buf), nil
}

// Writer returns a callback that writes the body.
func (b *Body) Writer() BodyWriterFunc {
	switch b.kind {
	case WriterBody:
		return b.writer
	case ReaderBody:
		return func(w stream.Writer, deadline coro.Deadline) error {
			r, err := b.take()
			if err != nil {
				return err
			}
			_, err = stream.Copy(w, r, deadline)
			return err
		}
	}
	data := b.buf
	return func(w stream.Writer, deadline coro.Deadline) error {
		if len(data) == 0 {
			return nil
		}
		return w.Write(data, deadline)
	}
}

func (b *Body) take() (stream.Reader, error) {
	if b.consumed {
		return nil, ErrBodyConsumed
	}
	b.consumed = true
	return b.reader, nil
}
