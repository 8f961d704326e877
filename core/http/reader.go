package http

import (
	"errors"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/stream"
)

// Decoder is an incremental message parser.
type Decoder[T any] interface {
	Parse(data []byte) ([]T, error)
}

// MessageReader pulls messages of type T off a stream through a Decoder.
type MessageReader[T any] struct {
	r       stream.Reader
	decoder Decoder[T]
	buf     []byte
	queue   []T
	eof     bool
	err     error
}

// NewMessageReader reads from r using buf as the read buffer.
func NewMessageReader[T any](r stream.Reader, decoder Decoder[T], buf []byte) *MessageReader[T] {
	if len(buf) == 0 {
		buf = make([]byte, stream.DefaultBufferSize)
	}
	return &MessageReader[T]{r: r, decoder: decoder, buf: buf}
}

// Next returns the next complete message. When the peer closes between
// messages it returns stream.ErrClosed; a close mid-message surfaces as
// ErrUnexpectedEOF. Messages parsed before a parse error are delivered
// before the error.
func (mr *MessageReader[T]) Next(deadline coro.Deadline) (T, error) {
	var zero T
	for {
		if len(mr.queue) > 0 {
			msg := mr.queue[0]
			mr.queue = mr.queue[1:]
			return msg, nil
		}
		if mr.err != nil {
			return zero, mr.err
		}
		if mr.eof {
			return zero, stream.ErrClosed
		}

		chunk, err := mr.r.Read(mr.buf, deadline)
		if err != nil && !errors.Is(err, stream.ErrClosed) {
			return zero, err
		}
		if err != nil {
			mr.eof = true
			chunk = nil
		}
		msgs, perr := mr.decoder.Parse(chunk)
		mr.queue = append(mr.queue, msgs...)
		mr.err = perr
	}
}

// RequestReader returns a MessageReader for requests.
func RequestReader(r stream.Reader, limits Limits, buf []byte) *MessageReader[*Request] {
	return NewMessageReader[*Request](r, NewRequestParser(limits), buf)
}

// ResponseReader returns a MessageReader for responses together with its
// parser, so callers can announce HEAD requests.
func ResponseReader(r stream.Reader, limits Limits, buf []byte) (*MessageReader[*Response], *ResponseParser) {
	p := NewResponseParser(limits)
	return NewMessageReader[*Response](r, p, buf), p
}
