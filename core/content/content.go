package content

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/stream"
)

// Storage keys used on messages.
const (
	Key      = "content"
	CodecKey = "content.codec"
)

// Value returns the structured content attached to m.
func Value(m *http.Message) (any, bool) {
	return m.Value(Key)
}

// Set attaches structured content to m. Content negotiation serializes it
// into the body.
func Set(m *http.Message, v any) {
	m.SetValue(Key, v)
}

// Respond creates a response whose body is v, serialized by the content
// negotiation middleware.
func Respond(status http.Status, v any) *http.Response {
	res := http.NewResponse(status, http.Body{})
	Set(&res.Message, v)
	return res
}

// Decode reads the body of m with c into v.
func Decode(m *http.Message, c Codec, v any, deadline coro.Deadline) error {
	r, err := m.Body.Reader(deadline)
	if err != nil {
		return err
	}
	return c.Decode(stream.NewIOReader(r, deadline), v)
}

// Encode serializes v with c into the body of m and sets Content-Type.
func Encode(m *http.Message, c Codec, v any) error {
	var buf bytes.Buffer
	if err := c.Encode(&buf, v); err != nil {
		return err
	}
	m.Body = http.BufferOf(buf.Bytes())
	m.Headers.Set(http.HeaderContentType, c.MediaType().String())
	return nil
}

// Bind decodes the request body into v with the codec chosen by content
// negotiation, or by Content-Type through reg when none was chosen.
func Bind(req *http.Request, reg *Registry, v any, deadline coro.Deadline) error {
	c, ok := codecOf(&req.Message)
	if !ok {
		if reg == nil {
			reg = DefaultRegistry()
		}
		var err error
		if c, err = reg.ForContentType(req.ContentType()); err != nil {
			return http.ErrUnsupportedMediaType.Wrap(err)
		}
	}
	if err := Decode(&req.Message, c, v, deadline); err != nil {
		if errors.Is(err, http.ErrBodyConsumed) {
			return err
		}
		return http.ErrBadRequest.Wrap(fmt.Errorf("decode %s: %w", c.MediaType().Essence(), err))
	}
	return nil
}

func codecOf(m *http.Message) (Codec, bool) {
	v, ok := m.Value(CodecKey)
	if !ok {
		return nil, false
	}
	c, ok := v.(Codec)
	return c, ok
}
