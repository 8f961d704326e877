package http

import (
	"strconv"
	"strings"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/stream"
)

// WriteResponse serializes res to w and flushes once. With omitBody (a
// response to HEAD) the framing headers are written but the body is not.
//
// A buffer body is framed with Content-Length. A reader or writer body is
// sent chunked, or buffered first when the response is HTTP/1.0.
func WriteResponse(w stream.Writer, res *Response, deadline coro.Deadline, omitBody bool) error {
	b := make([]byte, 0, 256)
	b = append(b, res.Version.String()...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(res.Status), 10)
	b = append(b, ' ')
	b = append(b, res.ReasonPhrase()...)
	b = append(b, "\r\n"...)
	b = appendHeaders(b, &res.Headers)
	for _, c := range res.Cookies {
		b = appendHeader(b, HeaderSetCookie, c.String())
	}

	if !res.Status.AllowsBody() {
		b = append(b, "\r\n"...)
		if err := w.Write(b, deadline); err != nil {
			return err
		}
		return w.Flush(deadline)
	}
	return writeMessage(w, b, &res.Message, deadline, omitBody, true)
}

// WriteRequest serializes req to w and flushes once. A Host header is added
// when missing and the URI names a host.
func WriteRequest(w stream.Writer, req *Request, deadline coro.Deadline) error {
	b := make([]byte, 0, 256)
	b = append(b, string(req.Method)...)
	b = append(b, ' ')
	switch {
	case req.Method == MethodConnect:
		b = append(b, req.URI.Authority()...)
	case req.URI.Path == "*":
		b = append(b, '*')
	default:
		b = append(b, req.URI.RequestTarget()...)
	}
	b = append(b, ' ')
	b = append(b, req.Version.String()...)
	b = append(b, "\r\n"...)
	if req.URI.Host != "" && !req.Headers.Has(HeaderHost) {
		b = appendHeader(b, HeaderHost, req.URI.Authority())
	}
	b = appendHeaders(b, &req.Headers)
	return writeMessage(w, b, &req.Message, deadline, false, false)
}

// writeMessage completes the header block in head with framing headers and
// writes the body.
func writeMessage(w stream.Writer, head []byte, m *Message, deadline coro.Deadline, omitBody, emptyLength bool) error {
	if m.Body.Kind() != BufferBody && !m.Version.AtLeast(1, 1) {
		if _, err := m.Body.Buffer(deadline); err != nil {
			return err
		}
	}

	if m.Body.Kind() == BufferBody {
		data := m.Body.Bytes()
		if len(data) > 0 || emptyLength {
			head = appendHeader(head, HeaderContentLength, strconv.Itoa(len(data)))
		}
		head = append(head, "\r\n"...)
		if err := w.Write(head, deadline); err != nil {
			return err
		}
		if !omitBody && len(data) > 0 {
			if err := w.Write(data, deadline); err != nil {
				return err
			}
		}
		return w.Flush(deadline)
	}

	head = appendHeader(head, HeaderTransferEncoding, "chunked")
	head = append(head, "\r\n"...)
	if err := w.Write(head, deadline); err != nil {
		return err
	}
	if !omitBody {
		cw := &chunkedWriter{w: w}
		if err := m.Body.Writer()(cw, deadline); err != nil {
			return err
		}
		if err := cw.Close(deadline); err != nil {
			return err
		}
	}
	return w.Flush(deadline)
}

// appendHeaders writes every header except the framing ones, which the
// serializer owns.
func appendHeaders(b []byte, h *Headers) []byte {
	h.Each(func(name, value string) bool {
		if strings.EqualFold(name, HeaderContentLength) || strings.EqualFold(name, HeaderTransferEncoding) {
			return true
		}
		b = appendHeader(b, name, value)
		return true
	})
	return b
}

func appendHeader(b []byte, name, value string) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, "\r\n"...)
}

// chunkedWriter frames every Write as one chunk.
type chunkedWriter struct {
	w   stream.Writer
	hdr []byte
}

func (c *chunkedWriter) Write(p []byte, deadline coro.Deadline) error {
	if len(p) == 0 {
		return nil
	}
	c.hdr = strconv.AppendInt(c.hdr[:0], int64(len(p)), 16)
	c.hdr = append(c.hdr, "\r\n"...)
	if err := c.w.Write(c.hdr, deadline); err != nil {
		return err
	}
	if err := c.w.Write(p, deadline); err != nil {
		return err
	}
	return c.w.Write(crlf, deadline)
}

func (c *chunkedWriter) Flush(deadline coro.Deadline) error {
	return c.w.Flush(deadline)
}

// Close writes the terminating zero-size chunk.
func (c *chunkedWriter) Close(deadline coro.Deadline) error {
	return c.w.Write([]byte("0\r\n\r\n"), deadline)
}
