package http

import "github.com/searchktools/coroserve/core/stream"

// UpgradeFunc takes ownership of the raw stream after the response that
// carried it has been written. The stream is closed when it returns.
type UpgradeFunc func(req *Request, s stream.Stream) error

// Response is an HTTP response.
type Response struct {
	Status Status
	// Reason overrides the standard reason phrase when set.
	Reason string
	Message
	Cookies []SetCookie
	Upgrade UpgradeFunc
}

// NewResponse creates an HTTP/1.1 response. No headers are added.
func NewResponse(status Status, body Body) *Response {
	return &Response{
		Status:  status,
		Message: Message{Version: Version11, Body: body},
	}
}

// Text creates a text/plain response.
func Text(status Status, s string) *Response {
	res := NewResponse(status, StringBody(s))
	res.Headers.Set(HeaderContentType, "text/plain; charset=utf-8")
	return res
}

// Stream creates a response whose body is produced by fn.
func Stream(status Status, fn BodyWriterFunc) *Response {
	return NewResponse(status, WriterOf(fn))
}

// ReasonPhrase returns Reason or the standard phrase.
func (r *Response) ReasonPhrase() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Status.Reason()
}

// SetCookie adds a Set-Cookie line.
func (r *Response) SetCookie(c SetCookie) {
	r.Cookies = append(r.Cookies, c)
}

// KeepAlive reports whether the connection may be reused after this
// response.
func (r *Response) KeepAlive() bool {
	return r.keepAlive()
}
