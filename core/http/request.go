package http

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Request is an HTTP request.
type Request struct {
	Method Method
	URI    URI
	Message

	ctx context.Context
}

// NewRequest creates an HTTP/1.1 request for target.
func NewRequest(method Method, target string, body Body) (*Request, error) {
	uri, err := ParseURI(target)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  method,
		URI:     uri,
		Message: Message{Version: Version11, Body: body},
	}, nil
}

// Context returns the context of the connection serving r. It is canceled
// when the connection is canceled or the server shuts down.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// SetContext replaces the request context.
func (r *Request) SetContext(ctx context.Context) {
	r.ctx = ctx
}

// KeepAlive reports whether the connection may serve another request after
// this one.
func (r *Request) KeepAlive() bool {
	return r.keepAlive()
}

// Param returns a query or path parameter.
func (r *Request) Param(name string) (string, bool) {
	v, ok := r.URI.Params[name]
	return v, ok
}

// SetParam stores a decoded path parameter.
func (r *Request) SetParam(name, value string) {
	if r.URI.Params == nil {
		r.URI.Params = make(map[string]string)
	}
	r.URI.Params[name] = value
}

// ParamString returns a parameter or ErrCannotExpressParameter if missing.
func (r *Request) ParamString(name string) (string, error) {
	v, ok := r.Param(name)
	if !ok {
		return "", ErrCannotExpressParameter.Wrap(fmt.Errorf("missing parameter %q", name))
	}
	return v, nil
}

// ParamInt returns a parameter as an int.
func (r *Request) ParamInt(name string) (int, error) {
	v, err := r.ParamString(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, ErrCannotExpressParameter.Wrap(fmt.Errorf("parameter %q: %w", name, err))
	}
	return n, nil
}

// ParamUUID returns a parameter as a UUID.
func (r *Request) ParamUUID(name string) (uuid.UUID, error) {
	v, err := r.ParamString(name)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, ErrCannotExpressParameter.Wrap(fmt.Errorf("parameter %q: %w", name, err))
	}
	return id, nil
}

// Path returns the decoded request path.
func (r *Request) Path() string {
	p, err := url.PathUnescape(r.URI.Path)
	if err != nil {
		return r.URI.Path
	}
	return p
}

// Cookies parses the Cookie header.
func (r *Request) Cookies() []Cookie {
	return ParseCookies(r.Headers.Get(HeaderCookie))
}

// Cookie returns the value of the named cookie.
func (r *Request) Cookie(name string) (string, bool) {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// AddCookie appends a cookie to the Cookie header.
func (r *Request) AddCookie(c Cookie) {
	pair := c.Name + "=" + c.Value
	if v, ok := r.Headers.Lookup(HeaderCookie); ok && v != "" {
		pair = v + "; " + pair
	}
	r.Headers.Set(HeaderCookie, pair)
}
