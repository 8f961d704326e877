// Package middleware composes request interceptors around a terminal
// handler, on the server side (around a router) and on the client side
// (around the wire exchange).
package middleware

import "github.com/searchktools/coroserve/core/http"

// Handler produces a response for a request. router.Router.Respond and
// client.Client.Do both have this shape.
type Handler func(req *http.Request) (*http.Response, error)

// Middleware intercepts a request on its way to next. It may change the
// request, call next, change the response, or answer without calling next.
type Middleware interface {
	Respond(req *http.Request, next Handler) (*http.Response, error)
}

// Func adapts a function to Middleware.
type Func func(req *http.Request, next Handler) (*http.Response, error)

// Respond implements Middleware.
func (f Func) Respond(req *http.Request, next Handler) (*http.Response, error) {
	return f(req, next)
}

// Pipeline is an ordered middleware list. The first middleware added is
// the outermost.
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a pipeline.
func NewPipeline(ms ...Middleware) *Pipeline {
	p := &Pipeline{middlewares: make([]Middleware, 0, max(len(ms), 8))}
	return p.Use(ms...)
}

// Use appends middlewares.
func (p *Pipeline) Use(ms ...Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, ms...)
	return p
}

// Len returns the number of middlewares.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Then composes the pipeline onto terminal, so that for [m1, m2] a request
// runs m1(m2(terminal)).
func (p *Pipeline) Then(terminal Handler) Handler {
	h := terminal
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		h = bind(p.middlewares[i], h)
	}
	return h
}

func bind(m Middleware, next Handler) Handler {
	return func(req *http.Request) (*http.Response, error) {
		return m.Respond(req, next)
	}
}
