package core

import (
	"context"
	"sync"

	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/router"
	"github.com/searchktools/coroserve/core/stream"
)

// Engine bundles a router, a middleware pipeline in front of it and the
// Server that feeds them. Routes and middlewares must be registered before
// the first Run or Serve.
type Engine struct {
	router   *router.Router
	pipeline *middleware.Pipeline
	opts     Options

	mu     sync.Mutex
	server *Server
}

// NewEngine creates an engine with no routes and no middlewares.
func NewEngine(opts Options) *Engine {
	return &Engine{
		router:   router.New(),
		pipeline: middleware.NewPipeline(),
		opts:     opts,
	}
}

// Use appends middlewares; the first one added is the outermost.
func (e *Engine) Use(ms ...middleware.Middleware) *Engine {
	e.pipeline.Use(ms...)
	return e
}

// Router returns the engine's router for hooks and mounts.
func (e *Engine) Router() *router.Router {
	return e.router
}

// GET registers a GET route
func (e *Engine) GET(path string, h router.HandlerFunc) { e.router.Get(path, h) }

// POST registers a POST route
func (e *Engine) POST(path string, h router.HandlerFunc) { e.router.Post(path, h) }

// PUT registers a PUT route
func (e *Engine) PUT(path string, h router.HandlerFunc) { e.router.Put(path, h) }

// PATCH registers a PATCH route
func (e *Engine) PATCH(path string, h router.HandlerFunc) { e.router.Patch(path, h) }

// DELETE registers a DELETE route
func (e *Engine) DELETE(path string, h router.HandlerFunc) { e.router.Delete(path, h) }

// HEAD registers a HEAD route
func (e *Engine) HEAD(path string, h router.HandlerFunc) { e.router.Head(path, h) }

// OPTIONS registers an OPTIONS route
func (e *Engine) OPTIONS(path string, h router.HandlerFunc) { e.router.Options(path, h) }

// Mount grafts sub at path.
func (e *Engine) Mount(path string, sub *router.Router) { e.router.Mount(path, sub) }

// Handler returns the pipeline composed onto the router.
func (e *Engine) Handler() middleware.Handler {
	return e.pipeline.Then(e.router.Respond)
}

// Server returns the server, creating it on first use.
func (e *Engine) Server() *Server {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server == nil {
		e.server = NewServer(e.Handler(), e.opts)
	}
	return e.server
}

// Run listens on addr and serves until ctx is done or Shutdown is called.
func (e *Engine) Run(ctx context.Context, addr string) error {
	host, err := stream.Listen(addr, e.opts.BufferSize)
	if err != nil {
		return err
	}
	return e.Serve(ctx, host)
}

// Serve serves connections accepted from host.
func (e *Engine) Serve(ctx context.Context, host stream.Host) error {
	return e.Server().Serve(ctx, host)
}

// Shutdown stops the server and every open connection.
func (e *Engine) Shutdown() {
	e.Server().Shutdown()
}

// Stats returns the server counters.
func (e *Engine) Stats() Stats {
	return e.Server().Stats()
}
