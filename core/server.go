package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/pools"
	"github.com/searchktools/coroserve/core/stream"
)

// Options tune a Server. Zero durations disable the matching timeout.
type Options struct {
	// ReadTimeout bounds reading the first request of a connection.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing one response.
	WriteTimeout time.Duration
	// IdleTimeout bounds the wait for the next request on a kept-alive
	// connection.
	IdleTimeout time.Duration
	// MaxConnections caps concurrently served connections; Accept pauses
	// at the cap. Zero means unlimited.
	MaxConnections int
	// BufferSize is the per-connection read buffer size.
	BufferSize int
	Limits     http.Limits
	Logger     *slog.Logger
}

// DefaultOptions returns the options NewServer falls back to.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		MaxConnections: DefaultMaxConnections,
		BufferSize:     stream.DefaultBufferSize,
	}
}

// Server runs the HTTP/1.x connection loop over any stream.Host.
type Server struct {
	handler middleware.Handler
	opts    Options
	logger  *slog.Logger
	buffers *pools.BytePool

	mu     sync.Mutex
	groups map[*coro.Group]stream.Host
	closed bool

	connections atomic.Int64
	requests    atomic.Uint64
}

// NewServer creates a server answering every request with handler.
func NewServer(handler middleware.Handler, opts Options) *Server {
	if opts.BufferSize <= 0 {
		opts.BufferSize = stream.DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		opts:    opts,
		logger:  logger,
		buffers: pools.NewBytePool(),
		groups:  make(map[*coro.Group]stream.Host),
	}
}

// Serve accepts connections from host and serves each in its own
// coroutine until ctx is done or Shutdown is called. It closes host and
// waits for every connection to unwind before returning. After Shutdown it
// returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context, host stream.Host) error {
	g := coro.NewGroup(ctx)
	if s.opts.MaxConnections > 0 {
		g.SetLimit(s.opts.MaxConnections)
	}
	if !s.track(g, host) {
		host.Close()
		return ErrServerClosed
	}
	defer s.untrack(g)

	stop := context.AfterFunc(g.Context(), func() { host.Close() })
	defer stop()

	s.logger.Info("server listening", "addr", host.Addr().String())

	var acceptErr error
	for {
		st, err := host.Accept(coro.Never)
		if err != nil {
			if g.Canceled() || errors.Is(err, stream.ErrClosed) {
				break
			}
			if coro.IsTimeout(err) {
				continue
			}
			acceptErr = fmt.Errorf("core: accept: %w", err)
			break
		}
		g.Spawn(func(ctx context.Context) error {
			// failures are logged where they happen
			_ = s.ServeStream(ctx, st)
			return nil
		})
		if g.Canceled() {
			// a coroutine spawned after cancellation never runs
			st.Close()
		}
	}

	g.Cancel()
	host.Close()
	_ = g.Wait()

	if acceptErr != nil {
		return acceptErr
	}
	if s.isClosed() {
		return ErrServerClosed
	}
	return nil
}

// Shutdown stops every Serve call: listeners close, and every connection
// coroutine closes its stream and unwinds. Serve returns once they have.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	groups := make([]*coro.Group, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.Unlock()

	for _, g := range groups {
		g.Cancel()
	}
}

func (s *Server) track(g *coro.Group, host stream.Host) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.groups[g] = host
	return true
}

func (s *Server) untrack(g *coro.Group) {
	s.mu.Lock()
	delete(s.groups, g)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ServeStream runs the request/response loop on one stream and closes it
// before returning (after an upgrade, once the callback returns).
// Transport failures and malformed requests end the connection without an
// error; an error is returned only when the handler failed or ctx was
// canceled.
func (s *Server) ServeStream(ctx context.Context, st stream.Stream) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, func() { st.Close() })
	defer stop()
	defer st.Close()

	s.connections.Add(1)
	defer s.connections.Add(-1)

	buf := s.buffers.Get(s.opts.BufferSize)
	defer s.buffers.Put(buf)
	reader := http.RequestReader(st, s.opts.Limits, buf)

	timeout := s.opts.ReadTimeout
	for {
		req, err := reader.Next(coro.AfterOrNever(timeout))
		if err != nil {
			return s.readFailed(ctx, st, err)
		}
		timeout = s.opts.IdleTimeout
		s.requests.Add(1)
		req.SetContext(ctx)

		next, err := s.exchange(ctx, st, req)
		if err != nil || !next {
			return err
		}
	}
}

// exchange answers one request and reports whether the connection stays
// open for another.
func (s *Server) exchange(ctx context.Context, st stream.Stream, req *http.Request) (bool, error) {
	res, err := s.respond(req)
	if err != nil {
		if ctx.Err() != nil || coro.IsCanceled(err) {
			return false, coro.ErrCanceled
		}
		s.logger.Error("unrecovered error",
			"method", req.Method, "path", req.URI.Path, "error", err)
		s.writeError(st, http.StatusInternalServerError, req.Version)
		return false, err
	}

	res.Version = req.Version
	keepAlive := req.KeepAlive() &&
		!res.Headers.HasToken(http.HeaderConnection, "close") &&
		ctx.Err() == nil
	if res.Upgrade == nil {
		switch {
		case keepAlive && !req.Version.AtLeast(1, 1):
			res.Headers.Set(http.HeaderConnection, "keep-alive")
		case !keepAlive && req.Version.AtLeast(1, 1):
			res.Headers.Set(http.HeaderConnection, "close")
		}
	}

	omitBody := req.Method == http.MethodHead
	if err := http.WriteResponse(st, res, coro.AfterOrNever(s.opts.WriteTimeout), omitBody); err != nil {
		if stream.IsTransport(err) {
			s.logger.Debug("write failed", "error", err)
			return false, nil
		}
		// the body writer failed after the status line went out
		s.logger.Error("response body failed",
			"method", req.Method, "path", req.URI.Path, "error", err)
		return false, err
	}

	if res.Upgrade != nil {
		if err := res.Upgrade(req, st); err != nil && !stream.IsTransport(err) && !coro.IsCanceled(err) {
			s.logger.Error("upgrade failed", "path", req.URI.Path, "error", err)
			return false, fmt.Errorf("core: upgrade %s: %w", req.URI.Path, err)
		}
		return false, nil
	}
	return keepAlive, nil
}

// respond runs the handler, turning panics into errors.
func (s *Server) respond(req *http.Request) (res *http.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, &middleware.PanicError{Value: v}
		}
	}()
	res, err = s.handler(req)
	if err == nil && res == nil {
		err = errNoResponse
	}
	return res, err
}

func (s *Server) readFailed(ctx context.Context, st stream.Stream, err error) error {
	if ctx.Err() != nil {
		return coro.ErrCanceled
	}
	if errors.Is(err, stream.ErrClosed) {
		return nil
	}
	if res, ok := http.ResponseFor(err); ok {
		s.logger.Debug("malformed request", "error", err)
		res.Headers.Set(http.HeaderConnection, "close")
		if werr := http.WriteResponse(st, res, coro.AfterOrNever(s.opts.WriteTimeout), false); werr != nil {
			s.logger.Debug("error response not sent", "error", werr)
		}
		return nil
	}
	if stream.IsTransport(err) {
		s.logger.Debug("connection ended", "error", err)
		return nil
	}
	s.logger.Error("read failed", "error", err)
	return err
}

// writeError sends a bare status response and marks the connection closed.
func (s *Server) writeError(st stream.Stream, status http.Status, version http.Version) {
	res := http.Text(status, status.Reason())
	res.Version = version
	res.Headers.Set(http.HeaderConnection, "close")
	if err := http.WriteResponse(st, res, coro.AfterOrNever(s.opts.WriteTimeout), false); err != nil {
		s.logger.Debug("error response not sent", "error", err)
	}
}

// Stats returns live counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Requests:    s.requests.Load(),
		Buffers:     s.buffers.Stats(),
	}
}
