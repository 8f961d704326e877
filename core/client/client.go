// Package client sends HTTP/1.x requests over streams, reusing kept-alive
// connections, with an optional client-side middleware chain.
package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/stream"
)

var (
	ErrClientClosed      = errors.New("client: closed")
	ErrUnsupportedScheme = errors.New("client: unsupported scheme")
	ErrNoHost            = errors.New("client: request has no host")
)

// DefaultTimeout bounds one exchange when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// DefaultMaxIdlePerHost is how many idle connections are kept per address.
const DefaultMaxIdlePerHost = 2

// Dialer opens a stream to addr ("host:port").
type Dialer func(addr string, deadline coro.Deadline) (stream.Stream, error)

// TCPDialer dials TCP with the given write buffer size.
func TCPDialer(bufferSize int) Dialer {
	return func(addr string, deadline coro.Deadline) (stream.Stream, error) {
		return stream.Dial(addr, deadline, bufferSize)
	}
}

// Client is safe for concurrent use; each exchange holds its connection
// exclusively.
type Client struct {
	dial           Dialer
	timeout        time.Duration
	limits         http.Limits
	maxIdlePerHost int
	pipeline       *middleware.Pipeline
	handler        middleware.Handler

	mu     sync.Mutex
	idle   map[string][]*conn
	closed bool
}

type conn struct {
	s      stream.Stream
	reader *http.MessageReader[*http.Response]
	parser *http.ResponseParser
	reused bool
}

// Option configures a client
type Option func(*Client)

// WithDialer replaces TCP dialing.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithTimeout bounds every exchange, connect included. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLimits sets response parsing limits.
func WithLimits(l http.Limits) Option {
	return func(c *Client) { c.limits = l }
}

// WithMaxIdlePerHost caps pooled idle connections per address. Zero
// disables reuse.
func WithMaxIdlePerHost(n int) Option {
	return func(c *Client) { c.maxIdlePerHost = n }
}

// WithMiddleware appends client middlewares around the wire exchange.
func WithMiddleware(ms ...middleware.Middleware) Option {
	return func(c *Client) { c.pipeline.Use(ms...) }
}

// New creates a client.
func New(opts ...Option) *Client {
	c := &Client{
		dial:           TCPDialer(0),
		timeout:        DefaultTimeout,
		maxIdlePerHost: DefaultMaxIdlePerHost,
		pipeline:       middleware.NewPipeline(),
		idle:           make(map[string][]*conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handler = c.pipeline.Then(c.Send)
	return c
}

// Do runs req through the client middlewares and sends it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.handler(req)
}

// Get sends a GET for an absolute URL.
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, http.Body{})
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Send performs one exchange without middlewares. The response body is
// fully read. When a pooled connection turns out to be stale, an idempotent
// request is sent once more, unless its body was a reader the failed
// attempt already consumed.
func (c *Client) Send(req *http.Request) (*http.Response, error) {
	addr, err := address(&req.URI)
	if err != nil {
		return nil, err
	}
	if u := req.URI.User; u != nil && !req.Headers.Has(http.HeaderAuthorization) {
		req.Headers.Set(http.HeaderAuthorization, middleware.BasicAuthorization(u.Username, u.Password))
	}
	deadline := coro.AfterOrNever(c.timeout)

	retry := idempotent(req.Method) && req.Body.Kind() != http.ReaderBody
	for {
		cn, err := c.acquire(addr, deadline)
		if err != nil {
			return nil, err
		}
		res, err := c.exchange(cn, req, deadline)
		if err != nil {
			cn.s.Close()
			if retry && cn.reused && stream.IsTransport(err) && !coro.IsTimeout(err) {
				retry = false
				continue
			}
			return nil, err
		}
		if req.KeepAlive() && res.KeepAlive() && res.Upgrade == nil {
			c.release(addr, cn)
		} else {
			cn.s.Close()
		}
		return res, nil
	}
}

func (c *Client) exchange(cn *conn, req *http.Request, deadline coro.Deadline) (*http.Response, error) {
	cn.parser.ExpectHead(req.Method == http.MethodHead)
	if err := http.WriteRequest(cn.s, req, deadline); err != nil {
		return nil, fmt.Errorf("client: write %s %s: %w", req.Method, req.URI.Path, err)
	}
	res, err := cn.reader.Next(deadline)
	if err != nil {
		return nil, fmt.Errorf("client: read response to %s %s: %w", req.Method, req.URI.Path, err)
	}
	return res, nil
}

func (c *Client) acquire(addr string, deadline coro.Deadline) (*conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	for pool := c.idle[addr]; len(pool) > 0; pool = c.idle[addr] {
		cn := pool[len(pool)-1]
		c.idle[addr] = pool[:len(pool)-1]
		if cn.s.Closed() {
			continue
		}
		c.mu.Unlock()
		cn.reused = true
		return cn, nil
	}
	c.mu.Unlock()

	s, err := c.dial(addr, deadline)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	reader, parser := http.ResponseReader(s, c.limits, nil)
	return &conn{s: s, reader: reader, parser: parser}, nil
}

func (c *Client) release(addr string, cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.idle[addr]) >= c.maxIdlePerHost {
		cn.s.Close()
		return
	}
	c.idle[addr] = append(c.idle[addr], cn)
}

// Idle returns the number of pooled connections.
func (c *Client) Idle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, pool := range c.idle {
		n += len(pool)
	}
	return n
}

// Close closes idle connections and fails later requests.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for addr, pool := range c.idle {
		for _, cn := range pool {
			cn.s.Close()
		}
		delete(c.idle, addr)
	}
	return nil
}

func address(u *http.URI) (string, error) {
	if u.Host == "" {
		return "", ErrNoHost
	}
	port := u.Port
	switch u.Scheme {
	case "", "http":
		if port == 0 {
			port = 80
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(u.Host, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func idempotent(m http.Method) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	}
	return false
}
