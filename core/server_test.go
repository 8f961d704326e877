package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/stream"
)

func quietOptions() Options {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func foo(*http.Request) (*http.Response, error) {
	return http.NewResponse(http.StatusOK, http.StringBody("foo")), nil
}

func serveMemory(t *testing.T, handler middleware.Handler, input string) (*stream.Memory, error) {
	t.Helper()
	mem := stream.NewMemory([]byte(input))
	err := NewServer(handler, quietOptions()).ServeStream(context.Background(), mem)
	return mem, err
}

func TestServeStreamFixedBody(t *testing.T) {
	mem, err := serveMemory(t, foo, "GET / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nfoo", string(mem.Output()))
	assert.True(t, mem.Closed())
}

func TestServeStreamChunkedBody(t *testing.T) {
	handler := func(*http.Request) (*http.Response, error) {
		return http.Stream(http.StatusOK, func(w stream.Writer, deadline coro.Deadline) error {
			if err := w.Write([]byte("foo"), deadline); err != nil {
				return err
			}
			return w.Flush(deadline)
		}), nil
	}
	mem, err := serveMemory(t, handler, "GET / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nfoo\r\n0\r\n\r\n", string(mem.Output()))
}

func TestServeStreamConnectionClose(t *testing.T) {
	calls := 0
	handler := func(req *http.Request) (*http.Response, error) {
		calls++
		return foo(req)
	}
	mem, err := serveMemory(t, handler,
		"GET / HTTP/1.1\r\nConnection: close\r\n\r\nGET /second HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 3\r\n\r\nfoo", string(mem.Output()))
	assert.True(t, mem.Closed())
}

func TestServeStreamKeepAliveRules(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "1.1 pipelined",
			input: "GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n/a" +
				"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n/b",
		},
		{
			name:  "1.0 closes",
			input: "GET /a HTTP/1.0\r\n\r\nGET /b HTTP/1.0\r\n\r\n",
			want:  "HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\n/a",
		},
		{
			name:  "1.0 keep-alive",
			input: "GET /a HTTP/1.0\r\nConnection: keep-alive\r\n\r\nGET /b HTTP/1.0\r\n\r\n",
			want: "HTTP/1.0 200 OK\r\nConnection: keep-alive\r\nContent-Length: 2\r\n\r\n/a" +
				"HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\n/b",
		},
	}
	echoPath := func(req *http.Request) (*http.Response, error) {
		return http.NewResponse(http.StatusOK, http.StringBody(req.URI.Path)), nil
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, err := serveMemory(t, echoPath, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(mem.Output()))
			assert.True(t, mem.Closed())
		})
	}
}

func TestServeStreamHead(t *testing.T) {
	mem, err := serveMemory(t, foo, "HEAD / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\n", string(mem.Output()))
}

func TestServeStreamMalformedRequest(t *testing.T) {
	called := false
	handler := func(req *http.Request) (*http.Response, error) {
		called = true
		return foo(req)
	}
	tests := []struct {
		input  string
		status string
	}{
		{"BROKEN\r\n\r\n", "HTTP/1.1 400 Bad Request\r\n"},
		{"GET / HTTP/2.0\r\n\r\n", "HTTP/1.1 505 HTTP Version Not Supported\r\n"},
		{"POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", "HTTP/1.1 501 Not Implemented\r\n"},
		{"GET / HTTP/1.1\r\nHost", "HTTP/1.1 400 Bad Request\r\n"},
	}
	for _, tt := range tests {
		mem, err := serveMemory(t, handler, tt.input)
		require.NoError(t, err, tt.input)
		out := string(mem.Output())
		assert.Contains(t, out, tt.status, tt.input)
		assert.Contains(t, out, "Connection: close\r\n", tt.input)
		assert.True(t, mem.Closed())
	}
	assert.False(t, called)
}

func TestServeStreamHandlerFailure(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		handler middleware.Handler
		check   func(t *testing.T, err error)
	}{
		{
			name:    "error",
			handler: func(*http.Request) (*http.Response, error) { return nil, boom },
			check:   func(t *testing.T, err error) { assert.ErrorIs(t, err, boom) },
		},
		{
			name:    "panic",
			handler: func(*http.Request) (*http.Response, error) { panic("kaput") },
			check: func(t *testing.T, err error) {
				var pe *middleware.PanicError
				assert.ErrorAs(t, err, &pe)
			},
		},
		{
			name:    "no response",
			handler: func(*http.Request) (*http.Response, error) { return nil, nil },
			check:   func(t *testing.T, err error) { assert.ErrorIs(t, err, errNoResponse) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, err := serveMemory(t, tt.handler, "GET / HTTP/1.1\r\n\r\nGET / HTTP/1.1\r\n\r\n")
			tt.check(t, err)
			out := string(mem.Output())
			assert.Equal(t,
				"HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain; charset=utf-8\r\n"+
					"Connection: close\r\nContent-Length: 21\r\n\r\nInternal Server Error", out)
			assert.True(t, mem.Closed())
		})
	}
}

func TestServeStreamUpgrade(t *testing.T) {
	var upgraded stream.Stream
	handler := func(*http.Request) (*http.Response, error) {
		res := http.NewResponse(http.StatusSwitchingProtocols, http.Body{})
		res.Headers.Set(http.HeaderConnection, "Upgrade")
		res.Headers.Set(http.HeaderUpgrade, "echo")
		res.Upgrade = func(req *http.Request, s stream.Stream) error {
			upgraded = s
			if err := s.Write([]byte("raw"), coro.Never); err != nil {
				return err
			}
			return s.Flush(coro.Never)
		}
		return res, nil
	}
	mem, err := serveMemory(t, handler, "GET /ws HTTP/1.1\r\nUpgrade: echo\r\nConnection: Upgrade\r\n\r\n")
	require.NoError(t, err)
	assert.Same(t, mem, upgraded)
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: echo\r\n\r\nraw", string(mem.Output()))
	assert.True(t, mem.Closed())
}

func roundTrip(t *testing.T, client *stream.Conn, responses *http.MessageReader[*http.Response], target string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, http.Body{})
	require.NoError(t, err)
	require.NoError(t, http.WriteRequest(client, req, coro.After(time.Second)))
	res, err := responses.Next(coro.After(time.Second))
	require.NoError(t, err)
	return res
}

func TestServeStreamKeepAliveOverPipe(t *testing.T) {
	server, client := stream.Pipe()
	srv := NewServer(func(req *http.Request) (*http.Response, error) {
		return http.NewResponse(http.StatusOK, http.StringBody(req.URI.Path)), nil
	}, quietOptions())

	done := make(chan error, 1)
	go func() { done <- srv.ServeStream(context.Background(), server) }()

	responses, _ := http.ResponseReader(client, http.Limits{}, nil)
	res := roundTrip(t, client, responses, "/one")
	assert.Equal(t, "/one", string(res.Body.Bytes()))
	assert.False(t, server.Closed(), "1.1 connections stay open")

	res = roundTrip(t, client, responses, "/two")
	assert.Equal(t, "/two", string(res.Body.Bytes()))
	assert.Equal(t, uint64(2), srv.Stats().Requests)

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeStream did not return after the peer closed")
	}
	assert.True(t, server.Closed())
}

func TestServeStreamCancellation(t *testing.T) {
	server, client := stream.Pipe()
	defer client.Close()
	srv := NewServer(foo, quietOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeStream(ctx, server) }()

	cancel()
	select {
	case err := <-done:
		assert.True(t, coro.IsCanceled(err))
	case <-time.After(time.Second):
		t.Fatal("ServeStream ignored cancellation")
	}
	assert.True(t, server.Closed())
}

func TestServeStreamIdleTimeout(t *testing.T) {
	server, client := stream.Pipe()
	defer client.Close()
	opts := quietOptions()
	opts.ReadTimeout = 20 * time.Millisecond

	err := NewServer(foo, opts).ServeStream(context.Background(), server)
	assert.NoError(t, err, "timeouts end the connection quietly")
	assert.True(t, server.Closed())
}

func TestServeAndShutdown(t *testing.T) {
	host, err := stream.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)

	engine := NewEngine(quietOptions())
	engine.Use(middleware.Recovery(nil))
	engine.GET("/hello/:name", func(req *http.Request) (*http.Response, error) {
		name, _ := req.Param("name")
		return http.Text(http.StatusOK, "hello "+name), nil
	})

	done := make(chan error, 1)
	go func() { done <- engine.Serve(context.Background(), host) }()

	conn, err := stream.Dial(host.Addr().String(), coro.After(time.Second), 0)
	require.NoError(t, err)
	defer conn.Close()
	responses, _ := http.ResponseReader(conn, http.Limits{}, nil)

	res := roundTrip(t, conn, responses, "/hello/gopher")
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "hello gopher", string(res.Body.Bytes()))

	res = roundTrip(t, conn, responses, "/missing")
	assert.Equal(t, http.StatusNotFound, res.Status)

	require.Eventually(t, func() bool { return engine.Stats().Connections == 1 }, time.Second, 5*time.Millisecond)
	engine.Shutdown()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	assert.Zero(t, engine.Stats().Connections)

	// the kept-alive connection was closed by the server
	_, err = responses.Next(coro.After(time.Second))
	assert.Error(t, err)

	assert.ErrorIs(t, engine.Serve(context.Background(), host), ErrServerClosed)
}

func TestStatsText(t *testing.T) {
	s := Stats{Connections: 2, Requests: 5}
	assert.Contains(t, s.String(), "Requests served:  5")
	assert.Contains(t, s.JSON(), `"requests": 5`)
}
