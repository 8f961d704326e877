package sse

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/coroserve/core"
	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/stream"
)

func TestFormatEvent(t *testing.T) {
	e := &Event{ID: "123", Event: "message", Data: "Hello,\nWorld!", Retry: 5000}
	assert.Equal(t, "id: 123\nevent: message\nretry: 5000\ndata: Hello,\ndata: World!\n\n", string(e.Format()))

	assert.Equal(t, ": ping\n\n", string(Comment("ping")))
}

func TestBrokerPublish(t *testing.T) {
	b := NewBroker("news", Options{BufferSize: 1})
	c1, err := b.Subscribe("a", "")
	require.NoError(t, err)
	c2, err := b.Subscribe("b", "news-7")
	require.NoError(t, err)
	assert.Equal(t, "news-7", c2.LastID)

	_, err = b.Subscribe("a", "")
	assert.ErrorIs(t, err, ErrDuplicateID)

	e := b.Publish("update", "x")
	assert.Equal(t, "news-1", e.ID)

	got, ok, err := c1.Next(context.Background(), coro.Never)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, e, got)

	// c2 still holds news-1, so its queue of one is full
	b.Publish("update", "y")
	assert.ErrorIs(t, b.PublishTo("b", "direct", "z"), ErrClientBusy)
	assert.ErrorIs(t, b.PublishTo("nobody", "direct", "z"), ErrNoClient)

	stats := b.Stats()
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, uint64(3), stats.LastID)

	b.Unsubscribe(c1)
	assert.True(t, c1.Closed())
	assert.Equal(t, 1, b.ClientCount())

	b.Close()
	assert.True(t, c2.Closed())
	_, err = b.Subscribe("c", "")
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestBrokerMaxClients(t *testing.T) {
	b := NewBroker("n", Options{MaxClients: 1})
	_, err := b.Subscribe("a", "")
	require.NoError(t, err)
	_, err = b.Subscribe("b", "")
	assert.ErrorIs(t, err, ErrTooManyClients)

	req, err := http.NewRequest(http.MethodGet, "/events", http.Body{})
	require.NoError(t, err)
	_, err = b.Handler(nil)(req)
	assert.ErrorIs(t, err, http.ErrServiceUnavailable)
}

type session struct {
	client *stream.Conn
	cancel context.CancelFunc
	done   chan error
}

// serve runs the broker's handler behind a server on one end of a pipe
// and returns the other end with the request already sent.
func serve(t *testing.T, b *Broker) *session {
	t.Helper()
	opts := core.DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e := core.NewEngine(opts)
	e.GET("/events", b.Handler(middleware.CounterGenerator()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	server, client := stream.Pipe()
	s := &session{client: client, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- e.Server().ServeStream(ctx, server) }()

	deadline := coro.After(time.Second)
	require.NoError(t, client.Write([]byte("GET /events HTTP/1.1\r\nHost: x\r\n\r\n"), deadline))
	require.NoError(t, client.Flush(deadline))
	return s
}

// readUntil reads from c until the accumulated output contains want.
func readUntil(t *testing.T, c *stream.Conn, seen *strings.Builder, want string) {
	t.Helper()
	buf := make([]byte, 1024)
	deadline := coro.After(2 * time.Second)
	for !strings.Contains(seen.String(), want) {
		p, err := c.Read(buf, deadline)
		require.NoError(t, err, "waiting for %q, got %q", want, seen.String())
		seen.Write(p)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	b := NewBroker("news", Options{KeepAlive: -1, Retry: 3000})
	client := serve(t, b).client

	var seen strings.Builder
	readUntil(t, client, &seen, "event: connected\n")
	head := seen.String()
	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, head, "Content-Type: text/event-stream\r\n")
	assert.Contains(t, head, "Transfer-Encoding: chunked\r\n")
	readUntil(t, client, &seen, "data: client_id:1\n\n")
	assert.Contains(t, seen.String(), "retry: 3000\n")
	assert.Equal(t, 1, b.ClientCount())

	b.Publish("update", "a\nb")
	readUntil(t, client, &seen, "id: news-1\nevent: update\ndata: a\ndata: b\n\n")

	require.NoError(t, b.PublishTo("1", "direct", "hi"))
	readUntil(t, client, &seen, "event: direct\ndata: hi\n\n")

	// closing the broker ends the chunked body
	b.Close()
	readUntil(t, client, &seen, "0\r\n\r\n")
	assert.Zero(t, b.ClientCount())
}

func TestHandlerKeepAlive(t *testing.T) {
	b := NewBroker("n", Options{KeepAlive: 20 * time.Millisecond})
	client := serve(t, b).client

	var seen strings.Builder
	readUntil(t, client, &seen, ": keepalive\n\n")
}

func TestHandlerUnsubscribesOnDisconnect(t *testing.T) {
	b := NewBroker("n", Options{KeepAlive: 10 * time.Millisecond})
	client := serve(t, b).client

	var seen strings.Builder
	readUntil(t, client, &seen, "event: connected\n")
	client.Close()

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandlerEndsWhenConnectionCanceled(t *testing.T) {
	b := NewBroker("n", Options{KeepAlive: -1})
	s := serve(t, b)

	var seen strings.Builder
	readUntil(t, s.client, &seen, "event: connected\n")
	require.Equal(t, 1, b.ClientCount())

	s.cancel()
	select {
	case err := <-s.done:
		assert.True(t, err == nil || coro.IsCanceled(err), "unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("ServeStream still running after cancellation")
	}
	assert.Zero(t, b.ClientCount())
}

func TestHandlerRejectsHTTP10(t *testing.T) {
	b := NewBroker("n", Options{})
	req, err := http.NewRequest(http.MethodGet, "/events", http.Body{})
	require.NoError(t, err)
	req.Version = http.Version10
	_, err = b.Handler(nil)(req)
	assert.ErrorIs(t, err, http.ErrVersionNotSupported)
	assert.Zero(t, b.ClientCount())
}
