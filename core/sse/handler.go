package sse

import (
	"context"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/middleware"
	"github.com/searchktools/coroserve/core/stream"
)

// HeaderLastEventID carries the last event a reconnecting client saw.
const HeaderLastEventID = "Last-Event-ID"

// Handler answers with an event stream fed by b. Each connection becomes a
// client named by gen (UUIDs when nil). The stream starts with a
// "connected" event and ends when the client is unsubscribed, the broker
// closes, the connection is canceled or a write fails. Every event write gets the broker's
// WriteTimeout. The terminating chunk still uses the server's response
// deadline, so a stream that outlived it ends by closing the connection,
// which EventSource clients treat as a cue to reconnect.
func (b *Broker) Handler(gen middleware.IDGenerator) func(*http.Request) (*http.Response, error) {
	if gen == nil {
		gen = middleware.UUIDGenerator()
	}
	return func(req *http.Request) (*http.Response, error) {
		if !req.Version.AtLeast(1, 1) {
			return nil, http.ErrVersionNotSupported
		}
		if b.ClientCount() >= b.opts.MaxClients {
			return nil, http.ErrServiceUnavailable.Wrap(ErrTooManyClients)
		}

		id, lastID := gen(), req.Headers.Get(HeaderLastEventID)
		res := http.Stream(http.StatusOK, func(w stream.Writer, _ coro.Deadline) error {
			// subscribing here leaves nothing behind when the body is
			// never written
			c, err := b.Subscribe(id, lastID)
			if err != nil {
				return err
			}
			defer b.Unsubscribe(c)
			return b.pump(req.Context(), c, w)
		})
		res.Headers.Set(http.HeaderContentType, "text/event-stream")
		res.Headers.Set("Cache-Control", "no-cache")
		res.Headers.Set("X-Accel-Buffering", "no")
		return res, nil
	}
}

func (b *Broker) pump(ctx context.Context, c *Client, w stream.Writer) error {
	write := func(p []byte) error {
		deadline := coro.After(b.opts.WriteTimeout)
		if err := w.Write(p, deadline); err != nil {
			return err
		}
		return w.Flush(deadline)
	}

	hello := &Event{Event: "connected", Data: "client_id:" + c.ID, Retry: b.opts.Retry}
	if err := write(hello.Format()); err != nil {
		return err
	}

	wait := coro.Never
	for {
		if b.opts.KeepAlive > 0 {
			wait = coro.After(b.opts.KeepAlive)
		}
		e, ok, err := c.Next(ctx, wait)
		switch {
		case coro.IsCanceled(err):
			return nil
		case coro.IsTimeout(err):
			err = write(Comment("keepalive"))
		case err != nil:
			return err
		case !ok:
			return nil
		default:
			err = write(e.Format())
		}
		if err != nil {
			return err
		}
	}
}
