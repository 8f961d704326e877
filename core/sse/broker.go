// Package sse streams Server-Sent Events to subscribers over chunked
// response bodies.
package sse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/coroserve/core/coro"
)

var (
	ErrBrokerClosed   = errors.New("sse: broker closed")
	ErrTooManyClients = errors.New("sse: max clients reached")
	ErrDuplicateID    = errors.New("sse: client id in use")
	ErrNoClient       = errors.New("sse: no such client")
	ErrClientBusy     = errors.New("sse: client queue full")
)

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// Format encodes e in the text/event-stream format. Multi-line data is
// sent as one data field per line.
func (e *Event) Format() []byte {
	var b []byte
	if e.ID != "" {
		b = append(b, "id: "...)
		b = append(b, e.ID...)
		b = append(b, '\n')
	}
	if e.Event != "" {
		b = append(b, "event: "...)
		b = append(b, e.Event...)
		b = append(b, '\n')
	}
	if e.Retry > 0 {
		b = append(b, "retry: "...)
		b = strconv.AppendInt(b, int64(e.Retry), 10)
		b = append(b, '\n')
	}
	for line := range strings.SplitSeq(e.Data, "\n") {
		b = append(b, "data: "...)
		b = append(b, line...)
		b = append(b, '\n')
	}
	return append(b, '\n')
}

// Comment encodes a comment line, which clients ignore.
func Comment(text string) []byte {
	return []byte(": " + text + "\n\n")
}

// Client is one subscriber's queue.
type Client struct {
	ID     string
	LastID string
	events *coro.Channel[*Event]
}

// NewClient creates a client whose queue holds up to bufferSize events.
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Client{ID: id, events: coro.NewChannel[*Event](bufferSize)}
}

// Send queues e without blocking and reports whether it was accepted.
func (c *Client) Send(e *Event) bool {
	return c.events.TrySend(e)
}

// Next waits for the next event. ok is false once the client is closed
// and drained.
func (c *Client) Next(ctx context.Context, deadline coro.Deadline) (e *Event, ok bool, err error) {
	return c.events.Receive(ctx, deadline)
}

// Close ends the client's stream after the queued events.
func (c *Client) Close() {
	c.events.Close()
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	return c.events.Closed()
}

const (
	DefaultMaxClients   = 10000
	DefaultBufferSize   = 100
	DefaultKeepAlive    = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Options tune a Broker. Zero values take the defaults; a negative
// KeepAlive disables keep-alive comments.
type Options struct {
	MaxClients   int
	BufferSize   int
	KeepAlive    time.Duration
	WriteTimeout time.Duration
	// Retry, in milliseconds, is sent to clients as their reconnect delay.
	Retry int
}

// Broker fans published events out to its clients. Event IDs are
// "<namespace>-<n>".
type Broker struct {
	namespace string
	opts      Options
	nextID    atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	totalClients atomic.Int64
	published    atomic.Int64
	dropped      atomic.Int64
}

// BrokerStats is a snapshot of broker counters.
type BrokerStats struct {
	Namespace string `json:"namespace"`
	Clients   int    `json:"current_clients"`
	Total     int64  `json:"total_clients"`
	Published int64  `json:"messages_sent"`
	Dropped   int64  `json:"messages_dropped"`
	LastID    uint64 `json:"event_id"`
}

// NewBroker creates a broker
func NewBroker(namespace string, opts Options) *Broker {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Broker{
		namespace: namespace,
		opts:      opts,
		clients:   make(map[string]*Client),
	}
}

// Subscribe registers a new client.
func (b *Broker) Subscribe(id, lastID string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		return nil, ErrBrokerClosed
	case len(b.clients) >= b.opts.MaxClients:
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, b.opts.MaxClients)
	}
	if _, ok := b.clients[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c := NewClient(id, b.opts.BufferSize)
	c.LastID = lastID
	b.clients[id] = c
	b.totalClients.Add(1)
	return c, nil
}

// Unsubscribe removes and closes c.
func (b *Broker) Unsubscribe(c *Client) {
	b.mu.Lock()
	if b.clients[c.ID] == c {
		delete(b.clients, c.ID)
	}
	b.mu.Unlock()
	c.Close()
}

func (b *Broker) newEvent(eventType, data string) *Event {
	return &Event{
		ID:    b.namespace + "-" + strconv.FormatUint(b.nextID.Add(1), 10),
		Event: eventType,
		Data:  data,
	}
}

// Publish sends an event to every client. Clients with a full queue miss
// it.
func (b *Broker) Publish(eventType, data string) *Event {
	e := b.newEvent(eventType, data)
	b.Broadcast(e)
	return e
}

// Broadcast sends e as is to every client.
func (b *Broker) Broadcast(e *Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if !c.Send(e) {
			b.dropped.Add(1)
		}
	}
}

// PublishTo sends an event to one client.
func (b *Broker) PublishTo(clientID, eventType, data string) error {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoClient, clientID)
	}
	if !c.Send(b.newEvent(eventType, data)) {
		b.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrClientBusy, clientID)
	}
	b.published.Add(1)
	return nil
}

// ClientCount returns the number of subscribed clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stats returns the broker counters.
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Namespace: b.namespace,
		Clients:   b.ClientCount(),
		Total:     b.totalClients.Load(),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		LastID:    b.nextID.Load(),
	}
}

// Close ends every client stream and rejects new subscribers.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	clients := b.clients
	b.clients = make(map[string]*Client)
	b.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
