package coro

import (
	"context"
	"sync"
)

// Channel is a typed FIFO with a fixed capacity. Capacity 0 is a
// rendezvous: Send and Receive block until paired.
//
// Unlike a bare Go channel, closing is idempotent, sending on a closed
// Channel is a silent no-op, and receiving from a closed Channel drains the
// buffered values and then returns ok == false without blocking.
type Channel[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once

	// mu orders Close against Send: once Close returns, no Send can
	// enqueue a value.
	mu     sync.RWMutex
	closed bool
}

// NewChannel creates a channel with the given capacity.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 0 {
		panic("coro: negative channel capacity")
	}
	return &Channel[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Send delivers v, blocking while the buffer is full (or, for capacity 0,
// until a receiver takes it). It returns ErrTimeout when the deadline
// passes and ErrCanceled when ctx is canceled first. Sending on a closed
// channel returns nil and drops v.
func (c *Channel[T]) Send(ctx context.Context, v T, deadline Deadline) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case c.ch <- v:
		return nil
	default:
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return canceled(ctx)
	}
	if deadline.Expired() {
		return ErrTimeout
	}

	timeout, stop := deadline.timer()
	defer stop()

	select {
	case c.ch <- v:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return canceled(ctx)
	case <-timeout:
		return ErrTimeout
	}
}

// TrySend delivers v only if that does not block. It reports whether v
// was accepted; a closed channel never accepts.
func (c *Channel[T]) TrySend(v T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Receive takes the next value. ok is false when the channel is closed and
// drained; in that case Receive never blocks.
func (c *Channel[T]) Receive(ctx context.Context, deadline Deadline) (v T, ok bool, err error) {
	select {
	case v = <-c.ch:
		return v, true, nil
	default:
	}
	select {
	case <-c.done:
		v, ok = c.drain()
		return v, ok, nil
	default:
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return v, false, canceled(ctx)
	}
	if deadline.Expired() {
		return v, false, ErrTimeout
	}

	timeout, stop := deadline.timer()
	defer stop()

	select {
	case v = <-c.ch:
		return v, true, nil
	case <-c.done:
		v, ok = c.drain()
		return v, ok, nil
	case <-ctx.Done():
		return v, false, canceled(ctx)
	case <-timeout:
		return v, false, ErrTimeout
	}
}

// TryReceive takes a buffered value if one is available.
func (c *Channel[T]) TryReceive() (v T, ok bool) {
	select {
	case v = <-c.ch:
		return v, true
	default:
		return v, false
	}
}

func (c *Channel[T]) drain() (v T, ok bool) {
	select {
	case v = <-c.ch:
		return v, true
	default:
		return v, false
	}
}

// Close closes the channel. Blocked senders return without delivering;
// blocked receivers drain what is buffered and then see ok == false.
func (c *Channel[T]) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered values.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.ch)
}
