package coro

import (
	"context"
	"sync"
	"time"
)

// Sleep suspends the calling coroutine for at least d.
func Sleep(ctx context.Context, d time.Duration) error {
	return Wake(ctx, After(d))
}

// Wake suspends the calling coroutine until deadline. It never returns
// early; it returns ErrCanceled if ctx is canceled first. Waking at Never
// blocks until cancellation.
func Wake(ctx context.Context, deadline Deadline) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return canceled(ctx)
	}
	if deadline.Expired() {
		return nil
	}
	fire, stop := deadline.timer()
	defer stop()
	select {
	case <-fire:
		// time.Timer may fire a hair early relative to our own clock.
		for !deadline.Expired() {
			Yield()
		}
		return nil
	case <-ctx.Done():
		return canceled(ctx)
	}
}

// Timer sends the firing deadline on C exactly once, unless stopped first.
type Timer struct {
	C *Channel[Deadline]

	mu    sync.Mutex
	timer *time.Timer
	state int
}

const (
	timerPending = iota
	timerFired
	timerStopped
)

// NewTimer creates a timer that fires at deadline. A Never timer only
// stops.
func NewTimer(deadline Deadline) *Timer {
	t := &Timer{C: NewChannel[Deadline](1)}
	if deadline.IsNever() {
		return t
	}
	t.timer = time.AfterFunc(deadline.Remaining(), t.fire)
	return t
}

func (t *Timer) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != timerPending {
		return
	}
	t.state = timerFired
	t.C.TrySend(Now())
}

// Stop prevents the timer from firing. It returns false if the timer had
// already fired or was already stopped.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != timerPending {
		return false
	}
	t.state = timerStopped
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Ticker sends the current time on C after every period. A slow receiver
// misses ticks rather than accumulating them.
type Ticker struct {
	C *Channel[Deadline]

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

// NewTicker starts a ticker with the given period, which must be positive.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		panic("coro: non-positive ticker period")
	}
	t := &Ticker{
		C:      NewChannel[Deadline](1),
		ticker: time.NewTicker(period),
		stop:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	for {
		select {
		case <-t.ticker.C:
			select {
			case <-t.stop:
				return
			default:
			}
			t.C.TrySend(Now())
		case <-t.stop:
			return
		}
	}
}

// Stop halts future ticks. A tick already buffered in C is still
// delivered.
func (t *Ticker) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}
