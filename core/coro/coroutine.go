// Package coro is the concurrency substrate the server is built on:
// coroutines, cancellation groups, typed channels with close semantics,
// select, sleeps, timers and tickers. Every blocking operation takes an
// explicit Deadline and a context carrying group cancellation; a nil
// context never cancels.
//
// Coroutines are goroutines. The runtime scheduler multiplexes them and
// parks them at channel operations, sleeps and network I/O, which are the
// same suspension points a cooperative scheduler would use.
package coro

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Spawn runs fn as a new coroutine outside of any group and returns
// immediately.
func Spawn(fn func()) {
	go fn()
}

// Yield lets other runnable coroutines run.
func Yield() {
	runtime.Gosched()
}

// Group is a cancellation domain. Coroutines spawned through it receive the
// group context; Cancel marks all of them for termination, which they
// observe at their next suspension point as ErrCanceled.
type Group struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	eg     errgroup.Group
	active atomic.Int64
}

// NewGroup creates a group whose lifetime is bounded by parent.
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// SetLimit bounds the number of live coroutines in the group. Spawn blocks
// while the limit is reached. It must be called before the first Spawn.
func (g *Group) SetLimit(n int) {
	g.eg.SetLimit(n)
}

// Context returns the group context; it is done once the group is canceled.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Spawn schedules fn under the group. Cancellation errors returned by fn
// are not reported by Wait.
func (g *Group) Spawn(fn func(ctx context.Context) error) {
	g.active.Add(1)
	g.eg.Go(g.wrap(fn))
}

// TrySpawn is Spawn that gives up instead of blocking when the limit is
// reached.
func (g *Group) TrySpawn(fn func(ctx context.Context) error) bool {
	g.active.Add(1)
	if !g.eg.TryGo(g.wrap(fn)) {
		g.active.Add(-1)
		return false
	}
	return true
}

func (g *Group) wrap(fn func(ctx context.Context) error) func() error {
	return func() error {
		defer g.active.Add(-1)
		if err := g.ctx.Err(); err != nil {
			return nil
		}
		if err := fn(g.ctx); err != nil && !IsCanceled(err) {
			return err
		}
		return nil
	}
}

// Cancel requests termination of every coroutine in the group.
func (g *Group) Cancel() {
	g.cancel(ErrCanceled)
}

// Canceled reports whether Cancel was called or the parent is done.
func (g *Group) Canceled() bool {
	return g.ctx.Err() != nil
}

// Active returns the number of coroutines that have not returned yet.
func (g *Group) Active() int {
	return int(g.active.Load())
}

// Wait blocks until every coroutine in the group has returned and reports
// the first non-cancellation error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
