package coro

import (
	"cmp"
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
)

var errNoCases = errors.New("coro: select without cases would block forever")

// Case is one clause of a Select.
type Case interface {
	selectCases() []reflect.SelectCase
	fire(index int, recv reflect.Value, recvOK bool)
	// sendLock is the lock a sending clause holds while it may enqueue.
	sendLock() *sync.RWMutex
}

type sendCase[T any] struct {
	c      *Channel[T]
	v      T
	fn     func(sent bool)
	closed bool
}

// SendCase builds a clause that sends v on c. fn runs when the clause is
// chosen; sent is false when the channel turned out to be closed.
func (c *Channel[T]) SendCase(v T, fn func(sent bool)) Case {
	return &sendCase[T]{c: c, v: v, fn: fn}
}

// selectCases runs with the channel's read lock held by Select.
func (s *sendCase[T]) selectCases() []reflect.SelectCase {
	done := reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.c.done)}
	s.closed = s.c.closed
	if s.closed {
		return []reflect.SelectCase{done, done}
	}
	return []reflect.SelectCase{
		{Dir: reflect.SelectSend, Chan: reflect.ValueOf(s.c.ch), Send: reflect.ValueOf(&s.v).Elem()},
		done,
	}
}

func (s *sendCase[T]) sendLock() *sync.RWMutex { return &s.c.mu }

func (s *sendCase[T]) fire(index int, _ reflect.Value, _ bool) {
	if s.fn == nil {
		return
	}
	s.fn(index == 0 && !s.closed)
}

type recvCase[T any] struct {
	c  *Channel[T]
	fn func(v T, ok bool)
}

// ReceiveCase builds a clause that receives from c. A closed channel is
// always ready: fn gets the next buffered value or ok == false.
func (c *Channel[T]) ReceiveCase(fn func(v T, ok bool)) Case {
	return &recvCase[T]{c: c, fn: fn}
}

func (r *recvCase[T]) selectCases() []reflect.SelectCase {
	return []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.c.ch)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.c.done)},
	}
}

func (r *recvCase[T]) sendLock() *sync.RWMutex { return nil }

func (r *recvCase[T]) fire(index int, recv reflect.Value, recvOK bool) {
	var (
		v  T
		ok bool
	)
	if index == 0 && recvOK {
		if x := recv.Interface(); x != nil {
			v = x.(T)
		}
		ok = true
	} else {
		v, ok = r.c.drain()
	}
	if r.fn != nil {
		r.fn(v, ok)
	}
}

// Select blocks until exactly one of the cases can proceed, performs it
// and runs its callback. When several are ready one is picked at random.
// It fails with ErrTimeout or ErrCanceled if neither happens first.
func Select(ctx context.Context, deadline Deadline, cases ...Case) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cases) == 0 && deadline.IsNever() && ctx.Done() == nil {
		return errNoCases
	}

	// Send clauses keep their channels' read locks until the select is
	// decided, so no value is enqueued once Close has returned.
	unlock := lockSends(cases)

	var (
		all   []reflect.SelectCase
		owner []int
		base  []int
	)
	for i, c := range cases {
		sc := c.selectCases()
		base = append(base, len(all))
		for range sc {
			owner = append(owner, i)
		}
		all = append(all, sc...)
	}

	// Ready clauses win over cancellation and timeouts.
	chosen, recv, recvOK := reflect.Select(append(all, reflect.SelectCase{Dir: reflect.SelectDefault}))
	if chosen < len(all) {
		unlock()
		i := owner[chosen]
		cases[i].fire(chosen-base[i], recv, recvOK)
		return nil
	}

	if ctx.Err() != nil {
		unlock()
		return canceled(ctx)
	}
	if deadline.Expired() {
		unlock()
		return ErrTimeout
	}

	timeout, stop := deadline.timer()
	defer stop()

	all = append(all,
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timeout)},
	)
	chosen, recv, recvOK = reflect.Select(all)
	unlock()
	switch {
	case chosen < len(owner):
		i := owner[chosen]
		cases[i].fire(chosen-base[i], recv, recvOK)
		return nil
	case chosen == len(owner):
		return canceled(ctx)
	default:
		return ErrTimeout
	}
}

// lockSends read-locks each distinct channel with a send clause, in address
// order, and returns the matching unlock. A blocked clause still wakes on
// Close, which closes done before taking the write lock.
func lockSends(cases []Case) func() {
	var locks []*sync.RWMutex
	for _, c := range cases {
		if mu := c.sendLock(); mu != nil && !slices.Contains(locks, mu) {
			locks = append(locks, mu)
		}
	}
	slices.SortFunc(locks, func(a, b *sync.RWMutex) int {
		return cmp.Compare(reflect.ValueOf(a).Pointer(), reflect.ValueOf(b).Pointer())
	})
	for _, mu := range locks {
		mu.RLock()
	}
	return func() {
		for _, mu := range locks {
			mu.RUnlock()
		}
	}
}
