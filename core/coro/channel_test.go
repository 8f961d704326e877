package coro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFIFO(t *testing.T) {
	for _, capacity := range []int{0, 1, 3, 16} {
		ch := NewChannel[int](capacity)
		const n = 50

		go func() {
			for i := 0; i < n; i++ {
				if err := ch.Send(context.Background(), i, Never); err != nil {
					return
				}
			}
		}()

		for i := 0; i < n; i++ {
			v, ok, err := ch.Receive(context.Background(), After(time.Second))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, i, v, "capacity %d", capacity)
		}
	}
}

func TestChannelBufferedSendDoesNotBlock(t *testing.T) {
	ch := NewChannel[string](2)
	require.NoError(t, ch.Send(nil, "a", After(10*time.Millisecond)))
	require.NoError(t, ch.Send(nil, "b", After(10*time.Millisecond)))
	assert.Equal(t, 2, ch.Len())

	err := ch.Send(nil, "c", After(10*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 2, ch.Len())
}

func TestChannelRendezvousTimesOut(t *testing.T) {
	ch := NewChannel[int](0)
	err := ch.Send(context.Background(), 1, After(5*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)

	_, ok, err := ch.Receive(context.Background(), After(5*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, ok)
}

func TestChannelCloseDrains(t *testing.T) {
	ch := NewChannel[int](3)
	require.NoError(t, ch.Send(nil, 1, Never))
	require.NoError(t, ch.Send(nil, 2, Never))
	ch.Close()
	ch.Close()

	require.NoError(t, ch.Send(nil, 3, Never))
	assert.False(t, ch.TrySend(4))

	for _, want := range []int{1, 2} {
		v, ok, err := ch.Receive(nil, Never)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	for i := 0; i < 3; i++ {
		start := time.Now()
		_, ok, err := ch.Receive(nil, Never)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	}
}

func TestChannelCloseWakesBlockedParties(t *testing.T) {
	recv := NewChannel[int](0)
	got := make(chan bool, 1)
	go func() {
		_, ok, _ := recv.Receive(nil, Never)
		got <- ok
	}()
	time.Sleep(5 * time.Millisecond)
	recv.Close()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("receiver not released by Close")
	}

	send := NewChannel[int](0)
	sent := make(chan error, 1)
	go func() { sent <- send.Send(nil, 1, Never) }()
	time.Sleep(5 * time.Millisecond)
	send.Close()
	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sender not released by Close")
	}
}

func TestChannelCancellation(t *testing.T) {
	g := NewGroup(context.Background())
	ch := NewChannel[int](0)
	errs := make(chan error, 1)
	g.Spawn(func(ctx context.Context) error {
		_, _, err := ch.Receive(ctx, Never)
		errs <- err
		return err
	})

	time.Sleep(5 * time.Millisecond)
	g.Cancel()
	require.NoError(t, g.Wait())
	assert.True(t, IsCanceled(<-errs))
}

func TestSelectPicksReadyCase(t *testing.T) {
	a := NewChannel[int](1)
	b := NewChannel[string](1)
	require.True(t, b.TrySend("ready"))

	var got string
	err := Select(nil, After(time.Second),
		a.ReceiveCase(func(int, bool) { t.Fatal("a is empty") }),
		b.ReceiveCase(func(v string, ok bool) {
			require.True(t, ok)
			got = v
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, "ready", got)
}

func TestSelectSendAndTimeout(t *testing.T) {
	full := NewChannel[int](1)
	require.True(t, full.TrySend(1))

	err := Select(nil, After(5*time.Millisecond), full.SendCase(2, nil))
	assert.ErrorIs(t, err, ErrTimeout)

	closed := NewChannel[int](0)
	closed.Close()
	var sent = true
	require.NoError(t, Select(nil, Never, closed.SendCase(1, func(ok bool) { sent = ok })))
	assert.False(t, sent)
}

func TestSelectSendNeverLandsAfterClose(t *testing.T) {
	for range 200 {
		ch := NewChannel[int](1)
		done := make(chan bool, 1)
		go func() {
			_ = Select(nil, Never, ch.SendCase(1, func(sent bool) { done <- sent }))
		}()
		ch.Close()
		queued := ch.Len()

		sent := <-done
		require.Equal(t, queued, ch.Len(), "value enqueued after Close returned")
		if sent {
			assert.Equal(t, 1, queued)
		} else {
			assert.Zero(t, queued)
		}
	}
}

func TestSelectClosedReceiveIsReady(t *testing.T) {
	ch := NewChannel[int](0)
	ch.Close()
	called := false
	err := Select(nil, Never, ch.ReceiveCase(func(_ int, ok bool) {
		called = true
		assert.False(t, ok)
	}))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSelectWithoutCases(t *testing.T) {
	assert.Error(t, Select(nil, Never))
	assert.ErrorIs(t, Select(nil, After(time.Millisecond)), ErrTimeout)
}

func BenchmarkChannelBuffered(b *testing.B) {
	ch := NewChannel[int](64)
	go func() {
		for {
			if _, ok, _ := ch.Receive(nil, Never); !ok {
				return
			}
		}
	}()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ch.Send(nil, i, Never)
	}
	ch.Close()
}
