package stream

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/coroserve/core/coro"
)

func TestMemoryStream(t *testing.T) {
	m := NewMemory([]byte("hello world"))
	m.ReadSize = 5

	buf := make([]byte, 64)
	chunk, err := m.Read(buf, coro.Never)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))

	rest, err := ReadAll(m, coro.Never)
	require.NoError(t, err)
	assert.Equal(t, " world", string(rest))

	require.NoError(t, m.Write([]byte("out"), coro.Never))
	assert.Empty(t, m.Output(), "unflushed bytes must not be visible")
	require.NoError(t, m.Flush(coro.Never))
	assert.Equal(t, "out", string(m.Output()))

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.ErrorIs(t, m.Write([]byte("x"), coro.Never), ErrClosed)
	_, err = m.Read(buf, coro.Never)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipeReadWriteAndTimeout(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.Write([]byte("ping"), coro.After(time.Second))
		_ = a.Flush(coro.After(time.Second))
	}()

	got, err := ReadAll(&limitReader{r: b, n: 4}, coro.After(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	_, err = b.Read(make([]byte, 8), coro.After(10*time.Millisecond))
	assert.ErrorIs(t, err, coro.ErrTimeout)
	assert.True(t, IsTransport(err))
}

func TestConnCloseFailsOperations(t *testing.T) {
	a, b := Pipe()
	defer b.Close()
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.True(t, a.Closed())

	_, err := a.Read(make([]byte, 1), coro.Never)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Write([]byte("x"), coro.Never), ErrClosed)
	assert.ErrorIs(t, a.Flush(coro.Never), ErrClosed)

	_, err = b.Read(make([]byte, 1), coro.After(time.Second))
	assert.ErrorIs(t, err, ErrClosed)
}

// resetConn delivers its payload together with a reset error.
type resetConn struct {
	net.Conn
	payload []byte
}

func (c *resetConn) Read(p []byte) (int, error) {
	if len(c.payload) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.payload)
	c.payload = c.payload[n:]
	return n, io.ErrUnexpectedEOF
}

func (c *resetConn) SetReadDeadline(time.Time) error { return nil }

func TestConnDeliversBytesBeforeReset(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(&resetConn{Conn: a, payload: []byte("tail")}, 0)

	chunk, err := c.Read(make([]byte, 16), coro.Never)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(chunk))

	_, err = c.Read(make([]byte, 16), coro.Never)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTCPHostAcceptAndDial(t *testing.T) {
	host, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer host.Close()

	accepted := make(chan Stream, 1)
	go func() {
		s, err := host.Accept(coro.After(2 * time.Second))
		if err == nil {
			accepted <- s
		}
	}()

	client, err := Dial(host.Addr().String(), coro.After(2*time.Second), 0)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, client.Write([]byte("hi"), coro.Never))
	require.NoError(t, client.Flush(coro.Never))

	chunk, err := server.Read(make([]byte, 8), coro.After(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(chunk))

	_, err = host.Accept(coro.After(5 * time.Millisecond))
	assert.ErrorIs(t, err, coro.ErrTimeout)

	require.NoError(t, host.Close())
	_, err = host.Accept(coro.Never)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIOAdapters(t *testing.T) {
	data, err := io.ReadAll(NewIOReader(NewBytesReader([]byte("abc")), coro.Never))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	var buf Buffer
	n, err := NewIOWriter(&buf, coro.Never).Write([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "xyz", string(buf.Bytes()))
}

// limitReader stops after n bytes so ReadAll terminates on a pipe.
type limitReader struct {
	r Reader
	n int
}

func (l *limitReader) Read(p []byte, deadline coro.Deadline) ([]byte, error) {
	if l.n <= 0 {
		return nil, ErrClosed
	}
	if len(p) > l.n {
		p = p[:l.n]
	}
	chunk, err := l.r.Read(p, deadline)
	l.n -= len(chunk)
	return chunk, err
}
