package stream

import (
	"sync"

	"github.com/searchktools/coroserve/core/coro"
)

// Memory is a Stream backed by a fixed input and an output buffer. Reads
// return the input in slices of at most ReadSize bytes (all of it when
// ReadSize is 0) and report ErrClosed once it is exhausted, as a peer that
// finished sending would. Only flushed bytes reach Output.
type Memory struct {
	ReadSize int

	mu      sync.Mutex
	input   []byte
	pending []byte
	output  []byte
	flushes int
	closed  bool
}

// NewMemory returns a Memory stream that reads input.
func NewMemory(input []byte) *Memory {
	return &Memory{input: input}
}

func (m *Memory) Read(p []byte, _ coro.Deadline) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.input) == 0 {
		return nil, ErrClosed
	}
	limit := len(p)
	if m.ReadSize > 0 && m.ReadSize < limit {
		limit = m.ReadSize
	}
	n := copy(p[:limit], m.input)
	m.input = m.input[n:]
	return p[:n], nil
}

func (m *Memory) Write(p []byte, _ coro.Deadline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending = append(m.pending, p...)
	return nil
}

func (m *Memory) Flush(coro.Deadline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.output = append(m.output, m.pending...)
	m.pending = m.pending[:0]
	m.flushes++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Output returns a copy of the flushed bytes.
func (m *Memory) Output() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.output...)
}

// Flushes returns how many times Flush succeeded.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
