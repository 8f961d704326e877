// Package pools recycles the per-connection read buffers.
package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for different size classes.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

// Common buffer sizes for HTTP workloads
var defaultSizes = []int{
	512,
	2048,
	8192, // stream.DefaultBufferSize
	32768,
}

// NewBytePool creates a byte pool with the standard size tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom tiers, which must be
// ascending.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}
	for i, size := range sizes {
		bp.pools[i] = &sync.Pool{
			New: func() any {
				bp.misses.Add(1)
				buf := make([]byte, size)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a slice of length size. Sizes above the largest tier are
// allocated directly and never pooled.
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, tier := range bp.sizes {
		if size <= tier {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	bp.misses.Add(1)
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices whose capacity matches no
// tier are dropped.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, tier := range bp.sizes {
		if capacity == tier {
			bp.puts.Add(1)
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// BytePoolStats counts pool traffic. Misses are allocations.
type BytePoolStats struct {
	Gets   uint64
	Puts   uint64
	Misses uint64
}

// Stats returns a snapshot of the counters.
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Puts:   bp.puts.Load(),
		Misses: bp.misses.Load(),
	}
}
