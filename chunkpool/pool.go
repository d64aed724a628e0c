// pool.go
//
// Two-tier free list for command chunks. The producer acquires from `free`
// on every flush while the consumer returns drained chunks into `returned`
// on every pop; the two sides never take the same lock in steady state. When
// `free` runs dry the producer swaps the lists wholesale under the second
// lock, which moves every returned chunk across in O(1).
//
// Exhaustion is never a wait: an empty pool allocates a fresh chunk and
// counts it so diagnostics can show how many chunks the pipeline needed.
//
// The `returned` list doubles as the reclaim channel (consumer → producer).
// Put must only be called from the consumer context and Get only from the
// producer context.

package chunkpool

import (
	"sync"
	"sync/atomic"

	"gpufifo/chunk"
)

// Pool recycles drained chunks.
type Pool struct {
	mu   sync.Mutex
	free []*chunk.Chunk // producer side

	//lint:ignore U1000 padding to keep the two locks on different cache-lines
	_pad [64]byte

	muReturned sync.Mutex
	returned   []*chunk.Chunk // consumer side

	allocated atomic.Uint64
	maxBytes  int
}

// New creates an empty pool whose fresh chunks use maxBytes as hard bound.
func New(maxBytes int) *Pool {
	return &Pool{maxBytes: maxBytes}
}

// Get returns an empty chunk, recycled when possible.
func (p *Pool) Get() *chunk.Chunk {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.muReturned.Lock()
		p.free, p.returned = p.returned, p.free
		p.muReturned.Unlock()
	}

	var c *chunk.Chunk
	if n := len(p.free); n > 0 {
		c = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if c == nil {
		p.allocated.Add(1)
		return chunk.New(p.maxBytes)
	}
	c.Reset()
	return c
}

// Put hands a drained chunk back. nil is ignored.
func (p *Pool) Put(c *chunk.Chunk) {
	if c == nil {
		return
	}
	p.muReturned.Lock()
	p.returned = append(p.returned, c)
	p.muReturned.Unlock()
}

// Allocated reports how many chunks the pool had to create.
func (p *Pool) Allocated() uint64 { return p.allocated.Load() }

// Idle reports how many chunks are waiting in either list.
func (p *Pool) Idle() int {
	p.mu.Lock()
	p.muReturned.Lock()
	n := len(p.free) + len(p.returned)
	p.muReturned.Unlock()
	p.mu.Unlock()
	return n
}
