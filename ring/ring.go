// ring.go
//
// Lock-free single-producer/single-consumer ring buffer of owned pointers.
// Producer and consumer cursors sit on separate cache-lines to eliminate
// false-sharing, and each slot carries a sequence number so Push/Pop need
// no read-modify-write atomics.
//
// Ownership moves with the pointer: after Push the producer must not touch
// the value again; after Pop the consumer owns it exclusively.

package ring

import "sync/atomic"

// slot couples a payload pointer with its sequence stamp.
type slot[T any] struct {
	seq atomic.Uint64 // position in the sequence space
	ptr *T            // user payload
}

// Ring is a fixed-capacity circular buffer dedicated to one producer and
// one consumer.
type Ring[T any] struct {
	_    [64]byte // consumer head isolated on its own cache-line
	head uint64
	//lint:ignore U1000 padding to keep head & tail on different cache-lines
	_pad1 [56]byte
	tail  uint64
	//lint:ignore U1000 padding to keep hot fields from colliding with metadata
	_pad2 [56]byte
	mask  uint64
	buf   []slot[T]
}

// New allocates a ring whose size must be a power-of-two; otherwise it
// panics so that the bit-masking arithmetic stays valid.
func New[T any](size int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring: size must be >0 and a power of two")
	}
	r := &Ring[T]{
		mask: uint64(size - 1),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// Push enqueues p, returning false if the buffer is full.
//
//go:nosplit
func (r *Ring[T]) Push(p *T) bool {
	t := r.tail
	s := &r.buf[t&r.mask]
	if s.seq.Load() != t {
		return false // consumer has not yet reclaimed the slot
	}
	s.ptr = p
	s.seq.Store(t + 1)
	r.tail = t + 1
	return true
}

// Pop dequeues one pointer or nil if the buffer is empty.
//
//go:nosplit
func (r *Ring[T]) Pop() *T {
	h := r.head
	s := &r.buf[h&r.mask]
	if s.seq.Load() != h+1 {
		return nil // producer has not yet published to the slot
	}
	p := s.ptr
	s.ptr = nil
	s.seq.Store(h + uint64(len(r.buf)))
	r.head = h + 1
	return p
}

// Cap returns the slot count.
func (r *Ring[T]) Cap() int { return len(r.buf) }
