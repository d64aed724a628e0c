// queue.go
//
// Unbounded SPSC queue built from linked Ring segments. Push never fails:
// when the tail segment is full the producer links a fresh one and never
// writes the old segment again. The consumer drains a segment completely
// before following its link, so delivery order equals push order.
//
// One drained segment is parked in `spare` for the producer to reuse, so a
// queue that oscillates around one segment boundary does not allocate.
//
//   Producer                      Consumer
//   --------                      --------------------------------
//   tail.Push fails
//   link next (release) ───────▶  head.Pop nil, load next (acquire)
//                                 re-Pop head, then advance

package ring

import "sync/atomic"

type segment[T any] struct {
	ring *Ring[T]
	next atomic.Pointer[segment[T]]
}

// Queue is an unbounded, ordered, single-producer/single-consumer queue.
type Queue[T any] struct {
	_    [64]byte
	head *segment[T] // consumer only
	//lint:ignore U1000 padding to keep head & tail on different cache-lines
	_pad1 [56]byte
	tail *segment[T] // producer only
	//lint:ignore U1000 padding to keep hot fields from colliding with metadata
	_pad2 [56]byte

	size   int
	length atomic.Int64
	spare  atomic.Pointer[segment[T]]
}

// NewQueue creates a queue whose segments hold segSize entries.
// segSize must be a power of two.
func NewQueue[T any](segSize int) *Queue[T] {
	s := &segment[T]{ring: New[T](segSize)}
	return &Queue[T]{head: s, tail: s, size: segSize}
}

// Push appends p. Producer only.
func (q *Queue[T]) Push(p *T) {
	q.length.Add(1) // count first so Empty never under-reports
	if !q.tail.ring.Push(p) {
		ns := q.spare.Swap(nil)
		if ns == nil {
			ns = &segment[T]{ring: New[T](q.size)}
		}
		ns.ring.Push(p)
		q.tail.next.Store(ns)
		q.tail = ns
	}
}

// Pop removes the oldest entry or returns nil. Consumer only.
func (q *Queue[T]) Pop() *T {
	for {
		if p := q.head.ring.Pop(); p != nil {
			q.length.Add(-1)
			return p
		}
		next := q.head.next.Load()
		if next == nil {
			return nil
		}
		// Entries published before the link are visible now.
		if p := q.head.ring.Pop(); p != nil {
			q.length.Add(-1)
			return p
		}
		old := q.head
		q.head = next
		old.next.Store(nil)
		q.spare.Store(old)
	}
}

// Len reports the number of queued entries. Safe from either side.
func (q *Queue[T]) Len() int { return int(q.length.Load()) }

// Empty reports whether the queue holds nothing. Safe from either side.
func (q *Queue[T]) Empty() bool { return q.length.Load() == 0 }
