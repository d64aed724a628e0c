package pacing

import (
	"sync"
	"sync/atomic"
)

// FrameFence bounds how many frames the producer may run ahead of the
// consumer. The producer counter is written only by the producer, the
// consumer counter only by the consumer; both are read under mu.
type FrameFence struct {
	mu       sync.Mutex
	cond     *sync.Cond
	producer uint64
	consumer uint64
	released bool

	waits atomic.Uint64
}

// NewFrameFence returns a fence with both counters at zero.
func NewFrameFence() *FrameFence {
	f := &FrameFence{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// BumpProducer records one emulated frame on the producer side.
func (f *FrameFence) BumpProducer() {
	f.mu.Lock()
	f.producer++
	f.mu.Unlock()
}

// BumpConsumer records one finished frame on the consumer side and releases
// a producer blocked in Wait.
func (f *FrameFence) BumpConsumer() {
	f.mu.Lock()
	f.consumer++
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Wait blocks while the producer is more than one frame ahead. wake is
// called before every sleep so a parked consumer gets to run. Reports
// whether the caller had to block.
func (f *FrameFence) Wait(wake func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released || f.producer <= f.consumer+1 {
		return false
	}
	f.waits.Add(1)
	for !f.released && f.producer > f.consumer+1 {
		if wake != nil {
			wake()
		}
		f.cond.Wait()
	}
	return true
}

// Release lets every current and future Wait return at once. Used on
// shutdown when the consumer will never catch up.
func (f *FrameFence) Release() {
	f.mu.Lock()
	f.released = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Reset zeroes both counters for a restarted command stream. A released
// fence stays released.
func (f *FrameFence) Reset() {
	f.mu.Lock()
	f.producer, f.consumer = 0, 0
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Distance returns producer minus consumer frames.
func (f *FrameFence) Distance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.producer) - int64(f.consumer)
}

// Frames returns both counters.
func (f *FrameFence) Frames() (producer, consumer uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.producer, f.consumer
}

// Waits counts the calls to Wait that had to block.
func (f *FrameFence) Waits() uint64 { return f.waits.Load() }

// Restore overwrites both counters, as loaded from a save state.
func (f *FrameFence) Restore(producer, consumer uint64) {
	f.mu.Lock()
	f.producer, f.consumer = producer, consumer
	f.cond.Broadcast()
	f.mu.Unlock()
}
