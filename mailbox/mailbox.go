// ════════════════════════════════════════════════════════════════════════════════════════════════
// Cross-Context Mailbox
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Ordered Request Queue Into The Consumer Context
//
// Description:
//   Producer-side code submits requests that must execute where the consumer owns its state
//   (readback pokes/peeks, swaps, save states). The consumer drains them in submission order
//   between command ranges. Blocking submitters sleep on a condition variable until their own
//   request has been handled.
//
// Fast Path:
//   - An atomic "empty" flag is checked before the lock; the mailbox is empty almost always
//   - Empty means every submitted request has been handled, not merely dequeued
//
// Modes:
//   - Bypass: requests run synchronously in the submitter's context (single-context sessions)
//   - Disabled: requests are dropped and counted (no consumer to run them); disabling also
//     discards whatever is still queued
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package mailbox

import (
	"sync"
	"sync/atomic"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HANDLER CONTRACT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Handler executes requests in the consumer context.
type Handler interface {
	HandleRequest(req Request)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req Request)

// HandleRequest calls f(req).
func (f HandlerFunc) HandleRequest(req Request) { f(req) }

// PokeBatcher is implemented by handlers that accept merged pokes.
// Consecutive pokes of the same target are delivered in one call.
type PokeBatcher interface {
	HandlePokes(target Target, pokes []Poke)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAILBOX
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type entry struct {
	req     Request
	seq     uint64
	dropped *bool // set under mu when a blocking submitter's request is discarded
}

// Mailbox is a thread-safe ordered request queue with a single consumer.
type Mailbox struct {
	empty atomic.Bool // fast path, read without the lock

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []entry
	submitted uint64
	processed uint64

	bypass  atomic.Bool
	enabled atomic.Bool
	dropped atomic.Uint64
	handled atomic.Uint64

	handler Handler
	batcher PokeBatcher
	wake    func()
	onDrop  func(Request)

	// consumer only
	draining bool
	pokes    []Poke
}

// New creates a mailbox that hands requests to h. wake is called after each
// queued submission so a parked consumer notices; it may be nil.
// The mailbox starts enabled and not bypassed.
func New(h Handler, wake func()) *Mailbox {
	m := &Mailbox{handler: h, wake: wake}
	m.cond = sync.NewCond(&m.mu)
	if b, ok := h.(PokeBatcher); ok {
		m.batcher = b
	}
	m.empty.Store(true)
	m.enabled.Store(true)
	return m
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// SetBypass switches synchronous in-caller handling on or off.
func (m *Mailbox) SetBypass(on bool) {
	m.bypass.Store(on)
	if on {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

// Bypass reports whether bypass mode is on.
func (m *Mailbox) Bypass() bool { return m.bypass.Load() }

// SetDropHook installs fn to be called for every request the mailbox
// discards. Requests that own resources (ProcessChunk) are returned this
// way. Call before the mailbox is shared.
func (m *Mailbox) SetDropHook(fn func(Request)) { m.onDrop = fn }

// SetEnabled turns queued submission on or off. Disabling discards every
// queued request and releases every blocked submitter and barrier.
func (m *Mailbox) SetEnabled(on bool) {
	m.enabled.Store(on)
	if on {
		return
	}

	m.mu.Lock()
	stale := m.queue
	m.queue = nil
	for _, e := range stale {
		if e.dropped != nil {
			*e.dropped = true
		}
	}
	m.processed = m.submitted
	m.empty.Store(true)
	m.cond.Broadcast()
	m.mu.Unlock()

	for _, e := range stale {
		m.drop(e.req)
	}
}

func (m *Mailbox) drop(req Request) {
	m.dropped.Add(1)
	if m.onDrop != nil {
		m.onDrop(req)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PRODUCER SIDE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Submit enqueues req. With blocking, Submit returns only after the consumer
// has handled this exact request. Returns false if the request was dropped
// because the mailbox is disabled, including a blocking request discarded
// by SetEnabled(false) while it waited.
func (m *Mailbox) Submit(req Request, blocking bool) bool {
	if m.bypass.Load() {
		m.dispatch(req)
		m.handled.Add(1)
		return true
	}

	var dropped *bool
	if blocking {
		dropped = new(bool)
	}

	m.mu.Lock()
	if !m.enabled.Load() {
		m.mu.Unlock()
		m.drop(req)
		return false
	}
	m.submitted++
	seq := m.submitted
	m.queue = append(m.queue, entry{req: req, seq: seq, dropped: dropped})
	m.empty.Store(false)
	m.mu.Unlock()

	if m.wake != nil {
		m.wake()
	}
	if !blocking {
		return true
	}

	m.mu.Lock()
	for m.processed < seq && m.enabled.Load() && !m.bypass.Load() {
		m.cond.Wait()
	}
	ok := !*dropped
	m.mu.Unlock()
	return ok
}

// Barrier blocks until every request submitted before the call has been
// handled, or the mailbox is disabled or bypassed.
func (m *Mailbox) Barrier() {
	if m.empty.Load() {
		return
	}
	m.mu.Lock()
	target := m.submitted
	m.mu.Unlock()
	if m.wake != nil {
		m.wake()
	}

	m.mu.Lock()
	for m.processed < target && m.enabled.Load() && !m.bypass.Load() {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSUMER SIDE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Drain handles every queued request in submission order. It is a no-op
// when the mailbox is empty or when called from inside a handler.
// Consumer only.
func (m *Mailbox) Drain() {
	if m.empty.Load() || m.draining {
		return
	}
	m.draining = true
	defer func() { m.draining = false }()

	m.mu.Lock()
	for len(m.queue) > 0 {
		e := m.queue[0]
		m.queue[0] = entry{}
		m.queue = m.queue[1:]

		// Merge a run of same-target pokes into one delivery.
		if p, ok := e.req.(Poke); ok && m.batcher != nil {
			m.pokes = append(m.pokes[:0], p)
			for len(m.queue) > 0 {
				next, ok := m.queue[0].req.(Poke)
				if !ok || next.Target != p.Target {
					break
				}
				m.pokes = append(m.pokes, next)
				e.seq = m.queue[0].seq
				m.queue[0] = entry{}
				m.queue = m.queue[1:]
			}
			m.mu.Unlock()
			m.batcher.HandlePokes(p.Target, m.pokes)
			m.handled.Add(uint64(len(m.pokes)))
		} else {
			m.mu.Unlock()
			m.dispatch(e.req)
			m.handled.Add(1)
		}

		m.mu.Lock()
		// SetEnabled(false) may have moved processed past e.seq meanwhile.
		m.processed = max(m.processed, e.seq)
		if m.processed == m.submitted {
			m.empty.Store(true)
		}
		m.cond.Broadcast()
	}
	if len(m.queue) == 0 {
		m.queue = m.queue[:0:0]
	}
	m.mu.Unlock()
}

func (m *Mailbox) dispatch(req Request) {
	if p, ok := req.(Poke); ok && m.batcher != nil {
		m.batcher.HandlePokes(p.Target, []Poke{p})
		return
	}
	m.handler.HandleRequest(req)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// IsEmpty reports whether every submitted request has been handled.
func (m *Mailbox) IsEmpty() bool { return m.empty.Load() }

// Len reports submitted-but-unhandled requests.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.submitted - m.processed)
}

// Dropped reports requests discarded while disabled.
func (m *Mailbox) Dropped() uint64 { return m.dropped.Load() }

// Handled reports requests handled, bypassed ones included.
func (m *Mailbox) Handled() uint64 { return m.handled.Load() }

// WaitEmpty blocks until the mailbox is observed empty. Same as Barrier.
func (m *Mailbox) WaitEmpty() { m.Barrier() }
