// ════════════════════════════════════════════════════════════════════════════════════════════════
// Command Pipeline Session
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Owner Of Every Pipeline Component
//
// Description:
//   A Session wires the producer API, the transfer queue, the chunk pool, the mailbox, pacing and
//   the consumer loop together. Nothing is global: two sessions in one process are independent.
//
// Modes:
//   - Dual context: a consumer goroutine (Run) replays flushed chunks and drains the mailbox
//   - Single context: the mailbox runs requests inline and the producer replays staged bursts
//     itself from SyncTick
//
// Ownership:
//   - write chunk: producer
//   - read chunk:  consumer
//   - transfer queue: producer pushes, consumer pops
//   - pool: producer gets, consumer puts
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package fifo

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gpufifo/chunk"
	"gpufifo/chunkpool"
	"gpufifo/config"
	"gpufifo/constants"
	"gpufifo/control"
	"gpufifo/debug"
	"gpufifo/mailbox"
	"gpufifo/pacing"
	"gpufifo/ring"
	"gpufifo/staging"
	"gpufifo/stats"
)

var (
	// ErrInFlight reports a save or load attempted while data is still
	// queued between the contexts.
	ErrInFlight = errors.New("fifo: pipeline not empty")

	// ErrStopped reports Run on a session that was stopped or closed.
	ErrStopped = errors.New("fifo: session stopped")

	// ErrSingleContext reports Run on a session configured without a
	// consumer context.
	ErrSingleContext = errors.New("fifo: session is single-context")

	// ErrNoDecoder reports a session built without a Decoder.
	ErrNoDecoder = errors.New("fifo: decoder is required")
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Snapshots resolves auxiliary state captured by the producer.
type Snapshots interface {
	Lookup(key uint32) ([]byte, bool)
}

// Decoder replays one command range and reports the emulated cycles it took.
// data may be resliced up to cap(data) for overreads.
type Decoder interface {
	RunCommands(data []byte, snaps Snapshots) uint32
}

// Renderer is notified when the consumer runs out of work.
type Renderer interface {
	FlushDrawing()
	RefreshPeekCache()
}

// Deps are the external collaborators of a session. Only Decoder is required.
type Deps struct {
	Decoder  Decoder
	Renderer Renderer
	Handler  mailbox.Handler

	// Config, when set, is subscribed to for hot reload of pacing and
	// flush policy.
	Config *config.Store
}

type nopRenderer struct{}

func (nopRenderer) FlushDrawing()     {}
func (nopRenderer) RefreshPeekCache() {}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SESSION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Session is one producer/consumer pipeline.
type Session struct {
	opts     config.Options
	store    *config.Store
	subID    int
	policy   atomic.Pointer[chunk.Policy]
	decoder  Decoder
	renderer Renderer
	handler  mailbox.Handler

	pool     *chunkpool.Pool
	transfer *ring.Queue[chunk.Chunk]
	mailbox  *mailbox.Mailbox
	loop     *control.Loop
	ticks    *pacing.Ticks
	fence    *pacing.FrameFence
	bp       pacing.Breakpoint
	staging  *staging.Buffer

	write *chunk.Chunk // producer only
	read  *chunk.Chunk // consumer only

	pending    atomic.Int64  // chunks flushed but not fully replayed
	readPos    atomic.Uint64 // bytes replayed, the logical read position
	emuRunning atomic.Bool
	closed     atomic.Bool

	counters stats.Counters
}

// New builds a session from opts. The session starts with the emulator
// marked running and, until Run starts a consumer, with the mailbox
// handling requests inline.
func New(opts config.Options, deps Deps) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Decoder == nil {
		return nil, ErrNoDecoder
	}
	s := &Session{
		opts:     opts,
		store:    deps.Config,
		decoder:  deps.Decoder,
		renderer: deps.Renderer,
		handler:  deps.Handler,
		pool:     chunkpool.New(opts.MaxChunkBytes),
		transfer: ring.NewQueue[chunk.Chunk](constants.RingSegment),
		loop:     control.NewLoop(),
		ticks:    pacing.NewTicks(opts.Pacing()),
		fence:    pacing.NewFrameFence(),
		staging:  staging.New(),
	}
	if s.renderer == nil {
		s.renderer = nopRenderer{}
	}
	if s.handler == nil {
		s.handler = mailbox.HandlerFunc(func(mailbox.Request) {})
	}
	policy := opts.Policy()
	s.policy.Store(&policy)

	var h mailbox.Handler = &requestHandler{s: s}
	if b, ok := s.handler.(mailbox.PokeBatcher); ok {
		h = &batchingHandler{requestHandler{s: s}, b}
	}
	s.mailbox = mailbox.New(h, s.loop.Wakeup)
	s.mailbox.SetDropHook(s.dropped)
	s.mailbox.SetBypass(true)
	s.mailbox.SetEnabled(false)

	s.write = s.pool.Get()
	s.emuRunning.Store(true)

	if s.store != nil {
		s.subID = s.store.Subscribe(s.applyOptions)
	}
	return s, nil
}

// applyOptions takes over hot-reloadable options. Mode, pool bound and
// pinning are fixed for the session's lifetime.
func (s *Session) applyOptions(o config.Options) {
	s.ticks.SetConfig(o.Pacing())
	p := o.Policy()
	s.policy.Store(&p)
	s.loop.Wakeup()
}

// dropped returns the chunk of a discarded ProcessChunk to the pool. Pool
// returns are locked, so this is safe from whichever goroutine disabled the
// mailbox.
func (s *Session) dropped(req mailbox.Request) {
	if r, ok := req.(mailbox.ProcessChunk); ok && r.Chunk != nil {
		s.pool.Put(r.Chunk)
		s.pending.Add(-1)
	}
}

// DualContext reports whether the session has a consumer goroutine.
func (s *Session) DualContext() bool { return s.opts.DualContext }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Run is the consumer context. It blocks until ctx is done or Stop is
// called. While it runs, mailbox requests are queued for the consumer;
// before it starts and after it returns they run inline in the caller.
func (s *Session) Run(ctx context.Context) error {
	if !s.opts.DualContext {
		return ErrSingleContext
	}
	if s.closed.Load() || s.loop.Stopping() {
		return ErrStopped
	}

	if s.opts.ConsumerCore >= 0 {
		unpin := ring.Pin(s.opts.ConsumerCore)
		defer unpin()
	}

	s.mailbox.SetEnabled(true)
	s.mailbox.SetBypass(false)
	defer func() {
		s.mailbox.Drain()
		s.mailbox.SetEnabled(false)
		s.mailbox.SetBypass(true)
	}()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopWatch:
		}
	}()

	debug.DropMessage("FIFO", "consumer started")
	s.loop.Run(s.step, time.Duration(s.opts.LoopTimeoutMs)*time.Millisecond)
	debug.DropMessage("FIFO", "consumer stopped")

	return ctx.Err()
}

// Stop asks the consumer to exit without waiting for it. It interrupts a
// parked consumer and releases a producer blocked on the frame fence or
// the distance throttle. Safe before Run.
func (s *Session) Stop() {
	s.loop.Stop(true)
	s.fence.Release()
	s.ticks.Release()
	s.mailbox.SetEnabled(false)
}

// Close stops the session, waits for Run to return and detaches from the
// config store. The session cannot be restarted.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.Stop()
	s.loop.Stop(false)
	if s.store != nil {
		s.store.Unsubscribe(s.subID)
	}
}

// SetEmulatorRunning pauses or resumes replay. A paused consumer still
// drains its mailbox.
func (s *Session) SetEmulatorRunning(running bool) {
	s.emuRunning.Store(running)
	s.loop.Wakeup()
}

// PauseAndLock pauses replay and waits for the consumer to settle when
// lock is set. On unlock, replay resumes only if unpause is set.
func (s *Session) PauseAndLock(lock, unpause bool) {
	if lock {
		s.SetEmulatorRunning(false)
		if s.opts.DualContext {
			s.loop.WaitYield(100*time.Millisecond, func() {
				debug.DropMessage("FIFO", "waiting for consumer to pause")
			})
		}
		return
	}
	if unpause {
		s.SetEmulatorRunning(true)
	}
}

// WaitIdle blocks until the consumer has gone idle after the call.
// Returns at once in single-context mode or when no consumer runs.
func (s *Session) WaitIdle() {
	if !s.opts.DualContext {
		return
	}
	s.loop.Wait()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Breakpoint exposes the replay breakpoint to a debugger.
func (s *Session) Breakpoint() *pacing.Breakpoint { return &s.bp }

// ResumeBreakpoint leaves break mode and wakes the consumer.
func (s *Session) ResumeBreakpoint() {
	s.bp.Resume()
	s.loop.Wakeup()
}

// ReadPosition returns the number of command bytes replayed so far.
func (s *Session) ReadPosition() uint64 { return s.readPos.Load() }

// Frames returns the producer and consumer frame counters.
func (s *Session) Frames() (producer, consumer uint64) { return s.fence.Frames() }

// InFlight counts chunks flushed but not yet fully replayed.
func (s *Session) InFlight() int { return int(s.pending.Load()) }

// Stats returns a snapshot of the session counters and gauges.
func (s *Session) Stats() stats.Snapshot {
	snap := s.counters.Snapshot()
	snap.ChunksAllocated = s.pool.Allocated()
	snap.ChunksIdle = s.pool.Idle()
	snap.RequestsHandled = s.mailbox.Handled()
	snap.RequestsDropped = s.mailbox.Dropped()
	snap.InFlight = s.InFlight()
	snap.SyncCredit = s.ticks.Credit()
	snap.FrameDistance = s.fence.Distance()
	return snap
}
