package fifo

import (
	"errors"
	"fmt"

	"gpufifo/chunk"
	"gpufifo/constants"
	"gpufifo/debug"
	"gpufifo/mailbox"
	"gpufifo/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PRODUCER WRITES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Write appends one burst of command bytes. A burst that would exceed the
// buffer bound is dropped whole: an alert is raised and the capacity error
// returned. Producer only.
func (s *Session) Write(burst []byte) error {
	var err error
	if s.opts.DualContext {
		err = s.write.Append(burst)
	} else {
		err = s.staging.Push(burst)
	}
	if err != nil {
		s.capacityViolation("write", len(burst), err)
		return err
	}
	s.counters.BytesCopied.Add(uint64(len(burst)))
	return nil
}

// Snapshot captures b under key for the decoder of the data written next.
// Producer only.
func (s *Session) Snapshot(key uint32, b []byte) error {
	var err error
	if s.opts.DualContext {
		err = s.write.Snapshot(key, b)
	} else {
		err = s.staging.PushAux(key, b)
	}
	if err != nil {
		s.capacityViolation("snapshot", len(b), err)
		return err
	}
	s.counters.AuxBytesCopied.Add(uint64(len(b)))
	return nil
}

// capacityViolation reports a dropped write. The staging buffer raises its
// own alert; chunk violations are raised here.
func (s *Session) capacityViolation(what string, n int, err error) {
	s.counters.CapacityViolations.Add(1)
	if errors.Is(err, chunk.ErrCapacity) {
		debug.Alert(fmt.Sprintf("FIFO out of bounds (%s of %d bytes, chunk holds %d)", what, n, s.write.Len()))
	}
	debug.DropError("FIFO "+what+" dropped", err)
}

// MarkSyncPoint forces the current chunk out on the next FlushIfNecessary.
func (s *Session) MarkSyncPoint() { s.write.SyncPoint = true }

// RequireMailboxDrain makes the consumer drain the mailbox before it
// replays the current chunk.
func (s *Session) RequireMailboxDrain() { s.write.DrainMailbox = true }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FLUSHING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Flush hands the current chunk to the consumer and starts a fresh one.
//
// Algorithm:
//  1. Nothing to do for an empty chunk or in single-context mode
//  2. Block on the frame fence while the producer is two frames ahead
//  3. Push to the transfer queue, replace from the pool, wake the consumer
func (s *Session) Flush() {
	if !s.opts.DualContext || s.write.IsEmpty() {
		return
	}
	s.fenceWait()
	s.pending.Add(1)
	s.transfer.Push(s.write)
	s.write = s.pool.Get()
	s.counters.ChunksFlushed.Add(1)
	if s.ticks.CanRun() {
		s.loop.Wakeup()
	}
}

// FlushOrdered hands the current chunk over through the mailbox instead of
// the transfer queue, so it replays in order with the requests around it.
func (s *Session) FlushOrdered() {
	if !s.opts.DualContext || s.write.IsEmpty() {
		return
	}
	s.fenceWait()
	c := s.write
	s.write = s.pool.Get()
	s.pending.Add(1)
	s.counters.ChunksFlushed.Add(1)
	s.mailbox.Submit(mailbox.ProcessChunk{Chunk: c}, false)
}

// FlushIfNecessary flushes once the flush policy says the chunk is full
// enough.
func (s *Session) FlushIfNecessary() {
	if s.opts.DualContext && s.write.ShouldFlush(*s.policy.Load()) {
		s.Flush()
	}
}

func (s *Session) fenceWait() {
	if s.fence.Wait(s.loop.Wakeup) {
		s.counters.FenceWaits.Add(1)
		p, c := s.fence.Frames()
		debug.DropMessage("FIFO", "frame fence released at producer "+utils.Itoa(int(p))+" consumer "+utils.Itoa(int(c)))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PACING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// BumpFrame records one emulated frame on the producer side.
func (s *Session) BumpFrame() { s.fence.BumpProducer() }

// AddTicks credits elapsed emulated cycles. The consumer is woken once
// credit passes the minimum distance; the producer stalls here while
// credit is at the maximum distance and a running consumer can spend it.
func (s *Session) AddTicks(cycles int64) {
	if !s.opts.DualContext {
		return
	}
	if s.ticks.Accrue(cycles) {
		s.loop.Wakeup()
	}
	cfg := s.ticks.Config()
	if !cfg.Enabled || s.ticks.Credit() < cfg.MaxDistance || !s.loop.IsRunning() || !s.emuRunning.Load() {
		return
	}
	s.counters.ThrottleWaits.Add(1)
	s.loop.Wakeup()
	s.ticks.WaitBelowMax()
}

// SyncTick is the periodic scheduling point. In single-context mode it
// replays staged bursts for ticks of emulated time and returns the delay
// until the next call, or -1 once the producer has nothing staged.
// In dual-context mode it credits ticks and returns TimeSlotSize.
func (s *Session) SyncTick(ticks int64) int64 {
	if s.opts.DualContext {
		s.AddTicks(ticks)
		return constants.TimeSlotSize
	}
	return s.ticks.RunInline(ticks, s.replayStaged)
}

// Kick reports whether inline syncing had gone idle and clears that state;
// the caller then schedules SyncTick again. Single-context only.
func (s *Session) Kick() bool {
	if s.opts.DualContext {
		return false
	}
	return s.ticks.Resume()
}

// SyncForRegisterAccess brings the consumer up to date before the producer
// reads state the consumer writes.
func (s *Session) SyncForRegisterAccess() {
	if !s.opts.DualContext {
		s.ticks.RunInline(constants.TimeSlotSize, s.replayStaged)
		return
	}
	s.Flush()
	s.WaitIdle()
}

// replayStaged decodes the next staged burst on the producer.
func (s *Session) replayStaged() (uint32, bool) {
	if s.bp.At(s.readPos.Load()) {
		return 0, false
	}
	data := s.staging.Next(constants.BurstSize)
	if data == nil {
		return 0, false
	}
	cycles := s.decoder.RunCommands(data, s.staging)
	s.readPos.Add(uint64(len(data)))
	s.counters.RangesReplayed.Add(1)
	s.counters.CyclesReplayed.Add(uint64(cycles))
	return cycles, true
}

// ResetStream restarts the command stream. Unflushed and flushed but not
// yet replayed data is discarded unreplayed, and the pacing credit, frame
// counters and read position start over. The request handler sees a
// StreamReset. Producer only.
func (s *Session) ResetStream() {
	s.write.Reset()
	s.mailbox.Submit(mailbox.StreamReset{}, true)
	s.staging.Reset()
	s.ticks.Reset()
	s.fence.Reset()
	s.readPos.Store(0)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAILBOX
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Submit sends req to the consumer context. See mailbox.Mailbox.Submit.
func (s *Session) Submit(req mailbox.Request, blocking bool) bool {
	return s.mailbox.Submit(req, blocking)
}

// Barrier blocks until every request submitted so far has been handled.
func (s *Session) Barrier() { s.mailbox.Barrier() }

// Mailbox exposes the session's mailbox.
func (s *Session) Mailbox() *mailbox.Mailbox { return s.mailbox }
