package fifo

import (
	"gpufifo/chunk"
	"gpufifo/mailbox"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// DRAIN LOOP
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// step is one iteration of the consumer loop.
//
// Algorithm:
//  1. Drain the mailbox; a paused emulator stops here
//  2. While credit allows and no breakpoint is hit, replay the next range
//     and drain the mailbox between ranges
//  3. Out of data: discard leftover credit, flush drawing, refresh peeks
//  4. Park unless new work arrived during the iteration
func (s *Session) step() {
	s.mailbox.Drain()
	if !s.emuRunning.Load() {
		s.loop.AllowSleep()
		return
	}

	exhausted := false
	for s.ticks.CanRun() && !s.bp.At(s.readPos.Load()) {
		data := s.nextRange()
		if data == nil {
			exhausted = true
			break
		}
		s.replay(data)
		s.mailbox.Drain()
	}

	if exhausted {
		s.ticks.SkipIdle()
	}
	s.renderer.FlushDrawing()
	s.renderer.RefreshPeekCache()
	s.loop.AllowSleep()
}

// nextRange returns the next range to replay, popping chunks from the
// transfer queue as needed. Finished chunks go back to the pool. Returns
// nil when nothing is queued. Consumer only.
func (s *Session) nextRange() []byte {
	for {
		if s.read != nil {
			if s.read.DrainMailbox && s.read.AtFirstRange() {
				s.mailbox.Drain()
				// A ProcessChunk, Swap or StreamReset handled just now
				// finishes the read chunk itself.
				if s.read == nil {
					continue
				}
			}
			if data := s.read.NextRange(); data != nil {
				return data
			}
			s.release(s.read)
			s.read = nil
		}
		s.read = s.transfer.Pop()
		if s.read == nil {
			return nil
		}
	}
}

func (s *Session) replay(data []byte) {
	cycles := s.decoder.RunCommands(data, s.read)
	s.readPos.Add(uint64(len(data)))
	s.counters.RangesReplayed.Add(1)
	s.counters.CyclesReplayed.Add(uint64(cycles))
	s.ticks.Consume(cycles)
}

func (s *Session) release(c *chunk.Chunk) {
	s.pool.Put(c)
	s.pending.Add(-1)
	s.counters.ChunksReplayed.Add(1)
}

// drainAll replays everything already flushed, ignoring credit and
// breakpoints. Used where producer program order must be restored.
func (s *Session) drainAll() {
	for data := s.nextRange(); data != nil; data = s.nextRange() {
		s.replay(data)
	}
}

// discardAll returns every flushed chunk to the pool unreplayed.
func (s *Session) discardAll() {
	for {
		if s.read == nil {
			if s.read = s.transfer.Pop(); s.read == nil {
				return
			}
		}
		s.release(s.read)
		s.read = nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// REQUEST HANDLING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// requestHandler runs mailbox requests in the consumer context. Requests
// that touch pipeline state are handled here; the rest go to the user
// handler.
type requestHandler struct {
	s *Session
}

func (h *requestHandler) HandleRequest(req mailbox.Request) {
	s := h.s
	switch r := req.(type) {
	case mailbox.ProcessChunk:
		// Everything flushed before this chunk replays first.
		s.drainAll()
		if r.Chunk == nil {
			return
		}
		s.read = r.Chunk
		s.drainAll()
	case mailbox.Swap:
		// The frame is finished only once everything flushed for it has
		// replayed.
		s.drainAll()
		s.handler.HandleRequest(req)
		s.fence.BumpConsumer()
	case mailbox.StreamReset:
		s.discardAll()
		s.handler.HandleRequest(req)
	case mailbox.Sync:
	default:
		s.handler.HandleRequest(req)
	}
}

type batchingHandler struct {
	requestHandler
	batcher mailbox.PokeBatcher
}

func (h *batchingHandler) HandlePokes(target mailbox.Target, pokes []mailbox.Poke) {
	h.batcher.HandlePokes(target, pokes)
}
