package fifo

import (
	"context"
	"fmt"

	"gpufifo/mailbox"
	"gpufifo/savestate"
)

// SaveState quiesces the pipeline and writes the session state into c,
// followed by whatever the request handler writes for the SaveState
// request. Producer only.
func (s *Session) SaveState(c *savestate.Codec) error {
	if c.Mode() != savestate.ModeWrite {
		return fmt.Errorf("save state: codec is in read mode")
	}
	return s.doState(c)
}

// LoadState quiesces the pipeline and restores the session state from c.
// The unflushed write chunk is discarded. Producer only.
func (s *Session) LoadState(c *savestate.Codec) error {
	if c.Mode() != savestate.ModeRead {
		return fmt.Errorf("load state: codec is in write mode")
	}
	s.write.Reset()
	return s.doState(c)
}

// doState runs the symmetric save/load sequence.
//
// Algorithm:
//  1. Flush, then have the consumer replay every flushed chunk
//  2. Wait for the mailbox and the consumer to go idle
//  3. Refuse if anything is still in flight
//  4. Walk producer-owned state, then hand c to the consumer as a
//     blocking SaveState request
func (s *Session) doState(c *savestate.Codec) error {
	s.Flush()
	s.mailbox.Submit(mailbox.ProcessChunk{}, true)
	s.mailbox.Barrier()
	s.WaitIdle()

	if n := s.InFlight(); n != 0 || !s.mailbox.IsEmpty() || !s.write.IsEmpty() {
		return fmt.Errorf("%w: %d chunks, %d requests", ErrInFlight, n, s.mailbox.Len())
	}

	c.DoMarker("fifo")
	s.staging.DoState(c)

	credit, suspended := s.ticks.Credit(), s.ticks.Suspended()
	c.DoI64(&credit)
	c.DoBool(&suspended)

	producer, consumer := s.fence.Frames()
	c.DoU64(&producer)
	c.DoU64(&consumer)

	readPos := s.readPos.Load()
	c.DoU64(&readPos)

	if err := c.Err(); err != nil {
		return fmt.Errorf("fifo state: %w", err)
	}
	if c.IsReading() {
		s.ticks.Restore(credit, suspended)
		s.fence.Restore(producer, consumer)
		s.readPos.Store(readPos)
	}

	if !s.mailbox.Submit(mailbox.SaveState{State: c}, true) {
		return fmt.Errorf("%w: consumer is not accepting requests", ErrStopped)
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("consumer state: %w", err)
	}
	return nil
}

// SaveSlot encodes the session into slot of store.
func (s *Session) SaveSlot(ctx context.Context, store *savestate.Store, slot int) error {
	c := savestate.NewWriter()
	if err := s.SaveState(c); err != nil {
		return err
	}
	producer, _ := s.fence.Frames()
	return store.Save(ctx, slot, savestate.Meta{Frame: producer, Producer: "gpufifo"}, c.Bytes())
}

// LoadSlot restores the session from slot of store.
func (s *Session) LoadSlot(ctx context.Context, store *savestate.Store, slot int) error {
	data, _, err := store.Load(ctx, slot)
	if err != nil {
		return err
	}
	c := savestate.NewReader(data)
	if err := s.LoadState(c); err != nil {
		return err
	}
	if c.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", savestate.ErrCorrupt, c.Remaining())
	}
	return nil
}
