// ════════════════════════════════════════════════════════════════════════════════════════════════
// Command Chunk
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Transferable Unit Buffer
//
// Description:
//   A Chunk batches producer command bytes into independently replayable ranges, together with
//   the auxiliary snapshots the consumer needs to decode them deterministically. A chunk is moved
//   between contexts as one unit and is never shared: producer while appending, transfer queue
//   while in flight, consumer while replaying, pool while idle.
//
// Layout:
//   - Every range starts on an 8-byte boundary
//   - At least 4 zero bytes follow every payload so bulk readers may overread
//   - Snapshots live in a separate aux area with the same alignment rule
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package chunk

import (
	"errors"

	"gpufifo/constants"
	"gpufifo/utils"
)

// ErrCapacity reports a write that would push a chunk past its hard bound.
var ErrCapacity = errors.New("chunk: capacity exceeded")

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TYPE DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Range delimits one replayable sub-stream inside Chunk.data.
type Range struct {
	Start  uint32
	Length uint32
}

// end returns the padded, aligned end offset of the range.
func (r Range) end() uint32 {
	return utils.AlignUp(r.Start+r.Length+constants.ChunkPadding, constants.ChunkAlign)
}

type auxEntry struct {
	offset uint32
	length uint32
}

// Policy decides when a chunk has accumulated enough to be handed over.
type Policy struct {
	BurstSize     int // bytes per producer write
	BurstMultiple int // flush once data exceeds BurstSize*BurstMultiple
	AuxLimit      int // flush once snapshots exceed this many bytes
}

// DefaultPolicy returns the nominal 4×-burst / 1 KiB policy.
func DefaultPolicy() Policy {
	return Policy{
		BurstSize:     constants.BurstSize,
		BurstMultiple: constants.DefaultBurstMultiple,
		AuxLimit:      constants.DefaultAuxFlushBytes,
	}
}

// Chunk is a growable command buffer plus snapshot area.
type Chunk struct {
	data      []byte // len = padded end of last range
	aux       []byte // len = padded end of last snapshot
	ranges    []Range
	snapshots map[uint32]auxEntry
	cursor    int
	maxBytes  int

	// DrainMailbox asks the consumer to drain the mailbox before the first range.
	DrainMailbox bool
	// SyncPoint forces a flush and marks the chunk as a synchronization point.
	SyncPoint bool
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSTRUCTION & RESET
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// New returns an empty chunk whose data and aux areas may each grow up to
// maxBytes. maxBytes <= 0 selects constants.FifoSize.
func New(maxBytes int) *Chunk {
	if maxBytes <= 0 {
		maxBytes = constants.FifoSize
	}
	return &Chunk{
		snapshots: make(map[uint32]auxEntry),
		maxBytes:  maxBytes,
	}
}

// Reset clears logical content and keeps every backing allocation.
func (c *Chunk) Reset() {
	c.data = c.data[:0]
	c.aux = c.aux[:0]
	c.ranges = c.ranges[:0]
	clear(c.snapshots)
	c.cursor = 0
	c.DrainMailbox = false
	c.SyncPoint = false
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PRODUCER OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Append records src as a new range.
//
// Algorithm:
//  1. Start after the previous payload plus padding, aligned up to 8
//  2. Grow geometrically if the padded end does not fit
//  3. Copy the payload and zero the padding
//
// A write past the hard bound is rejected whole; nothing is recorded.
func (c *Chunk) Append(src []byte) error {
	var start uint32
	if n := len(c.ranges); n > 0 {
		start = c.ranges[n-1].end()
	}
	r := Range{Start: start, Length: uint32(len(src))}
	end := int(r.end())
	if end > c.maxBytes || len(src) > c.maxBytes {
		return ErrCapacity
	}

	c.data = grow(c.data, end)
	copy(c.data[start:], src)
	clear(c.data[int(start)+len(src) : end])
	c.ranges = append(c.ranges, r)
	return nil
}

// Snapshot copies src into the aux area under key. A later snapshot of the
// same key within this chunk's lifetime replaces the earlier one.
func (c *Chunk) Snapshot(key uint32, src []byte) error {
	offset := utils.AlignUpInt(len(c.aux), constants.ChunkAlign)
	end := utils.AlignUpInt(offset+len(src), constants.ChunkAlign)
	if end > c.maxBytes {
		return ErrCapacity
	}

	c.aux = grow(c.aux, end)
	copy(c.aux[offset:], src)
	clear(c.aux[offset+len(src) : end])
	c.snapshots[key] = auxEntry{offset: uint32(offset), length: uint32(len(src))}
	return nil
}

// grow extends b to length n, doubling capacity when it runs out.
func grow(b []byte, n int) []byte {
	if n <= cap(b) {
		return b[:n]
	}
	newCap := max(2*cap(b), n, constants.ChunkInitialBytes)
	nb := make([]byte, n, newCap)
	copy(nb, b)
	return nb
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSUMER OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Lookup returns the snapshot recorded under key, or false if none was
// recorded since the last Reset.
func (c *Chunk) Lookup(key uint32) ([]byte, bool) {
	e, ok := c.snapshots[key]
	if !ok {
		return nil, false
	}
	return c.aux[e.offset : e.offset+e.length], true
}

// NextRange returns the next unread range, or nil once every range has been
// returned. The slice's capacity covers the zero padding so decoders may
// reslice up to cap without leaving the chunk.
func (c *Chunk) NextRange() []byte {
	if c.cursor >= len(c.ranges) {
		return nil
	}
	r := c.ranges[c.cursor]
	c.cursor++
	return c.data[r.Start : r.Start+r.Length : r.end()]
}

// AtFirstRange reports whether no range has been read yet.
func (c *Chunk) AtFirstRange() bool { return c.cursor == 0 }

// Remaining reports how many ranges are still unread.
func (c *Chunk) Remaining() int { return len(c.ranges) - c.cursor }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// IsEmpty reports whether the chunk holds no ranges.
func (c *Chunk) IsEmpty() bool { return len(c.ranges) == 0 }

// Len is the number of data bytes in use, padding included.
func (c *Chunk) Len() int { return len(c.data) }

// AuxLen is the number of aux bytes in use, padding included.
func (c *Chunk) AuxLen() int { return len(c.aux) }

// Cap is the backing capacity of the data area.
func (c *Chunk) Cap() int { return cap(c.data) }

// Ranges returns the recorded ranges. The slice aliases internal state.
func (c *Chunk) Ranges() []Range { return c.ranges }

// ShouldFlush reports whether the chunk should be handed to the consumer.
func (c *Chunk) ShouldFlush(p Policy) bool {
	return c.SyncPoint ||
		len(c.data) > p.BurstSize*p.BurstMultiple ||
		len(c.aux) > p.AuxLimit
}
