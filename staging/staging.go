// ════════════════════════════════════════════════════════════════════════════════════════════════
// Staging Buffer
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Fixed-Capacity Producer Buffer For Inline Replay
//
// Description:
//   In single-context sessions the producer stages bursts here and replays them itself between
//   scheduling points. The buffer never grows: when the tail lacks room the unread bytes are
//   moved to the front, and a burst that still does not fit is a capacity violation.
//
// Layout:
//   - data: FifoSize bytes plus ChunkPadding trailing bytes for decoder overreads
//   - aux:  FifoSize bytes of keyed snapshots, rewound whenever all data has been replayed
//
// Persistence:
//   DoState saves the raw data area and both cursors. Aux content is transient.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package staging

import (
	"errors"
	"fmt"

	"gpufifo/constants"
	"gpufifo/debug"
	"gpufifo/savestate"
	"gpufifo/utils"
)

// ErrCapacity reports a write rejected because the fixed area is full.
var ErrCapacity = errors.New("staging: capacity exceeded")

type auxEntry struct {
	offset, length int
}

// Buffer is the single-context staging area. Not safe for concurrent use;
// it lives entirely on the producer.
type Buffer struct {
	data  []byte
	read  int
	write int

	aux        []byte
	auxWrite   int
	snaps      map[uint32]auxEntry
	auxPending bool // snapshots taken since the last Push

	violations uint64
}

// New allocates the fixed data and aux areas.
func New() *Buffer {
	return &Buffer{
		data:  make([]byte, constants.FifoSize+constants.ChunkPadding),
		aux:   make([]byte, constants.FifoSize),
		snaps: make(map[uint32]auxEntry),
	}
}

// Reset rewinds every cursor and forgets all snapshots.
func (b *Buffer) Reset() {
	b.read, b.write = 0, 0
	b.rewindAux()
}

func (b *Buffer) rewindAux() {
	b.auxWrite = 0
	b.auxPending = false
	clear(b.snaps)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PRODUCER WRITES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Push stages burst.
//
// Algorithm:
//  1. If the tail has room, copy in place
//  2. Otherwise move the unread bytes to the front and retry
//  3. If the unread bytes plus burst exceed FifoSize, raise an alert and drop burst
func (b *Buffer) Push(burst []byte) error {
	if len(burst) > constants.FifoSize-b.write {
		existing := b.write - b.read
		if len(burst) > constants.FifoSize-existing {
			b.violations++
			debug.Alert(fmt.Sprintf("FIFO out of bounds (existing %d + new %d > %d)",
				existing, len(burst), constants.FifoSize))
			return ErrCapacity
		}
		copy(b.data, b.data[b.read:b.write])
		b.read, b.write = 0, existing
	}
	copy(b.data[b.write:], burst)
	b.write += len(burst)
	clear(b.data[b.write : b.write+constants.ChunkPadding])
	b.auxPending = false
	return nil
}

// PushAux stores a keyed snapshot for the decoder. A later snapshot of the
// same key replaces the earlier one until the aux area rewinds.
func (b *Buffer) PushAux(key uint32, src []byte) error {
	offset := utils.AlignUpInt(b.auxWrite, constants.ChunkAlign)
	if len(src) > len(b.aux)-offset {
		b.violations++
		debug.Alert("Absurdly large aux buffer")
		return ErrCapacity
	}
	copy(b.aux[offset:], src)
	b.auxWrite = offset + len(src)
	b.snaps[key] = auxEntry{offset: offset, length: len(src)}
	b.auxPending = true
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INLINE REPLAY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Next returns up to n unread bytes and marks them read, or nil when the
// buffer is drained. The slice capacity reaches at least ChunkPadding bytes
// past its end. The nil return rewinds both areas, except that snapshots
// taken after the last Push survive since they belong to data not yet
// staged.
func (b *Buffer) Next(n int) []byte {
	if b.read == b.write {
		b.read, b.write = 0, 0
		if !b.auxPending {
			b.rewindAux()
		}
		return nil
	}
	end := min(b.read+n, b.write)
	out := b.data[b.read:end:min(end+constants.ChunkPadding, len(b.data))]
	b.read = end
	return out
}

// Lookup returns the snapshot stored under key.
func (b *Buffer) Lookup(key uint32) ([]byte, bool) {
	e, ok := b.snaps[key]
	if !ok {
		return nil, false
	}
	return b.aux[e.offset : e.offset+e.length], true
}

// Len reports staged but unreplayed bytes.
func (b *Buffer) Len() int { return b.write - b.read }

// AuxLen reports aux bytes in use.
func (b *Buffer) AuxLen() int { return b.auxWrite }

// Violations counts rejected writes.
func (b *Buffer) Violations() uint64 { return b.violations }

// Cursors returns the read and write offsets.
func (b *Buffer) Cursors() (read, write int) { return b.read, b.write }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PERSISTENCE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// DoState saves or restores the data area and cursors.
func (b *Buffer) DoState(c *savestate.Codec) {
	c.DoMarker("staging")
	c.DoArray(b.data[:constants.FifoSize])

	w, r := uint64(b.write), uint64(b.read)
	c.DoU64(&w)
	c.DoU64(&r)
	if !c.IsReading() || c.Err() != nil {
		return
	}
	if w > constants.FifoSize || r > w {
		c.Fail(fmt.Errorf("%w: staging cursors read=%d write=%d", savestate.ErrCorrupt, r, w))
		return
	}
	b.write, b.read = int(w), int(r)
	clear(b.data[b.write : b.write+constants.ChunkPadding])
	b.rewindAux()
}
