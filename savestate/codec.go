// ════════════════════════════════════════════════════════════════════════════════════════════════
// Save-State Codec
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Symmetric Binary State Encoder/Decoder
//
// Description:
//   One Codec value either writes or reads. Components describe their persisted fields once
//   through Do* calls; the same code path saves and restores. Integers are little-endian.
//   Sections are framed by named markers so a layout mismatch fails loudly instead of
//   silently restoring garbage.
//
// Error Model:
//   The first failure is latched; every later Do* call is a no-op and Err reports it.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package savestate

import (
	"errors"
	"fmt"

	"gpufifo/utils"
)

var (
	// ErrCorrupt reports state bytes that do not decode or fail their digest.
	ErrCorrupt = errors.New("savestate: corrupt state")

	// ErrNoSlot reports a load from an empty slot.
	ErrNoSlot = errors.New("savestate: slot is empty")
)

// Mode selects the codec direction.
type Mode uint8

const (
	ModeWrite Mode = iota
	ModeRead
)

// Codec walks persisted fields in one direction.
type Codec struct {
	mode Mode
	buf  []byte
	off  int
	err  error
}

// NewWriter returns a codec that appends to an internal buffer.
func NewWriter() *Codec {
	return &Codec{mode: ModeWrite, buf: make([]byte, 0, 4096)}
}

// NewReader returns a codec that decodes b.
func NewReader(b []byte) *Codec {
	return &Codec{mode: ModeRead, buf: b}
}

// Mode reports the codec direction.
func (c *Codec) Mode() Mode { return c.mode }

// IsReading reports whether Do* calls restore fields.
func (c *Codec) IsReading() bool { return c.mode == ModeRead }

// Err returns the first failure, if any.
func (c *Codec) Err() error { return c.err }

// Bytes returns the encoded state. Writer only.
func (c *Codec) Bytes() []byte { return c.buf }

// Remaining reports undecoded bytes. Reader only.
func (c *Codec) Remaining() int { return len(c.buf) - c.off }

// take reserves n bytes for reading, latching ErrCorrupt on short input.
func (c *Codec) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.buf) {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorrupt, n, c.off, len(c.buf)-c.off)
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FIELD CODECS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// DoU64 saves or restores *v.
func (c *Codec) DoU64(v *uint64) {
	if c.err != nil {
		return
	}
	if c.mode == ModeWrite {
		var b [8]byte
		utils.Store64(b[:], *v)
		c.buf = append(c.buf, b[:]...)
		return
	}
	if b := c.take(8); b != nil {
		*v = utils.Load64(b)
	}
}

// DoI64 saves or restores *v.
func (c *Codec) DoI64(v *int64) {
	u := uint64(*v)
	c.DoU64(&u)
	*v = int64(u)
}

// DoU32 saves or restores *v as 8 bytes.
func (c *Codec) DoU32(v *uint32) {
	u := uint64(*v)
	c.DoU64(&u)
	if u > 0xFFFF_FFFF && c.err == nil {
		c.err = fmt.Errorf("%w: value %d overflows u32", ErrCorrupt, u)
		return
	}
	*v = uint32(u)
}

// DoBool saves or restores *v.
func (c *Codec) DoBool(v *bool) {
	if c.err != nil {
		return
	}
	if c.mode == ModeWrite {
		var b byte
		if *v {
			b = 1
		}
		c.buf = append(c.buf, b)
		return
	}
	if b := c.take(1); b != nil {
		*v = b[0] != 0
	}
}

// DoArray saves or restores exactly len(b) bytes. The length itself is
// also recorded so a size mismatch is detected on load.
func (c *Codec) DoArray(b []byte) {
	n := uint64(len(b))
	c.DoU64(&n)
	if c.err != nil {
		return
	}
	if c.mode == ModeWrite {
		c.buf = append(c.buf, b...)
		return
	}
	if n != uint64(len(b)) {
		c.err = fmt.Errorf("%w: array length %d, want %d", ErrCorrupt, n, len(b))
		return
	}
	if src := c.take(len(b)); src != nil {
		copy(b, src)
	}
}

// DoMarker writes name, or checks that name comes next.
func (c *Codec) DoMarker(name string) {
	if c.err != nil {
		return
	}
	n := uint64(len(name))
	c.DoU64(&n)
	if c.mode == ModeWrite {
		c.buf = append(c.buf, name...)
		return
	}
	if c.err != nil {
		return
	}
	if n != uint64(len(name)) {
		c.err = fmt.Errorf("%w: marker %q missing", ErrCorrupt, name)
		return
	}
	got := c.take(len(name))
	if got != nil && utils.B2s(got) != name {
		c.err = fmt.Errorf("%w: marker %q, found %q", ErrCorrupt, name, got)
	}
}

// Fail latches err unless an earlier failure is already recorded.
func (c *Codec) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
