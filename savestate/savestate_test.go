package savestate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// CODEC
// ============================================================================

type sample struct {
	a    uint64
	b    int64
	c    uint32
	flag bool
	buf  [16]byte
}

func (s *sample) do(c *Codec) {
	c.DoMarker("sample")
	c.DoU64(&s.a)
	c.DoI64(&s.b)
	c.DoU32(&s.c)
	c.DoBool(&s.flag)
	c.DoArray(s.buf[:])
	c.DoMarker("sample-end")
}

func TestCodecRoundTrip(t *testing.T) {
	in := sample{a: 1 << 60, b: -12345, c: 0xCAFEBABE, flag: true}
	copy(in.buf[:], "0123456789abcdef")

	w := NewWriter()
	in.do(w)
	require.NoError(t, w.Err())

	var out sample
	r := NewReader(w.Bytes())
	require.True(t, r.IsReading())
	out.do(r)
	require.NoError(t, r.Err())
	require.Equal(t, in, out)
	require.Zero(t, r.Remaining())
}

func TestCodecFailures(t *testing.T) {
	w := NewWriter()
	(&sample{}).do(w)
	good := w.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", good[:len(good)-3]},
		{"empty", nil},
		{"wrong marker", func() []byte {
			c := NewWriter()
			c.DoMarker("other!")
			return c.Bytes()
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			var s sample
			s.do(r)
			require.ErrorIs(t, r.Err(), ErrCorrupt)
		})
	}
}

func TestCodecArrayLengthMismatch(t *testing.T) {
	w := NewWriter()
	w.DoArray(make([]byte, 8))

	r := NewReader(w.Bytes())
	r.DoArray(make([]byte, 16))
	require.ErrorIs(t, r.Err(), ErrCorrupt)
}

func TestCodecFirstErrorLatches(t *testing.T) {
	r := NewReader([]byte{1})
	var v uint64
	r.DoU64(&v)
	first := r.Err()
	require.Error(t, first)
	r.Fail(os.ErrClosed)
	require.Equal(t, first, r.Err())
}

// ============================================================================
// STORE
// ============================================================================

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	state := bytes.Repeat([]byte("fifo-state "), 10_000)

	require.NoError(t, s.Save(ctx, 3, Meta{Frame: 42}, state))

	got, meta, err := s.Load(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, state, got)
	require.Equal(t, 3, meta.Slot)
	require.EqualValues(t, 42, meta.Frame)
	require.Equal(t, len(state), meta.Size)
	require.Less(t, meta.Stored, meta.Size, "repetitive state should compress")
}

func TestStoreOverwriteAndList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Save(ctx, 2, Meta{Frame: 1}, []byte("a")))
	require.NoError(t, s.Save(ctx, 1, Meta{Frame: 2}, []byte("b")))
	require.NoError(t, s.Save(ctx, 2, Meta{Frame: 3}, []byte("c")))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 1, list[0].Slot)
	require.Equal(t, 2, list[1].Slot)
	require.EqualValues(t, 3, list[1].Frame)

	require.NoError(t, s.Delete(ctx, 2))
	_, _, err = s.Load(ctx, 2)
	require.ErrorIs(t, err, ErrNoSlot)
}

func TestStoreDetectsTamperedBlob(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Save(ctx, 1, Meta{}, []byte("original state")))

	tampered := s.enc.EncodeAll([]byte("tampered state"), nil)
	_, err := s.db.Exec(`UPDATE slots SET data = ? WHERE slot = 1`, tampered)
	require.NoError(t, err)

	_, _, err = s.Load(ctx, 1)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStoreExport(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	state := []byte{1, 2, 3, 4, 5}
	require.NoError(t, s.Save(ctx, 0, Meta{}, state))

	path := filepath.Join(t.TempDir(), "slot0.state")
	require.NoError(t, s.Export(ctx, 0, path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, state, got)

	require.ErrorIs(t, s.Export(ctx, 9, path), ErrNoSlot)
}
