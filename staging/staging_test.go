package staging

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"gpufifo/constants"
	"gpufifo/debug"
	"gpufifo/savestate"
)

func burst(seed byte) []byte {
	b := make([]byte, constants.BurstSize)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// captureAlerts counts alerts for the duration of the test.
func captureAlerts(t *testing.T) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	debug.SetAlertHandler(func(string) { n.Add(1) })
	t.Cleanup(func() { debug.SetAlertHandler(nil) })
	return &n
}

func TestPushNextRoundTrip(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Push(burst(byte(i*40))))
	}
	require.Equal(t, 3*constants.BurstSize, b.Len())

	for i := 0; i < 3; i++ {
		got := b.Next(constants.BurstSize)
		require.Equal(t, burst(byte(i*40)), got)
		require.GreaterOrEqual(t, cap(got)-len(got), constants.ChunkPadding)
	}
	require.Nil(t, b.Next(constants.BurstSize))
	r, w := b.Cursors()
	require.Zero(t, r)
	require.Zero(t, w)
}

func TestPushCompactsWhenTailIsFull(t *testing.T) {
	b := New()
	fill := make([]byte, constants.FifoSize-16)
	require.NoError(t, b.Push(fill))
	b.Next(constants.FifoSize / 2) // consume half

	tail := burst(7)
	require.NoError(t, b.Push(tail))

	r, w := b.Cursors()
	require.Zero(t, r, "compaction moves unread bytes to the front")
	require.Equal(t, constants.FifoSize-16-constants.FifoSize/2+len(tail), w)

	rest := b.Next(constants.FifoSize)
	require.True(t, bytes.HasSuffix(rest, tail))
}

func TestPushOverflowIsRejected(t *testing.T) {
	alerts := captureAlerts(t)
	b := New()
	require.NoError(t, b.Push(make([]byte, constants.FifoSize-8)))

	err := b.Push(burst(1))
	require.ErrorIs(t, err, ErrCapacity)
	require.EqualValues(t, 1, alerts.Load())
	require.EqualValues(t, 1, b.Violations())
	require.Equal(t, constants.FifoSize-8, b.Len(), "rejected burst must not be staged")
}

func TestAuxLookupAndRewind(t *testing.T) {
	b := New()
	require.NoError(t, b.PushAux(1, []byte("tlut")))
	require.NoError(t, b.PushAux(2, []byte("texture")))
	require.NoError(t, b.Push(burst(0)))

	got, ok := b.Lookup(2)
	require.True(t, ok)
	require.Equal(t, []byte("texture"), got)
	require.NotZero(t, b.AuxLen())

	for b.Next(constants.BurstSize) != nil {
	}
	_, ok = b.Lookup(1)
	require.False(t, ok, "drained buffer rewinds aux")
	require.Zero(t, b.AuxLen())
}

func TestAuxPendingSurvivesDrain(t *testing.T) {
	b := New()
	require.NoError(t, b.Push(burst(0)))
	require.NoError(t, b.PushAux(9, []byte("next")))

	for b.Next(constants.BurstSize) != nil {
	}
	got, ok := b.Lookup(9)
	require.True(t, ok, "snapshot for unstaged data was dropped")
	require.Equal(t, []byte("next"), got)
}

func TestAuxOverflow(t *testing.T) {
	alerts := captureAlerts(t)
	b := New()
	err := b.PushAux(1, make([]byte, constants.FifoSize+1))
	require.ErrorIs(t, err, ErrCapacity)
	require.EqualValues(t, 1, alerts.Load())
}

func TestDoStateRoundTrip(t *testing.T) {
	src := New()
	require.NoError(t, src.Push(burst(1)))
	require.NoError(t, src.Push(burst(2)))
	src.Next(constants.BurstSize)

	w := savestate.NewWriter()
	src.DoState(w)
	require.NoError(t, w.Err())

	dst := New()
	r := savestate.NewReader(w.Bytes())
	dst.DoState(r)
	require.NoError(t, r.Err())

	sr, sw := src.Cursors()
	dr, dw := dst.Cursors()
	require.Equal(t, sr, dr)
	require.Equal(t, sw, dw)
	require.Equal(t, burst(2), dst.Next(constants.BurstSize))
}

func TestDoStateRejectsBadCursors(t *testing.T) {
	w := savestate.NewWriter()
	w.DoMarker("staging")
	w.DoArray(make([]byte, constants.FifoSize))
	bad, read := uint64(constants.FifoSize+1), uint64(0)
	w.DoU64(&bad)
	w.DoU64(&read)

	r := savestate.NewReader(w.Bytes())
	New().DoState(r)
	require.ErrorIs(t, r.Err(), savestate.ErrCorrupt)
}
