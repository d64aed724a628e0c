package chunkpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gpufifo/chunk"
)

// TestGetAllocatesWhenEmpty verifies exhaustion degrades to allocation.
func TestGetAllocatesWhenEmpty(t *testing.T) {
	p := New(0)
	a, b := p.Get(), p.Get()
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotSame(t, a, b)
	require.EqualValues(t, 2, p.Allocated())
}

// TestReturnedChunksAreReused exercises the wholesale swap path.
func TestReturnedChunksAreReused(t *testing.T) {
	p := New(0)
	c := p.Get()
	require.NoError(t, c.Append([]byte{1, 2, 3}))
	_ = c.Snapshot(4, []byte{5})

	p.Put(c)
	require.Equal(t, 1, p.Idle())

	got := p.Get()
	require.Same(t, c, got, "returned chunk should be recycled")
	require.True(t, got.IsEmpty(), "recycled chunk must be reset")
	_, ok := got.Lookup(4)
	require.False(t, ok)
	require.EqualValues(t, 1, p.Allocated())
}

// TestPutNil is a no-op.
func TestPutNil(t *testing.T) {
	p := New(0)
	p.Put(nil)
	require.Zero(t, p.Idle())
}

// TestConcurrentGetPut runs one acquirer against one returner and checks
// every acquired chunk comes back reset and nothing is lost.
func TestConcurrentGetPut(t *testing.T) {
	const rounds = 20000
	p := New(0)
	handoff := make(chan *chunk.Chunk, 64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := range handoff {
			p.Put(c)
		}
	}()

	for i := 0; i < rounds; i++ {
		c := p.Get()
		if !c.IsEmpty() {
			t.Fatalf("round %d: acquired chunk not reset", i)
		}
		require.NoError(t, c.Append([]byte{byte(i)}))
		handoff <- c
	}
	close(handoff)
	wg.Wait()

	require.LessOrEqual(t, p.Allocated(), uint64(rounds))
	require.EqualValues(t, p.Allocated(), p.Idle())
}
