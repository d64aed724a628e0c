package mailbox

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// HELPERS
// ============================================================================

type recorder struct {
	mu   sync.Mutex
	seen []Request
}

func (r *recorder) HandleRequest(req Request) {
	r.mu.Lock()
	r.seen = append(r.seen, req)
	r.mu.Unlock()
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.seen))
	for i, req := range r.seen {
		out[i] = req.Kind()
	}
	return out
}

type batcher struct {
	recorder
	batches [][]Poke
}

func (b *batcher) HandlePokes(_ Target, pokes []Poke) {
	b.batches = append(b.batches, append([]Poke(nil), pokes...))
}

// consumer drains m on its own goroutine until stop is closed.
func consumer(m *Mailbox, stop <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			m.Drain()
			time.Sleep(50 * time.Microsecond)
		}
	}()
	return &wg
}

// ============================================================================
// ORDERING
// ============================================================================

func TestDrainPreservesSubmissionOrder(t *testing.T) {
	rec := &recorder{}
	m := New(rec, nil)

	want := []Kind{KindSwap, KindPerfQuery, KindPokeDepth, KindSync, KindStreamReset, KindPokeColor}
	reqs := []Request{Swap{}, PerfQuery{}, Poke{Target: Depth}, Sync{}, StreamReset{}, Poke{Target: Color}}
	for _, r := range reqs {
		require.True(t, m.Submit(r, false))
	}
	require.False(t, m.IsEmpty())
	require.Equal(t, len(reqs), m.Len())

	m.Drain()
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	require.True(t, m.IsEmpty())
	require.Zero(t, m.Len())
	require.EqualValues(t, len(reqs), m.Handled())
}

func TestDrainOnEmptyIsNoop(t *testing.T) {
	rec := &recorder{}
	m := New(rec, nil)
	m.Drain()
	require.Empty(t, rec.kinds())
}

// ============================================================================
// BLOCKING SUBMISSION
// ============================================================================

func TestBlockingSubmitWaitsForItsRequest(t *testing.T) {
	var handled atomic.Bool
	m := New(HandlerFunc(func(Request) {
		time.Sleep(5 * time.Millisecond)
		handled.Store(true)
	}), nil)

	stop := make(chan struct{})
	wg := consumer(m, stop)
	defer func() { close(stop); wg.Wait() }()

	require.True(t, m.Submit(Sync{}, true))
	require.True(t, handled.Load(), "blocking submit returned before the handler ran")
}

func TestBlockingPeekSeesResult(t *testing.T) {
	m := New(HandlerFunc(func(req Request) {
		if p, ok := req.(Peek); ok {
			*p.Data = uint32(p.X)<<16 | uint32(p.Y)
		}
	}), nil)

	stop := make(chan struct{})
	wg := consumer(m, stop)
	defer func() { close(stop); wg.Wait() }()

	var v uint32
	m.Submit(Peek{Target: Color, X: 3, Y: 9, Data: &v}, true)
	require.Equal(t, uint32(3<<16|9), v)
}

func TestWakeCalledOnQueuedSubmit(t *testing.T) {
	var wakes atomic.Int32
	m := New(&recorder{}, func() { wakes.Add(1) })
	m.Submit(Sync{}, false)
	m.Submit(Sync{}, false)
	require.EqualValues(t, 2, wakes.Load())
}

// ============================================================================
// BARRIER
// ============================================================================

func TestBarrierWaitsForAllPrior(t *testing.T) {
	var count atomic.Int32
	m := New(HandlerFunc(func(Request) { count.Add(1) }), nil)
	for i := 0; i < 10; i++ {
		m.Submit(PerfQuery{}, false)
	}

	stop := make(chan struct{})
	wg := consumer(m, stop)
	defer func() { close(stop); wg.Wait() }()

	m.Barrier()
	require.EqualValues(t, 10, count.Load())
	require.True(t, m.IsEmpty())
}

func TestBarrierReleasedByDisable(t *testing.T) {
	m := New(&recorder{}, nil)
	m.Submit(Sync{}, false)

	done := make(chan struct{})
	go func() { m.Barrier(); close(done) }()
	time.Sleep(10 * time.Millisecond)
	m.SetEnabled(false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier not released by disable")
	}
}

// ============================================================================
// MODES
// ============================================================================

func TestBypassRunsInline(t *testing.T) {
	rec := &recorder{}
	m := New(rec, nil)
	m.SetBypass(true)
	require.True(t, m.Bypass())

	m.Submit(Swap{XfbAddr: 1}, false)
	require.Equal(t, []Kind{KindSwap}, rec.kinds(), "bypass must handle before Submit returns")
	require.True(t, m.IsEmpty())
	m.Barrier() // must not block
}

func TestDisabledDropsAndCounts(t *testing.T) {
	rec := &recorder{}
	m := New(rec, nil)
	m.SetEnabled(false)

	require.False(t, m.Submit(Sync{}, true))
	require.False(t, m.Submit(PerfQuery{}, false))
	require.EqualValues(t, 2, m.Dropped())
	require.True(t, m.IsEmpty())

	m.SetEnabled(true)
	require.True(t, m.Submit(Sync{}, false))
	m.Drain()
	require.Equal(t, []Kind{KindSync}, rec.kinds())
}

func TestDisableDiscardsQueued(t *testing.T) {
	rec := &recorder{}
	m := New(rec, nil)
	var discarded []Kind
	m.SetDropHook(func(req Request) { discarded = append(discarded, req.Kind()) })

	m.Submit(Sync{}, false)
	m.Submit(ProcessChunk{}, false)
	m.SetEnabled(false)
	m.SetBypass(true)

	require.True(t, m.IsEmpty())
	require.Zero(t, m.Len())
	require.EqualValues(t, 2, m.Dropped())
	require.Equal(t, []Kind{KindSync, KindProcessChunk}, discarded)

	m.Drain()
	require.Empty(t, rec.kinds(), "discarded requests must never reach the handler")
}

func TestBlockingSubmitReportsDiscard(t *testing.T) {
	m := New(&recorder{}, nil)

	var v uint32
	result := make(chan bool, 1)
	go func() { result <- m.Submit(Peek{Data: &v}, true) }()
	require.Eventually(t, func() bool { return m.Len() == 1 }, 2*time.Second, time.Millisecond)

	m.SetEnabled(false)
	select {
	case ok := <-result:
		require.False(t, ok, "a discarded peek must not report success")
	case <-time.After(2 * time.Second):
		t.Fatal("blocking submit not released by disable")
	}
	require.True(t, m.IsEmpty())
}

func TestDrainRacingDisableStaysEmpty(t *testing.T) {
	var m *Mailbox
	m = New(HandlerFunc(func(req Request) {
		if _, ok := req.(Swap); ok {
			m.SetEnabled(false) // discards the Sync queued behind
		}
	}), nil)

	m.Submit(Swap{}, false)
	m.Submit(Sync{}, false)
	m.Drain()
	require.True(t, m.IsEmpty())
	require.EqualValues(t, 1, m.Handled())
	require.EqualValues(t, 1, m.Dropped())
}

// ============================================================================
// COALESCING & REENTRANCY
// ============================================================================

func TestPokesCoalescePerTarget(t *testing.T) {
	b := &batcher{}
	m := New(b, nil)

	m.Submit(Poke{Target: Color, X: 1}, false)
	m.Submit(Poke{Target: Color, X: 2}, false)
	m.Submit(Poke{Target: Depth, X: 3}, false)
	m.Submit(Sync{}, false)
	m.Submit(Poke{Target: Depth, X: 4}, false)
	m.Drain()

	want := [][]Poke{
		{{Target: Color, X: 1}, {Target: Color, X: 2}},
		{{Target: Depth, X: 3}},
		{{Target: Depth, X: 4}},
	}
	if diff := cmp.Diff(want, b.batches); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []Kind{KindSync}, b.kinds())
	require.EqualValues(t, 5, m.Handled())
	require.True(t, m.IsEmpty())
}

func TestReentrantDrainIsNoop(t *testing.T) {
	var m *Mailbox
	var order []int
	m = New(HandlerFunc(func(req Request) {
		if _, ok := req.(Swap); ok {
			order = append(order, 1)
			m.Drain() // must not handle the Sync early
			order = append(order, 2)
			return
		}
		order = append(order, 3)
	}), nil)

	m.Submit(Swap{}, false)
	m.Submit(Sync{}, false)
	m.Drain()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestKindNames(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Poke{Target: Color}, "poke-color"},
		{Peek{Target: Depth}, "peek-depth"},
		{ProcessChunk{}, "buffer-delivery"},
		{SaveState{}, "save-state"},
		{BoundsRead{}, "bounds-read"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, tt.req.Kind().String())
		})
	}
	require.Equal(t, "unknown", Kind(200).String())
}
