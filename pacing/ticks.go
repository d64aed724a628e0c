// ════════════════════════════════════════════════════════════════════════════════════════════════
// Sync-Tick Budget
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Signed Cycle Credit Between Producer And Consumer
//
// Description:
//   The producer converts elapsed emulated time into cycle credit. The consumer spends credit as
//   it replays command ranges. Positive credit means the consumer is behind; the producer wakes it
//   once credit passes the minimum distance and stalls once credit reaches the maximum distance.
//
// Tightly-Coupled Mode:
//   RunInline replays on the producer itself until the budget goes negative. The negative remainder
//   carries into the next slot, so the next check is scheduled no sooner than TimeSlotSize cycles.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package pacing

import (
	"sync"
	"sync/atomic"

	"gpufifo/constants"
)

// Config is the hot-reloadable pacing configuration.
type Config struct {
	Enabled     bool
	MaxDistance int64
	MinDistance int64
	Overclock   float64
}

// DefaultConfig returns sync enabled with 8000/3000 distances at 1.0×.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxDistance: constants.DefaultMaxDesyncDistance,
		MinDistance: constants.DefaultMinDesyncDistance,
		Overclock:   1.0,
	}
}

// Ticks holds the shared cycle credit.
type Ticks struct {
	credit atomic.Int64
	cfg    atomic.Pointer[Config]

	// suspended is true while the inline sync event is unscheduled.
	// Producer only; persisted with the credit.
	suspended bool

	mu       sync.Mutex
	cond     *sync.Cond
	released bool
}

// NewTicks returns a zero-credit budget using cfg.
func NewTicks(cfg Config) *Ticks {
	t := &Ticks{suspended: true}
	t.cond = sync.NewCond(&t.mu)
	t.SetConfig(cfg)
	return t
}

// SetConfig swaps in a new configuration. A non-positive overclock becomes 1.
func (t *Ticks) SetConfig(cfg Config) {
	if cfg.Overclock <= 0 {
		cfg.Overclock = 1
	}
	t.cfg.Store(&cfg)
	t.signal()
}

// Config returns the active configuration.
func (t *Ticks) Config() Config { return *t.cfg.Load() }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PRODUCER SIDE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Accrue adds cycles of credit scaled by the overclock factor and reports
// whether the consumer should be woken. With sync disabled the consumer is
// always eligible and credit is left untouched.
func (t *Ticks) Accrue(cycles int64) bool {
	cfg := t.cfg.Load()
	if !cfg.Enabled {
		return true
	}
	now := t.credit.Add(int64(float64(cycles) * cfg.Overclock))
	return now > cfg.MinDistance
}

// WaitBelowMax blocks while credit is at or above the maximum distance.
// Returns false if the wait was abandoned through Release.
func (t *Ticks) WaitBelowMax() bool {
	cfg := t.cfg.Load()
	if !cfg.Enabled || t.credit.Load() < cfg.MaxDistance {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.released {
		cfg = t.cfg.Load()
		if !cfg.Enabled || t.credit.Load() < cfg.MaxDistance {
			return true
		}
		t.cond.Wait()
	}
	return false
}

// RunInline replays on the calling goroutine for ticks of emulated time.
//
// Algorithm:
//  1. available = ticks×overclock + carried credit
//  2. Call replay while available >= 0, subtracting the cycles it reports
//  3. Carry min(available, 0) forward
//  4. Return -1 if work ran out with budget to spare (caller may suspend),
//     otherwise the delay before the next call, at least TimeSlotSize
func (t *Ticks) RunInline(ticks int64, replay func() (cycles uint32, ok bool)) int64 {
	cfg := t.cfg.Load()
	available := int64(float64(ticks)*cfg.Overclock) + t.credit.Load()
	for available >= 0 {
		cycles, ok := replay()
		if !ok {
			break
		}
		available -= int64(cycles)
	}

	t.credit.Store(min(available, 0))
	if available >= 0 {
		t.suspended = true
		return -1
	}
	t.suspended = false
	return -available + constants.TimeSlotSize
}

// Suspended reports whether inline syncing went idle on the last RunInline.
func (t *Ticks) Suspended() bool { return t.suspended }

// Resume clears the suspended flag. Reports whether it was set, in which
// case the caller must reschedule its sync event.
func (t *Ticks) Resume() bool {
	was := t.suspended
	t.suspended = false
	return was
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSUMER SIDE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// CanRun reports whether the consumer may replay another range.
func (t *Ticks) CanRun() bool {
	cfg := t.cfg.Load()
	return !cfg.Enabled || t.credit.Load() > cfg.MinDistance
}

// Consume spends cycles of credit, scaled down by the overclock factor.
// A stalled producer is woken when credit drops below the maximum distance.
func (t *Ticks) Consume(cycles uint32) {
	cfg := t.cfg.Load()
	if !cfg.Enabled {
		return
	}
	spent := int64(float64(cycles) / cfg.Overclock)
	old := t.credit.Add(-spent) + spent
	if old >= cfg.MaxDistance && old-spent < cfg.MaxDistance {
		t.signal()
	}
}

// SkipIdle discards positive credit once the consumer has nothing left to
// replay.
func (t *Ticks) SkipIdle() {
	if t.credit.Load() <= 0 {
		return
	}
	old := t.credit.Swap(0)
	if old >= t.cfg.Load().MaxDistance {
		t.signal()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STATE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Credit returns the current cycle credit.
func (t *Ticks) Credit() int64 { return t.credit.Load() }

// Restore overwrites credit and the suspended flag, as loaded from a save state.
func (t *Ticks) Restore(credit int64, suspended bool) {
	t.credit.Store(credit)
	t.suspended = suspended
	t.signal()
}

// Reset zeroes credit and suspends inline syncing for a restarted command
// stream. A released budget stays released. Producer only.
func (t *Ticks) Reset() {
	t.credit.Store(0)
	t.suspended = true
	t.signal()
}

// Release abandons every WaitBelowMax for shutdown.
func (t *Ticks) Release() {
	t.mu.Lock()
	t.released = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

func (t *Ticks) signal() {
	if t.cond == nil {
		return
	}
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}
