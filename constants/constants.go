// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go - Pipeline-wide tunables & layout constants
//
// Purpose:
//   - Defines the burst geometry, chunk layout rules and FIFO bounds shared by
//     the producer, the consumer and the save-state codec.
//
// Notes:
//   - Layout constants (alignment, padding) are correctness constraints: the
//     decoder is allowed to overread past a range by up to ChunkPadding bytes.
//   - Flush thresholds here are only defaults; the live values come from the
//     config store and may be hot-reloaded.
//
// ⚠️ No runtime logic here - all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Burst Geometry ──────────────────────────────

const (
	// BurstSize is the fixed number of bytes the producer hands over per write.
	// Matches the hardware gather pipe width.
	BurstSize = 32

	// ChunkAlign is the start alignment of every range and every snapshot.
	ChunkAlign = 8

	// ChunkPadding is the number of zero bytes guaranteed after each payload.
	ChunkPadding = 4

	// ChunkInitialBytes is the first allocation for an empty chunk.
	// 32 bursts avoids the first few doublings in steady state.
	ChunkInitialBytes = BurstSize * 32
)

// ─────────────────────────── Flush Policy Defaults ─────────────────────────

const (
	// DefaultBurstMultiple flushes a chunk once its data exceeds 4 bursts.
	DefaultBurstMultiple = 4

	// DefaultAuxFlushBytes flushes a chunk once its snapshots exceed 1 KiB.
	DefaultAuxFlushBytes = 1 << 10
)

// ─────────────────────────── Memory Guardrails ─────────────────────────────

const (
	// FifoSize bounds the staging buffer, the staging aux area and, by
	// default, a single chunk. Crossing it is a capacity violation.
	FifoSize = 2 << 20 // 2 MiB
)

// ───────────────────────────── Transfer Ring ───────────────────────────────

const (
	// RingSegment is the slot count of each segment in the transfer queue.
	// Power of two; the queue links a fresh segment when one fills.
	RingSegment = 64
)

// ──────────────────────────── Pacing & Scheduling ──────────────────────────

const (
	// TimeSlotSize is the minimum number of cycles between two inline
	// replay checks in tightly-coupled mode.
	TimeSlotSize = 1000

	// DefaultMaxDesyncDistance is the credit at which the producer throttles.
	DefaultMaxDesyncDistance = 8000

	// DefaultMinDesyncDistance is the credit the consumer must exceed to run.
	DefaultMinDesyncDistance = 3000

	// DefaultLoopTimeoutMs bounds how long a parked consumer sleeps before it
	// re-checks the mailbox on its own.
	DefaultLoopTimeoutMs = 100

	// SpinBudget is the number of empty polls before the consumer parks.
	SpinBudget = 64
)
