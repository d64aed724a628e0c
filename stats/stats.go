// Package stats keeps lock-free diagnostic counters for a session.
// Producer and consumer update them from their own goroutines; readers
// take a Snapshot at any time.
package stats

import (
	"sync/atomic"

	"github.com/sugawarayuuta/sonnet"
)

// Counters is embedded in a session. The zero value is ready.
type Counters struct {
	ChunksFlushed      atomic.Uint64
	ChunksReplayed     atomic.Uint64
	RangesReplayed     atomic.Uint64
	BytesCopied        atomic.Uint64
	AuxBytesCopied     atomic.Uint64
	CapacityViolations atomic.Uint64
	FenceWaits         atomic.Uint64
	ThrottleWaits      atomic.Uint64
	CyclesReplayed     atomic.Uint64
}

// Snapshot is a point-in-time copy of every counter plus gauges supplied
// by the session.
type Snapshot struct {
	ChunksAllocated    uint64 `json:"chunks_allocated"`
	ChunksFlushed      uint64 `json:"chunks_flushed"`
	ChunksReplayed     uint64 `json:"chunks_replayed"`
	ChunksIdle         int    `json:"chunks_idle"`
	RangesReplayed     uint64 `json:"ranges_replayed"`
	BytesCopied        uint64 `json:"bytes_copied"`
	AuxBytesCopied     uint64 `json:"aux_bytes_copied"`
	CapacityViolations uint64 `json:"capacity_violations"`
	FenceWaits         uint64 `json:"fence_waits"`
	ThrottleWaits      uint64 `json:"throttle_waits"`
	RequestsHandled    uint64 `json:"requests_handled"`
	RequestsDropped    uint64 `json:"requests_dropped"`
	CyclesReplayed     uint64 `json:"cycles_replayed"`
	InFlight           int    `json:"in_flight"`
	SyncCredit         int64  `json:"sync_credit"`
	FrameDistance      int64  `json:"frame_distance"`
}

// Snapshot copies the counters. Gauges are left zero for the caller.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ChunksFlushed:      c.ChunksFlushed.Load(),
		ChunksReplayed:     c.ChunksReplayed.Load(),
		RangesReplayed:     c.RangesReplayed.Load(),
		BytesCopied:        c.BytesCopied.Load(),
		AuxBytesCopied:     c.AuxBytesCopied.Load(),
		CapacityViolations: c.CapacityViolations.Load(),
		FenceWaits:         c.FenceWaits.Load(),
		ThrottleWaits:      c.ThrottleWaits.Load(),
		CyclesReplayed:     c.CyclesReplayed.Load(),
	}
}

// JSON renders s as indented JSON.
func (s Snapshot) JSON() ([]byte, error) {
	return sonnet.MarshalIndent(s, "", "  ")
}

// Sub returns the per-field difference s - prev for the monotonic counters.
// Gauges keep the value from s.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	d := s
	d.ChunksAllocated -= prev.ChunksAllocated
	d.ChunksFlushed -= prev.ChunksFlushed
	d.ChunksReplayed -= prev.ChunksReplayed
	d.RangesReplayed -= prev.RangesReplayed
	d.BytesCopied -= prev.BytesCopied
	d.AuxBytesCopied -= prev.AuxBytesCopied
	d.CapacityViolations -= prev.CapacityViolations
	d.FenceWaits -= prev.FenceWaits
	d.ThrottleWaits -= prev.ThrottleWaits
	d.RequestsHandled -= prev.RequestsHandled
	d.RequestsDropped -= prev.RequestsDropped
	d.CyclesReplayed -= prev.CyclesReplayed
	return d
}
