package mailbox

import (
	"gpufifo/chunk"
	"gpufifo/savestate"
)

// Kind tags a Request variant.
type Kind uint8

const (
	KindPokeColor Kind = iota
	KindPokeDepth
	KindPeekColor
	KindPeekDepth
	KindSwap
	KindBoundsRead
	KindStreamReset
	KindPerfQuery
	KindSaveState
	KindSync
	KindProcessChunk
)

var kindNames = [...]string{
	KindPokeColor:    "poke-color",
	KindPokeDepth:    "poke-depth",
	KindPeekColor:    "peek-color",
	KindPeekDepth:    "peek-depth",
	KindSwap:         "buffer-swap",
	KindBoundsRead:   "bounds-read",
	KindStreamReset:  "stream-reset",
	KindPerfQuery:    "perf-query",
	KindSaveState:    "save-state",
	KindSync:         "sync-barrier",
	KindProcessChunk: "buffer-delivery",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Request is one unit of work that must run in the consumer context.
// The set of variants is closed; each carries exactly its own payload.
type Request interface {
	Kind() Kind
	request()
}

// Target selects the color or depth plane of the readback region.
type Target uint8

const (
	Color Target = iota
	Depth
)

// Poke writes one value into the readback region.
type Poke struct {
	Target Target
	X, Y   uint16
	Data   uint32
}

// Peek reads one value from the readback region into *Data.
// Submit it blocking; Data is valid once Submit returns.
type Peek struct {
	Target Target
	X, Y   uint16
	Data   *uint32
}

// Swap announces a finished frame buffer.
type Swap struct {
	XfbAddr  uint32
	FbWidth  uint32
	FbStride uint32
	FbHeight uint32
}

// BoundsRead queries one component of the rectangular bounding box.
type BoundsRead struct {
	Index int
	Data  *uint16
}

// StreamReset tells the consumer the command stream restarted.
type StreamReset struct{}

// PerfQuery ticks the performance-query collaborator.
type PerfQuery struct{}

// SaveState serializes consumer-owned state. Always submitted blocking.
type SaveState struct {
	State *savestate.Codec
}

// Sync is a plain ordering barrier.
type Sync struct{}

// ProcessChunk delivers a chunk whose replay must be ordered with the
// surrounding requests. The consumer owns Chunk once submitted.
type ProcessChunk struct {
	Chunk *chunk.Chunk
}

func (p Poke) Kind() Kind {
	if p.Target == Depth {
		return KindPokeDepth
	}
	return KindPokeColor
}

func (p Peek) Kind() Kind {
	if p.Target == Depth {
		return KindPeekDepth
	}
	return KindPeekColor
}

func (Swap) Kind() Kind         { return KindSwap }
func (BoundsRead) Kind() Kind   { return KindBoundsRead }
func (StreamReset) Kind() Kind  { return KindStreamReset }
func (PerfQuery) Kind() Kind    { return KindPerfQuery }
func (SaveState) Kind() Kind    { return KindSaveState }
func (Sync) Kind() Kind         { return KindSync }
func (ProcessChunk) Kind() Kind { return KindProcessChunk }

func (Poke) request()         {}
func (Peek) request()         {}
func (Swap) request()         {}
func (BoundsRead) request()   {}
func (StreamReset) request()  {}
func (PerfQuery) request()    {}
func (SaveState) request()    {}
func (Sync) request()         {}
func (ProcessChunk) request() {}
