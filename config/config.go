// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: config.go - Pipeline options, JSONC loading, hot reload
//
// Purpose:
//   - Declares every tunable of a session with its default.
//   - Loads JSON-with-comments files on top of the defaults.
//   - Publishes changes to subscribers so pacing and flush policy follow
//     edits while a session is running.
//
// Notes:
//   - Readers never lock: the active Options value is swapped atomically.
//   - Subscribers run synchronously in the goroutine calling Update/Reload.
// ─────────────────────────────────────────────────────────────────────────────

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sugawarayuuta/sonnet"
	"github.com/tailscale/hujson"

	"gpufifo/chunk"
	"gpufifo/constants"
	"gpufifo/pacing"
)

// ErrInvalid reports an option set that fails validation.
var ErrInvalid = errors.New("config: invalid options")

// Options is the complete session configuration.
type Options struct {
	SyncEnabled       bool    `json:"sync_enabled"`
	MaxDesyncDistance int64   `json:"max_desync_distance"`
	MinDesyncDistance int64   `json:"min_desync_distance"`
	OverclockFactor   float64 `json:"overclock_factor"`

	DualContext   bool `json:"dual_context"`
	BurstMultiple int  `json:"burst_multiple"`
	AuxFlushBytes int  `json:"aux_flush_bytes"`
	MaxChunkBytes int  `json:"max_chunk_bytes"`
	ConsumerCore  int  `json:"consumer_core"`
	LoopTimeoutMs int  `json:"loop_timeout_ms"`
}

// Default returns the nominal configuration.
func Default() Options {
	return Options{
		SyncEnabled:       true,
		MaxDesyncDistance: constants.DefaultMaxDesyncDistance,
		MinDesyncDistance: constants.DefaultMinDesyncDistance,
		OverclockFactor:   1.0,
		DualContext:       true,
		BurstMultiple:     constants.DefaultBurstMultiple,
		AuxFlushBytes:     constants.DefaultAuxFlushBytes,
		MaxChunkBytes:     constants.FifoSize,
		ConsumerCore:      -1,
		LoopTimeoutMs:     constants.DefaultLoopTimeoutMs,
	}
}

// Validate checks ranges and cross-field constraints.
func (o Options) Validate() error {
	switch {
	case o.MaxDesyncDistance < 0 || o.MinDesyncDistance < 0:
		return fmt.Errorf("%w: desync distances must be non-negative", ErrInvalid)
	case o.MinDesyncDistance > o.MaxDesyncDistance:
		return fmt.Errorf("%w: min_desync_distance %d exceeds max_desync_distance %d",
			ErrInvalid, o.MinDesyncDistance, o.MaxDesyncDistance)
	case o.OverclockFactor <= 0:
		return fmt.Errorf("%w: overclock_factor must be positive", ErrInvalid)
	case o.BurstMultiple < 1:
		return fmt.Errorf("%w: burst_multiple must be at least 1", ErrInvalid)
	case o.AuxFlushBytes < 0:
		return fmt.Errorf("%w: aux_flush_bytes must be non-negative", ErrInvalid)
	case o.MaxChunkBytes < constants.BurstSize*o.BurstMultiple+constants.ChunkPadding:
		return fmt.Errorf("%w: max_chunk_bytes %d cannot hold one flush batch", ErrInvalid, o.MaxChunkBytes)
	case o.LoopTimeoutMs < 0:
		return fmt.Errorf("%w: loop_timeout_ms must be non-negative", ErrInvalid)
	}
	return nil
}

// Pacing projects the sync options onto the tick budget.
func (o Options) Pacing() pacing.Config {
	return pacing.Config{
		Enabled:     o.SyncEnabled,
		MaxDistance: o.MaxDesyncDistance,
		MinDistance: o.MinDesyncDistance,
		Overclock:   o.OverclockFactor,
	}
}

// Policy projects the flush options onto a chunk policy.
func (o Options) Policy() chunk.Policy {
	return chunk.Policy{
		BurstSize:     constants.BurstSize,
		BurstMultiple: o.BurstMultiple,
		AuxLimit:      o.AuxFlushBytes,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// LOADING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Parse decodes JSONC data over the defaults and validates the result.
func Parse(data []byte) (Options, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Options{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	opts := Default()
	if err := sonnet.Unmarshal(standardized, &opts); err != nil {
		return Options{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Load reads and parses the file at path.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the CLI
	if err != nil {
		return Options{}, fmt.Errorf("read config: %w", err)
	}
	opts, err := Parse(data)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STORE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Store holds the live options and notifies subscribers of changes.
type Store struct {
	cur atomic.Pointer[Options]

	mu     sync.Mutex
	nextID int
	subs   map[int]func(Options)
}

// NewStore returns a store holding opts.
func NewStore(opts Options) *Store {
	s := &Store{subs: make(map[int]func(Options))}
	s.cur.Store(&opts)
	return s
}

// Get returns the active options.
func (s *Store) Get() Options { return *s.cur.Load() }

// Subscribe registers fn for every later change and returns its id.
func (s *Store) Subscribe(fn func(Options)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs[s.nextID] = fn
	return s.nextID
}

// Unsubscribe removes the subscriber with id.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Update validates and publishes opts. Subscribers are called in
// subscription order.
func (s *Store) Update(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Store(&opts)

	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		s.subs[id](opts)
	}
	return nil
}

// Reload loads path and publishes it. The active options are unchanged on error.
func (s *Store) Reload(path string) error {
	opts, err := Load(path)
	if err != nil {
		return err
	}
	return s.Update(opts)
}
