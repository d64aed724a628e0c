package pacing

import "sync/atomic"

// Breakpoint halts replay when the logical read position reaches a
// configured position while break mode is on. Only an external debugger
// resumes it.
type Breakpoint struct {
	pos     atomic.Uint64
	enabled atomic.Bool
}

// Set moves the breakpoint to pos.
func (b *Breakpoint) Set(pos uint64) { b.pos.Store(pos) }

// Enable switches break mode.
func (b *Breakpoint) Enable(on bool) { b.enabled.Store(on) }

// Enabled reports break mode.
func (b *Breakpoint) Enabled() bool { return b.enabled.Load() }

// At reports whether replay at read position pos must halt.
func (b *Breakpoint) At(pos uint64) bool {
	return b.enabled.Load() && b.pos.Load() == pos
}

// Resume turns break mode off.
func (b *Breakpoint) Resume() { b.enabled.Store(false) }
