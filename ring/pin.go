// pin.go
//
// Consumer thread pinning.
//
//   • Locks the calling goroutine to its OS thread.
//   • Binds that thread to `core` when core >= 0 (Linux only; elsewhere a
//     no-op).
//   • Returns the matching unpin func; call it from the same goroutine.
//
// Pinning keeps the consumer's decoder state warm in one core's caches
// while the producer runs on another.

package ring

import "runtime"

// Pin locks the current goroutine to its thread and optionally to a CPU.
// core < 0 only locks the thread.
func Pin(core int) (unpin func()) {
	runtime.LockOSThread()
	if core >= 0 {
		setAffinity(core)
	}
	return runtime.UnlockOSThread
}

// Relax hints the CPU that the caller is spinning.
//
//go:nosplit
func Relax() { cpuRelax() }
