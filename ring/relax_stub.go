//go:build !amd64 || noasm

package ring

import "runtime"

// cpuRelax yields the processor where no PAUSE-style hint is available.
func cpuRelax() { runtime.Gosched() }
