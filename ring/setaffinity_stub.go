//go:build !linux || tinygo

package ring

// setAffinity is a no-op where sched_setaffinity(2) is unavailable.
func setAffinity(int) {}
