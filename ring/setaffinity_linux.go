//go:build linux && !tinygo

// setaffinity_linux.go
//
// Linux binding for `sched_setaffinity(2)` that pins **this** OS thread to a
// single logical CPU. Errors are deliberately swallowed: on a containerised
// or cgroup-heavy system the call might be EPERM/EINVAL; the fallback is
// simply "no pin".

package ring

import "golang.org/x/sys/unix"

// setAffinity pins the current thread to cpu.
func setAffinity(cpu int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	_ = unix.SchedSetaffinity(0, &set)
}
