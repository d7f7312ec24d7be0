//go:build linux
// +build linux

// File: affinity/affinity_linux.go
//
// Linux-specific implementation for setting thread CPU affinity, using
// sched_setaffinity(2) via golang.org/x/sys/unix in place of the cgo
// pthread_setaffinity_np call this used to make — same syscall family, no
// cgo toolchain dependency.

package affinity

import "golang.org/x/sys/unix"

// setAffinityPlatform pins the calling OS thread to cpuID.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	return unix.SchedSetaffinity(0, &set)
}
