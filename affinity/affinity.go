// Package affinity is the toolkit's thread-spawning collaborator: a thin,
// deliberately unembellished primitive that starts a function on a
// dedicated OS thread, optionally pinned to a logical CPU. It is treated as
// a black box by the rest of the core — no NUMA awareness, no work
// stealing, no adaptive backoff — those belong to higher-level schedulers
// outside this toolkit's scope.
//
// Platform-specific pinning is in separate files (affinity_linux.go,
// affinity_windows.go, affinity_stub.go) guarded by build tags.
package affinity

import "runtime"

// SetAffinity pins the calling OS thread to a given logical CPU/core on
// supported platforms. On unsupported platforms it returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// Thread is a joinable handle to a goroutine started by SpawnThread.
type Thread struct {
	done chan struct{}
}

// Join blocks until the thread's function has returned.
func (t *Thread) Join() {
	<-t.done
}

// SpawnThread starts fn on a dedicated OS thread (via runtime.LockOSThread,
// so fn's thread-local state — including any affinity it sets — is not
// shared with or stolen by other goroutines) and, when cpuID is
// non-negative, pins that thread to the given logical CPU before calling
// fn. A negative cpuID leaves the thread unpinned. name is accepted but not
// used: it is not logged, and it is not registered anywhere the OS would
// see it (no pthread_setname_np equivalent is wired in).
func SpawnThread(cpuID int, name string, fn func()) *Thread {
	t := &Thread{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if cpuID >= 0 {
			_ = SetAffinity(cpuID) // best-effort: pinning failure must not abort the thread
		}
		fn()
	}()
	return t
}
