//go:build linux

package tscsync

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// PinnedDispatcher runs each participant's action on an OS thread pinned to
// that participant's logical CPU via sched_setaffinity. Pinning gives the
// barrier action a stable CPU identity for its register reads and writes;
// it does not suppress interrupts, which remains the privileged platform
// layer's job.
type PinnedDispatcher struct{}

// NewDispatcher returns the platform dispatcher.
func NewDispatcher() Dispatcher {
	return PinnedDispatcher{}
}

// Rendezvous implements Dispatcher.
func (PinnedDispatcher) Rendezvous(n int, action func(cpuIndex int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			// Dedicate the thread: pinning mutates thread-level state,
			// so the goroutine must not migrate, and the thread is let
			// die (no Unlock) rather than returned to the pool with a
			// narrowed affinity mask.
			runtime.LockOSThread()
			var set unix.CPUSet
			set.Set(i)
			if err := unix.SchedSetaffinity(0, &set); err != nil {
				// Run unpinned rather than hang the barrier: the other
				// participants are already spinning on arrival.
				runtime.UnlockOSThread()
			}
			action(i)
		}()
	}
	wg.Wait()
}
