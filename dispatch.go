package tscsync

import "sync"

// Dispatcher runs the per-participant barrier action once per participant,
// concurrently, and blocks until every participant has completed it. The
// engine's barrier is only correct under the dispatcher's contract:
//
//   - the action runs exactly once per participant index in [0, n);
//   - all n executions overlap in time (none is deferred until another
//     finishes — the action contains a spin barrier);
//   - each execution stays on its participant's logical CPU with
//     preemption suppressed for the duration.
//
// The in-repo Linux dispatcher pins threads to CPUs, which satisfies the
// placement requirement; true interrupt suppression is only available to a
// privileged platform layer and is documented as that layer's obligation.
type Dispatcher interface {
	Rendezvous(n int, action func(cpuIndex int))
}

// GoroutineDispatcher runs the action on n plain goroutines with no CPU
// pinning. It satisfies the overlap requirement — every goroutine starts
// before Rendezvous waits — and backs tests and dry runs, where no real
// register is written.
type GoroutineDispatcher struct{}

// Rendezvous implements Dispatcher.
func (GoroutineDispatcher) Rendezvous(n int, action func(cpuIndex int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			action(i)
		}()
	}
	wg.Wait()
}
