//go:build !linux

package tscsync

// NewDispatcher returns the platform dispatcher. Without an affinity API
// the goroutine dispatcher is the best available; register backends are
// mock-only on these platforms anyway.
func NewDispatcher() Dispatcher {
	return GoroutineDispatcher{}
}
