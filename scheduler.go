package tscsync

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer is the schedulable handle driving the periodic scheduler. The
// firing callback is supplied at construction through a TimerFactory.
//
// SetTimeoutMS arms a single firing; the callback re-arms explicitly. A
// disabled timer ignores SetTimeoutMS and never fires.
type Timer interface {
	Enable()
	Disable()
	SetTimeoutMS(ms uint32)
	CancelTimeout()
}

// TimerFactory builds a Timer that invokes fire on each firing.
type TimerFactory func(fire func()) Timer

// scheduler drives the engine's periodic rounds: on each firing it issues a
// periodic request and re-arms unconditionally, regardless of whether the
// request ran a round or collapsed.
type scheduler struct {
	timer    Timer
	interval uint32
	running  atomic.Bool
}

func newScheduler(factory TimerFactory, intervalMS uint32, request func()) *scheduler {
	s := &scheduler{interval: intervalMS}
	s.timer = factory(func() {
		request()
		s.timer.SetTimeoutMS(s.interval)
	})
	return s
}

// Start enables the timer and arms the first firing. Idempotent.
func (s *scheduler) Start() {
	s.running.Store(true)
	s.timer.Enable()
	s.timer.SetTimeoutMS(s.interval)
}

// Stop cancels any pending firing and disables the timer. Idempotent.
func (s *scheduler) Stop() {
	s.running.Store(false)
	s.timer.CancelTimeout()
	s.timer.Disable()
}

// Running reports whether the scheduler is started.
func (s *scheduler) Running() bool { return s.running.Load() }

// clockTimer is the default Timer, backed by the wall clock. Firings run on
// a timer goroutine; the engine's entry point is safe to call from there.
type clockTimer struct {
	mu      sync.Mutex
	fire    func()
	enabled bool
	pending *time.Timer
}

func newClockTimer(fire func()) Timer {
	return &clockTimer{fire: fire}
}

func (t *clockTimer) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

func (t *clockTimer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

func (t *clockTimer) SetTimeoutMS(ms uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.pending != nil {
		t.pending.Stop()
	}
	t.pending = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		t.mu.Lock()
		ok := t.enabled
		t.mu.Unlock()
		if ok {
			t.fire()
		}
	})
}

func (t *clockTimer) CancelTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
