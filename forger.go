// Package tscsync keeps the per-core time-stamp counter aligned across all
// logical CPUs. Counters on some processor families drift apart across
// power-state changes, most visibly after sleep/wake, and timing-dependent
// consumers (real-time scheduling, wall-clock reads) then observe
// inconsistent values.
//
// The engine runs a rendezvous round on demand: every participant locks its
// counter frequency, publishes its counter reading into a max-reduction,
// spins at a full barrier until all participants have published, then writes
// the agreed maximum straight into its own counter register. Rounds are
// driven by a periodic timer, by power-transition notifications, and
// on demand before sensitive wall-clock reads.
package tscsync

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/tsc-sync/internal/cpu"
	"github.com/cwbudde/tsc-sync/internal/msr"
)

// Forger is the synchronization engine. One instance owns the process-wide
// sync state; all methods are safe for concurrent use.
type Forger struct {
	info  cpu.Info
	regs  msr.Registers
	disp  Dispatcher
	sched *scheduler
	log   logrus.FieldLogger

	// Sync state. All access is atomic: the per-participant barrier action
	// runs with preemption suppressed, so a blocking lock anywhere on this
	// state could stall unrecoverably. round holds the Idle/InProgress/
	// Settled word, making "synchronizing and synchronized at once"
	// unrepresentable.
	awake   atomic.Bool
	round   atomic.Uint32
	arrived atomic.Uint32
	target  atomic.Uint64

	// Per-participant error slots for the current round. Each participant
	// writes only its own slot; the dispatcher's completion barrier orders
	// the slots before the round owner reads them, and the owner drains
	// them before releasing the gate, so no two rounds ever touch them
	// concurrently.
	roundErrs []error
}

// Config supplies the engine's collaborators. Registers is required; every
// other zero value selects a default.
type Config struct {
	// Info is the detection result. A zero Info makes New run detection
	// itself, using Registers for the vendor-B count path.
	Info cpu.Info

	// Registers is the hardware register backend.
	Registers msr.Registers

	// Dispatcher runs the barrier action on every participant. Defaults to
	// the platform dispatcher (CPU-pinned threads on Linux).
	Dispatcher Dispatcher

	// NewTimer builds the periodic scheduler's timer from its firing
	// callback. Defaults to a wall-clock timer.
	NewTimer TimerFactory

	// Interval between periodic rounds in milliseconds. Defaults to
	// DefaultSyncIntervalMS.
	IntervalMS uint32

	// Log receives non-fatal diagnostics. Defaults to a discard logger.
	Log logrus.FieldLogger
}

// DefaultSyncIntervalMS is the periodic round interval: 5 seconds.
const DefaultSyncIntervalMS = 5000

// Round states. Settled holds only between a completed round and the start
// of the next; InProgress strictly while a rendezvous executes.
const (
	roundIdle uint32 = iota
	roundInProgress
	roundSettled
)

// New builds an engine from cfg. The engine starts awake, not synchronized,
// with the periodic scheduler stopped; call Start to run the initial round
// and begin periodic synchronization.
func New(cfg Config) (*Forger, error) {
	if cfg.Registers == nil {
		return nil, ErrNoRegisters
	}
	log := cfg.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	info := cfg.Info
	if info.Topology.Count == 0 && info.Vendor == "" {
		info = cpu.Detect(cpu.Config{Regs: cfg.Registers, Log: log})
	}
	if info.Topology.Count <= 0 {
		return nil, ErrNoParticipants
	}

	disp := cfg.Dispatcher
	if disp == nil {
		disp = NewDispatcher()
	}
	interval := cfg.IntervalMS
	if interval == 0 {
		interval = DefaultSyncIntervalMS
	}
	factory := cfg.NewTimer
	if factory == nil {
		factory = newClockTimer
	}

	f := &Forger{
		info:      info,
		regs:      cfg.Registers,
		disp:      disp,
		log:       log,
		roundErrs: make([]error, info.Topology.Count),
	}
	f.awake.Store(true)
	f.sched = newScheduler(factory, interval, func() { f.Request(true) })
	return f, nil
}

// Info returns the immutable detection result the engine was built with.
func (f *Forger) Info() cpu.Info { return f.info }

// Start runs an immediate synchronous round and starts the periodic
// scheduler, mirroring initialization order on the original platform.
func (f *Forger) Start() {
	f.Request(false)
	f.sched.Start()
}

// Stop halts the periodic scheduler. It does not interrupt a round in
// flight; rounds are uninterruptible by design.
func (f *Forger) Stop() {
	f.sched.Stop()
}

// Request asks for a synchronization round. periodic marks calls from the
// recurring timer, which re-synchronize even when the engine already
// considers itself synchronized.
//
// Request is a silent no-op when the platform is asleep, when a
// non-periodic caller finds the engine already synchronized, or when
// another round is in flight. Callers get no delivery guarantee from a
// single call: a request that collapses against a concurrent round does not
// wait for that round.
func (f *Forger) Request(periodic bool) {
	if !f.awake.Load() {
		return
	}
	if !periodic && f.round.Load() == roundSettled {
		return
	}
	// Single-owner gate: at most one round in flight, system-wide. The
	// swap also clears Settled, so the previous round's result is gone
	// the instant a new round owns the state.
	if f.round.Swap(roundInProgress) == roundInProgress {
		return
	}

	f.arrived.Store(0)
	f.target.Store(0)
	clear(f.roundErrs)

	f.disp.Rendezvous(f.info.Topology.Count, f.align)

	// Drain the error slots before releasing the gate: the moment the
	// round settles, a new owner may clear and rewrite them.
	for cpuIndex, err := range f.roundErrs {
		if err != nil {
			f.log.WithError(err).WithField("cpu", cpuIndex).Warn("register access failed during round")
		}
	}

	f.round.Store(roundSettled)
}

// align is the per-participant barrier action. It runs concurrently on
// every participant with preemption suppressed by the dispatcher, so it
// must not block, allocate, or yield.
func (f *Forger) align(cpuIndex int) {
	f.lockFrequency(cpuIndex)

	value, err := f.regs.Read(cpuIndex, msr.TSC)
	if err != nil {
		// Keep the zero contribution; the max-reduction ignores it.
		f.roundErrs[cpuIndex] = err
	} else {
		raiseTarget(&f.target, value)
	}

	// Full barrier: every participant must have published its reading
	// before any participant writes, or a fast participant could overwrite
	// the target mid-read by a slow one. Busy-wait only: the participant
	// count is small and fixed, and preemption is already suppressed.
	f.arrived.Add(1)
	count := uint32(f.info.Topology.Count)
	for f.arrived.Load() != count {
	}

	if err := f.regs.Write(cpuIndex, msr.TSC, f.target.Load()); err != nil && f.roundErrs[cpuIndex] == nil {
		f.roundErrs[cpuIndex] = err
	}
}

// lockFrequency pins the counter's increment rate to the base operating
// point when the part supports it. Idempotent; called every round on every
// participant.
func (f *Forger) lockFrequency(cpuIndex int) {
	if !f.info.Capabilities.FrequencyLock {
		return
	}
	control, err := f.regs.Read(cpuIndex, msr.HWCR)
	if err != nil {
		f.roundErrs[cpuIndex] = err
		return
	}
	if err := f.regs.Write(cpuIndex, msr.HWCR, control|msr.HWCRLockTSCToCurrP0); err != nil {
		f.roundErrs[cpuIndex] = err
	}
}

// raiseTarget atomically raises t to at least value. Sequentially
// consistent, so every participant later observes the single agreed value
// regardless of arrival order.
func raiseTarget(t *atomic.Uint64, value uint64) {
	for {
		current := t.Load()
		if value <= current || t.CompareAndSwap(current, value) {
			return
		}
	}
}

// State is a diagnostic snapshot of the sync state. Fields are read
// individually; a snapshot taken during a round may mix moments.
type State struct {
	Awake            bool
	Synchronizing    bool
	Synchronized     bool
	Arrived          uint32
	Target           uint64
	SchedulerRunning bool
}

// State returns a snapshot of the engine's sync state.
func (f *Forger) State() State {
	round := f.round.Load()
	return State{
		Awake:            f.awake.Load(),
		Synchronizing:    round == roundInProgress,
		Synchronized:     round == roundSettled,
		Arrived:          f.arrived.Load(),
		Target:           f.target.Load(),
		SchedulerRunning: f.sched.Running(),
	}
}

// Synchronized reports whether the last round completed and no new round
// has started since.
func (f *Forger) Synchronized() bool {
	return f.round.Load() == roundSettled
}
