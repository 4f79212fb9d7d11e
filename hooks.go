package tscsync

// The trigger gateway wraps three foreign entry points in middleware style:
// each wrapper receives the next handler (the original implementation) as an
// injected dependency and decides whether and when to forward.

// UrgencyHandler is the real-time urgency notification entry point:
// an urgency class plus the real-time period and deadline computed from the
// cycle counter.
type UrgencyHandler func(urgency int, rtPeriod, rtDeadline uint64)

// TracePointHandler is the power-management trace point entry point.
type TracePointHandler func(point uint8)

// CalendarTimeHandler reads the calendar (wall-clock) time as seconds and
// microseconds.
type CalendarTimeHandler func() (sec int64, usec int64)

// Power-management trace points the gateway reacts to. All other values
// pass through untouched.
const (
	// TracePointSleepCPUs marks the point where CPUs are taken down on
	// the way into sleep.
	TracePointSleepCPUs uint8 = 0x18

	// TracePointWakePlatformActions marks post-wake platform actions,
	// the earliest point where a round is worth running.
	TracePointWakePlatformActions uint8 = 0x22
)

// WrapUrgency gates the urgency notification on synchronization: while the
// engine is not synchronized the call is dropped entirely — real-time
// deadlines computed against a desynchronized counter must not reach the
// scheduler. No queuing, no delayed delivery.
func (f *Forger) WrapUrgency(next UrgencyHandler) UrgencyHandler {
	return func(urgency int, rtPeriod, rtDeadline uint64) {
		if !f.Synchronized() {
			return
		}
		next(urgency, rtPeriod, rtDeadline)
	}
}

// WrapTracePoint drives the engine's awake state from power transitions.
// Entering sleep marks the engine asleep and desynchronized and stops the
// periodic scheduler; the post-wake point marks it awake, runs a synchronous
// round, and restarts the scheduler. The original handler always runs
// afterward, for every point value.
func (f *Forger) WrapTracePoint(next TracePointHandler) TracePointHandler {
	return func(point uint8) {
		switch point {
		case TracePointSleepCPUs:
			f.awake.Store(false)
			// Drop the settled mark; a round in flight keeps its state
			// and will settle on its own.
			f.round.CompareAndSwap(roundSettled, roundIdle)
			f.sched.Stop()
		case TracePointWakePlatformActions:
			f.awake.Store(true)
			f.Request(false)
			f.sched.Start()
		}
		next(point)
	}
}

// WrapCalendarTime requests a round before every calendar read, then always
// forwards. The request's outcome is deliberately ignored: the guarantee is
// "an alignment attempt precedes every wall-clock read", not "every read is
// aligned".
func (f *Forger) WrapCalendarTime(next CalendarTimeHandler) CalendarTimeHandler {
	return func() (int64, int64) {
		f.Request(false)
		return next()
	}
}

// Hooks carries the three foreign entry points the gateway wraps. A nil
// field marks a routine that could not be intercepted.
type Hooks struct {
	Urgency      UrgencyHandler
	TracePoint   TracePointHandler
	CalendarTime CalendarTimeHandler
}

// Bind wraps every non-nil hook and returns the wrapped set. Nil hooks are
// logged and stay nil: the engine still operates from its startup round and
// periodic trigger, but that routine's gating or driving behavior is
// unavailable.
func (f *Forger) Bind(next Hooks) Hooks {
	var wrapped Hooks
	if next.Urgency != nil {
		wrapped.Urgency = f.WrapUrgency(next.Urgency)
	} else {
		f.log.Warn("urgency routine not wrapped, gating unavailable")
	}
	if next.TracePoint != nil {
		wrapped.TracePoint = f.WrapTracePoint(next.TracePoint)
	} else {
		f.log.Warn("trace point routine not wrapped, power transitions unavailable")
	}
	if next.CalendarTime != nil {
		wrapped.CalendarTime = f.WrapCalendarTime(next.CalendarTime)
	} else {
		f.log.Warn("calendar time routine not wrapped, read-side sync unavailable")
	}
	return wrapped
}
