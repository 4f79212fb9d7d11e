package cpu

import "time"

// ReadCycleCounter reads the CPU's cycle counter (TSC on x86). On platforms
// without assembly support it falls back to time.Now(), which is good enough
// for the frequency estimate below but not for register-accurate reads.
func ReadCycleCounter() uint64 {
	return readCycleCounter()
}

// EstimateFrequencyMHz measures the counter rate by sampling it across a
// fixed sleep. Diagnostic only; the engine never converts cycles to time.
func EstimateFrequencyMHz(window time.Duration) int {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	start := readCycleCounter()
	time.Sleep(window)
	end := readCycleCounter()
	// Scale over nanoseconds: a sub-microsecond window truncates to a
	// zero microsecond count.
	return int(int64(end-start) * 1000 / window.Nanoseconds())
}
