//go:build amd64 && !purego

package cpu

// readCycleCounter reads the time-stamp counter using RDTSC.
// Implemented in cycles_amd64.s
//
//go:noescape
func readCycleCounter() uint64
