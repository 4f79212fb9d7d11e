// Package msr provides access to per-CPU model-specific registers.
//
// The synchronization engine reads and writes three well-known registers:
// the time-stamp counter itself, the HWCR control register used to lock the
// counter frequency, and the core/thread count register used during
// detection. All addresses are fixed architectural constants.
package msr

import "errors"

// Well-known register addresses.
const (
	// TSC is the time-stamp counter register.
	TSC = 0x10

	// TSCAdjust is the TSC adjustment register, present when the leaf-7
	// TSC_ADJUST feature bit is set. Detected and exposed, but the engine
	// synchronizes by writing TSC directly.
	TSCAdjust = 0x3B

	// CoreThreadCount reports logical processor count on newer Intel parts.
	CoreThreadCount = 0x35

	// HWCR is the AMD hardware configuration register.
	HWCR = 0xC001_0015
)

// HWCRLockTSCToCurrP0 pins the TSC increment rate to the P0 operating
// point, preventing rate drift across power-state changes (HWCR bit 21).
const HWCRLockTSCToCurrP0 uint64 = 1 << 21

// Sentinel errors returned by register backends.
var (
	// ErrUnsupported is returned when the platform has no MSR access path.
	ErrUnsupported = errors.New("msr: not supported on this platform")

	// ErrInvalidCPU is returned for a CPU index outside the backend's range.
	ErrInvalidCPU = errors.New("msr: invalid cpu index")

	// ErrClosed is returned after a backend has been closed.
	ErrClosed = errors.New("msr: backend closed")
)

// Registers reads and writes model-specific registers on a given logical CPU.
//
// Implementations must be safe for concurrent use: during a rendezvous round
// every participant accesses its own registers simultaneously.
type Registers interface {
	Read(cpu int, reg uint32) (uint64, error)
	Write(cpu int, reg uint32, value uint64) error
	Close() error
}
