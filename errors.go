package tscsync

import "errors"

// Sentinel errors returned by engine construction and the daemon surface.
var (
	// ErrNoRegisters is returned when the engine is constructed without a
	// hardware register backend.
	ErrNoRegisters = errors.New("tscsync: no register backend")

	// ErrNoParticipants is returned when detection resolves to a
	// participant count of zero. Detection itself never produces zero;
	// this guards hand-built configurations.
	ErrNoParticipants = errors.New("tscsync: participant count not set")
)
