// Package cpu performs one-shot processor identification for the
// synchronization engine: logical participant count and the vendor-specific
// capabilities that gate the frequency-lock and fine-adjustment paths.
//
// Detection is a pure function of CPUID leaf data (plus one register read on
// newer Intel parts), so every vendor rule is testable against fixed inputs.
// The hardware-backed query lives behind the same function type.
package cpu

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/tsc-sync/internal/msr"
)

// QueryFunc executes a CPUID query for the given leaf and sub-leaf and
// returns the four output registers. Implementations must return all zeros
// for unsupported leaves; detection treats zeros as "not available".
type QueryFunc func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// RegisterReader is the subset of the msr backend detection needs for the
// Intel core/thread count path. A nil reader disables that path.
type RegisterReader interface {
	Read(cpu int, reg uint32) (uint64, error)
}

// Topology is the immutable participant count, set once at startup.
type Topology struct {
	// Count is the number of logical CPUs taking part in each rendezvous.
	Count int
}

// Capabilities are immutable per-process feature flags.
type Capabilities struct {
	// FrequencyLock reports whether the HWCR TSC lock bit is supported
	// (AMD family 17h and newer).
	FrequencyLock bool

	// FineAdjust reports whether the TSC adjustment register exists
	// (leaf-7 TSC_ADJUST). Informational: the engine writes the counter
	// directly rather than adjusting it.
	FineAdjust bool
}

// Info is the complete detection result. Read-only for the remainder of the
// process.
type Info struct {
	Vendor string
	Family uint32
	Model  uint32

	Topology     Topology
	Capabilities Capabilities
}

// Known vendor identification strings from leaf 0.
const (
	VendorAMD   = "AuthenticAMD"
	VendorIntel = "GenuineIntel"
)

const (
	// leaf1HTT is EDX bit 28 of leaf 1: hyper-threading available, making
	// EBX bits 23:16 the logical processor count.
	leaf1HTT = 1 << 28

	// leaf7TSCAdjust is EBX bit 1 of leaf 7 sub-leaf 0.
	leaf7TSCAdjust = 1 << 1

	// modelPenryn gates the family-6 CORE_THREAD_COUNT register path.
	modelPenryn = 0x17
)

// Config supplies detection inputs. Zero values select the hardware query,
// no register access, and no logging.
type Config struct {
	Query QueryFunc
	Regs  RegisterReader
	Log   logrus.FieldLogger
}

// Detect identifies the processor and derives Topology and Capabilities.
//
// Unknown vendors are logged and fall through to the generic heuristic;
// capability flags then stay false. A participant count that resolves to
// zero becomes one.
func Detect(cfg Config) Info {
	query := cfg.Query
	if query == nil {
		query = Native
	}
	log := cfg.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	var info Info
	info.Vendor = vendorString(query)
	info.Family, info.Model = signature(query)

	switch info.Vendor {
	case VendorAMD:
		// Logical count from the dedicated extended leaf: low byte of
		// ECX, plus one.
		_, _, ecx, _ := query(0x8000_0008, 0)
		info.Topology.Count = int(ecx&0xFF) + 1
		info.Capabilities.FrequencyLock = info.Family >= 0x17

	case VendorIntel:
		_, ebx, _, _ := query(7, 0)
		info.Capabilities.FineAdjust = ebx&leaf7TSCAdjust != 0
		if cfg.Regs != nil && (info.Family > 6 || (info.Family == 6 && info.Model > modelPenryn)) {
			v, err := cfg.Regs.Read(0, msr.CoreThreadCount)
			if err != nil {
				log.WithError(err).Warn("core/thread count register unreadable, using fallback")
			} else {
				info.Topology.Count = int(v & 0xFFFF)
			}
		}

	default:
		log.WithField("vendor", info.Vendor).Warn("unknown cpu vendor, using generic detection")
	}

	if info.Topology.Count == 0 {
		info.Topology.Count = fallbackCount(query)
	}

	return info
}

// fallbackCount derives the participant count from the generic feature leaf:
// with HTT set, EBX bits 23:16 carry the logical count; otherwise one.
func fallbackCount(query QueryFunc) int {
	_, ebx, _, edx := query(1, 0)
	if edx&leaf1HTT != 0 {
		if n := int(ebx>>16) & 0xFF; n > 0 {
			return n
		}
	}
	return 1
}

// vendorString assembles the 12-byte vendor identifier from leaf 0 in its
// architectural EBX, EDX, ECX order.
func vendorString(query QueryFunc) string {
	_, ebx, ecx, edx := query(0, 0)
	if ebx == 0 && ecx == 0 && edx == 0 {
		return ""
	}
	b := make([]byte, 0, 12)
	for _, reg := range [...]uint32{ebx, edx, ecx} {
		b = append(b, byte(reg), byte(reg>>8), byte(reg>>16), byte(reg>>24))
	}
	return string(b)
}

// signature decodes family and model from the leaf-1 version field,
// applying the extended-family and extended-model rules.
func signature(query QueryFunc) (family, model uint32) {
	eax, _, _, _ := query(1, 0)
	base := (eax >> 8) & 0xF
	family = base
	model = (eax >> 4) & 0xF
	if base == 0xF {
		family += (eax >> 20) & 0xFF
	}
	if base == 0xF || base == 6 {
		model += ((eax >> 16) & 0xF) << 4
	}
	return family, model
}
