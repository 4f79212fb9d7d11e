package cpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/tsc-sync/internal/msr"
)

// leafKey identifies one CPUID query.
type leafKey struct{ leaf, subleaf uint32 }

// leafOut is the four output registers in eax, ebx, ecx, edx order.
type leafOut [4]uint32

// fakeQuery returns fixed leaf data; unknown leaves read as all zeros, like
// hardware past the highest supported leaf.
func fakeQuery(leaves map[leafKey]leafOut) QueryFunc {
	return func(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
		out := leaves[leafKey{leaf, subleaf}]
		return out[0], out[1], out[2], out[3]
	}
}

// vendorLeaf encodes a 12-character vendor string into leaf 0's EBX, EDX,
// ECX layout.
func vendorLeaf(vendor string) leafOut {
	le := func(s string) uint32 {
		return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24
	}
	return leafOut{0, le(vendor[0:4]), le(vendor[8:12]), le(vendor[4:8])}
}

// versionEAX encodes a leaf-1 version field.
func versionEAX(baseFamily, extFamily, baseModel, extModel uint32) uint32 {
	return baseFamily<<8 | baseModel<<4 | extModel<<16 | extFamily<<20
}

func TestVendorString(t *testing.T) {
	t.Parallel()

	q := fakeQuery(map[leafKey]leafOut{
		{0, 0}: vendorLeaf(VendorAMD),
	})
	assert.Equal(t, VendorAMD, vendorString(q))

	assert.Equal(t, "", vendorString(fakeQuery(nil)), "all-zero leaf 0 has no vendor")
}

func TestSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		eax        uint32
		wantFamily uint32
		wantModel  uint32
	}{
		{"plain family", versionEAX(0x6, 0, 0x5, 0), 0x6, 0x5},
		{"family 6 extended model", versionEAX(0x6, 0, 0xC, 0x3), 0x6, 0x3C},
		{"extended family added", versionEAX(0xF, 0x8, 0x1, 0x7), 0x17, 0x71},
		{"low family ignores extension", versionEAX(0x5, 0x8, 0x4, 0x7), 0x5, 0x4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			family, model := signature(fakeQuery(map[leafKey]leafOut{
				{1, 0}: {tt.eax},
			}))
			assert.Equal(t, tt.wantFamily, family, "family")
			assert.Equal(t, tt.wantModel, model, "model")
		})
	}
}

func TestDetect_AMD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		eax      uint32
		wantLock bool
	}{
		{"family 0x17", versionEAX(0xF, 0x8, 0, 0), true},
		{"family 0x19 via extension", versionEAX(0xF, 0xA, 0, 0), true},
		{"family 0x10", versionEAX(0xF, 0x1, 0, 0), false},
		{"family 0x6", versionEAX(0x6, 0, 0, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := Detect(Config{Query: fakeQuery(map[leafKey]leafOut{
				{0, 0}:           vendorLeaf(VendorAMD),
				{1, 0}:           {tt.eax},
				{0x8000_0008, 0}: {0, 0, 0x0F, 0}, // 15 + 1 logical CPUs
			})})
			assert.Equal(t, VendorAMD, info.Vendor)
			assert.Equal(t, 16, info.Topology.Count)
			assert.Equal(t, tt.wantLock, info.Capabilities.FrequencyLock)
			assert.False(t, info.Capabilities.FineAdjust)
		})
	}
}

func TestDetect_AMDMissingExtendedLeaf(t *testing.T) {
	t.Parallel()

	// Extended leaf reads as zero: ecx&0xFF+1 == 1, which is kept as a
	// valid count (single participant), not routed to the fallback.
	info := Detect(Config{Query: fakeQuery(map[leafKey]leafOut{
		{0, 0}: vendorLeaf(VendorAMD),
		{1, 0}: {versionEAX(0xF, 0x8, 0, 0), 8 << 16, 0, leaf1HTT},
	})})
	assert.Equal(t, 1, info.Topology.Count)
}

func TestDetect_IntelCountFromRegister(t *testing.T) {
	t.Parallel()

	regs := msr.NewMock(1)
	regs.Preload(0, msr.CoreThreadCount, 0x0000_000C)

	info := Detect(Config{
		Query: fakeQuery(map[leafKey]leafOut{
			{0, 0}: vendorLeaf(VendorIntel),
			{1, 0}: {versionEAX(0x6, 0, 0xC, 0x3)}, // model 0x3C > Penryn
			{7, 0}: {0, leaf7TSCAdjust, 0, 0},
		}),
		Regs: regs,
	})

	assert.Equal(t, VendorIntel, info.Vendor)
	assert.Equal(t, 12, info.Topology.Count)
	assert.True(t, info.Capabilities.FineAdjust)
	assert.False(t, info.Capabilities.FrequencyLock)
}

func TestDetect_IntelPrePenrynUsesFallback(t *testing.T) {
	t.Parallel()

	regs := msr.NewMock(1)
	regs.Preload(0, msr.CoreThreadCount, 0x0000_000C)

	// Family 6, model 0x0F: the register path is gated off, so the count
	// comes from the HTT heuristic.
	info := Detect(Config{
		Query: fakeQuery(map[leafKey]leafOut{
			{0, 0}: vendorLeaf(VendorIntel),
			{1, 0}: {versionEAX(0x6, 0, 0xF, 0), 2 << 16, 0, leaf1HTT},
		}),
		Regs: regs,
	})
	assert.Equal(t, 2, info.Topology.Count)
}

type failingReader struct{}

func (failingReader) Read(int, uint32) (uint64, error) {
	return 0, errors.New("no msr access")
}

func TestDetect_IntelRegisterErrorUsesFallback(t *testing.T) {
	t.Parallel()

	info := Detect(Config{
		Query: fakeQuery(map[leafKey]leafOut{
			{0, 0}: vendorLeaf(VendorIntel),
			{1, 0}: {versionEAX(0x6, 0, 0xC, 0x3), 4 << 16, 0, leaf1HTT},
		}),
		Regs: failingReader{},
	})
	assert.Equal(t, 4, info.Topology.Count)
}

func TestDetect_UnknownVendor(t *testing.T) {
	t.Parallel()

	t.Run("htt count", func(t *testing.T) {
		t.Parallel()
		info := Detect(Config{Query: fakeQuery(map[leafKey]leafOut{
			{0, 0}: vendorLeaf("SomeOtherCPU"),
			{1, 0}: {0, 8 << 16, 0, leaf1HTT},
		})})
		assert.Equal(t, 8, info.Topology.Count)
		assert.Equal(t, Capabilities{}, info.Capabilities)
	})

	t.Run("no htt", func(t *testing.T) {
		t.Parallel()
		info := Detect(Config{Query: fakeQuery(map[leafKey]leafOut{
			{0, 0}: vendorLeaf("SomeOtherCPU"),
			{1, 0}: {0, 8 << 16, 0, 0},
		})})
		assert.Equal(t, 1, info.Topology.Count)
	})
}

func TestDetect_ZeroQueryYieldsSingleParticipant(t *testing.T) {
	t.Parallel()

	// The purego/non-x86 Native query returns all zeros; detection must
	// still come back usable.
	info := Detect(Config{Query: fakeQuery(nil)})
	require.Equal(t, 1, info.Topology.Count)
	assert.Empty(t, info.Vendor)
	assert.Equal(t, Capabilities{}, info.Capabilities)
}

func TestDetect_NativeQueryDoesNotPanic(t *testing.T) {
	t.Parallel()

	// Exercises the hardware (or fallback) query end to end.
	info := Detect(Config{})
	assert.GreaterOrEqual(t, info.Topology.Count, 1)
}
