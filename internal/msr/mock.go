package msr

import "sync"

// Mock is an in-memory register backend for tests and dry runs. It satisfies
// Registers but stores values per CPU in a map, with no hardware effect.
//
// Reads of a never-written register return zero, matching a reset counter.
type Mock struct {
	mu   sync.Mutex
	cpus int
	regs map[int]map[uint32]uint64
}

// NewMock returns a mock backend with the given number of CPUs. A count of
// zero or less means "no bounds checking", which some detection tests rely on.
func NewMock(cpus int) *Mock {
	return &Mock{
		cpus: cpus,
		regs: make(map[int]map[uint32]uint64),
	}
}

func (m *Mock) Read(cpu int, reg uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(cpu); err != nil {
		return 0, err
	}
	return m.regs[cpu][reg], nil
}

func (m *Mock) Write(cpu int, reg uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(cpu); err != nil {
		return err
	}
	if m.regs[cpu] == nil {
		m.regs[cpu] = make(map[uint32]uint64)
	}
	m.regs[cpu][reg] = value
	return nil
}

func (m *Mock) Close() error { return nil }

// Preload sets a register value on one CPU without going through Write's
// bounds check, for seeding test fixtures.
func (m *Mock) Preload(cpu int, reg uint32, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.regs[cpu] == nil {
		m.regs[cpu] = make(map[uint32]uint64)
	}
	m.regs[cpu][reg] = value
}

// Snapshot returns the value of one register across all seeded CPUs.
func (m *Mock) Snapshot(reg uint32) map[int]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]uint64, len(m.regs))
	for cpu, regs := range m.regs {
		if v, ok := regs[reg]; ok {
			out[cpu] = v
		}
	}
	return out
}

func (m *Mock) check(cpu int) error {
	if cpu < 0 || (m.cpus > 0 && cpu >= m.cpus) {
		return ErrInvalidCPU
	}
	return nil
}
