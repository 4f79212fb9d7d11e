//go:build linux

package msr

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Device accesses registers through the Linux msr driver
// (/dev/cpu/N/msr). Requires the msr kernel module and root or
// CAP_SYS_RAWIO; writes additionally require a kernel without
// msr.allow_writes=off.
//
// File descriptors are opened lazily, one per CPU, and cached for the
// lifetime of the device: the rendezvous path must not pay an open() per
// round.
type Device struct {
	mu     sync.Mutex
	files  map[int]*os.File
	closed bool
}

// OpenDevice returns a register backend over the msr driver. It probes CPU 0
// so that a missing driver surfaces at setup time rather than mid-round.
func OpenDevice() (*Device, error) {
	d := &Device{files: make(map[int]*os.File)}
	if _, err := d.file(0); err != nil {
		return nil, fmt.Errorf("msr: driver probe failed: %w", err)
	}
	return d, nil
}

func (d *Device) file(cpu int) (*os.File, error) {
	if cpu < 0 {
		return nil, ErrInvalidCPU
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if f, ok := d.files[cpu]; ok {
		return f, nil
	}
	f, err := os.OpenFile(fmt.Sprintf("/dev/cpu/%d/msr", cpu), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	d.files[cpu] = f
	return f, nil
}

// Read reads a 64-bit register on the given CPU. The msr driver encodes the
// register address as the file offset.
func (d *Device) Read(cpu int, reg uint32) (uint64, error) {
	f, err := d.file(cpu)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	if _, err := unix.Pread(int(f.Fd()), buf[:], int64(reg)); err != nil {
		return 0, fmt.Errorf("msr: read cpu %d reg %#x: %w", cpu, reg, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Write writes a 64-bit register on the given CPU.
func (d *Device) Write(cpu int, reg uint32, value uint64) error {
	f, err := d.file(cpu)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	if _, err := unix.Pwrite(int(f.Fd()), buf[:], int64(reg)); err != nil {
		return fmt.Errorf("msr: write cpu %d reg %#x: %w", cpu, reg, err)
	}
	return nil
}

// Close releases all cached descriptors.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var firstErr error
	for _, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.files = nil
	return firstErr
}
