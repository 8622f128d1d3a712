//go:build linux

// Package uio maps a controller's register space through the Linux
// userspace I/O framework. A Window implements canfd.Registers.
package uio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sysClass = "/sys/class/uio"
	devDir   = "/dev"
)

// Window is a mapped register region of one UIO device.
type Window struct {
	name string
	f    *os.File
	mem  []byte
}

// Find returns the UIO device name (e.g. "uio0") whose sysfs name attribute
// equals name, as set by the device tree node of the controller.
func Find(name string) (string, error) {
	entries, err := os.ReadDir(sysClass)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(sysClass, e.Name(), "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == name {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("uio: no device named %q", name)
}

func readSysValue(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("uio: %s: %w", path, err)
	}
	return int(v), nil
}

// Open maps the first memory region of the UIO device dev, e.g. "uio0".
func Open(dev string) (*Window, error) {
	size, err := readSysValue(filepath.Join(sysClass, dev, "maps", "map0", "size"))
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(devDir, dev), os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("uio: mmap %s: %w", dev, err)
	}
	return &Window{name: dev, f: f, mem: mem}, nil
}

// Size returns the length of the mapped region in bytes.
func (w *Window) Size() int { return len(w.mem) }

func (w *Window) reg(off uint32) *uint32 {
	if int(off)+4 > len(w.mem) || off%4 != 0 {
		panic(fmt.Sprintf("uio: %s: register offset %#x outside window", w.name, off))
	}
	return (*uint32)(unsafe.Pointer(&w.mem[off]))
}

// ReadReg performs a single 32-bit load.
func (w *Window) ReadReg(off uint32) uint32 { return atomic.LoadUint32(w.reg(off)) }

// WriteReg performs a single 32-bit store.
func (w *Window) WriteReg(off, v uint32) { atomic.StoreUint32(w.reg(off), v) }

// EnableInterrupt re-arms the device interrupt.
func (w *Window) EnableInterrupt() error {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], 1)
	_, err := w.f.Write(b[:])
	return err
}

// WaitInterrupt blocks until the device raises an interrupt and returns the
// total interrupt count. The interrupt must be re-armed with
// EnableInterrupt after it has been serviced.
func (w *Window) WaitInterrupt() (uint32, error) {
	var b [4]byte
	if _, err := w.f.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(b[:]), nil
}

// Close unmaps the region and closes the device.
func (w *Window) Close() error {
	return errors.Join(unix.Munmap(w.mem), w.f.Close())
}
