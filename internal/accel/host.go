package accel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/engineprep/internal/logger"
)

// HostName is the device name reported by the host-memory device.
const HostName = "host"

const (
	hostBaseAddr  uintptr = 0x10000000
	hostAddrAlign uintptr = 256
)

// HostDevice emulates an accelerator in host memory. Device buffers get
// synthetic, non-overlapping addresses so code built around raw device
// pointers behaves exactly as it would against a real device. Host buffers
// are page-locked where the platform allows it.
type HostDevice struct {
	log logger.Logger

	mu      sync.Mutex
	next    uintptr
	regions map[uintptr][]byte
	closed  bool
	stats   HostStats
}

// HostStats counts allocations made by a HostDevice.
type HostStats struct {
	HostAllocs   int
	DeviceAllocs int
	DeviceFrees  int
	LiveDevice   int
	PinnedHost   int
}

// NewHostDevice returns an empty host-memory device.
func NewHostDevice(log logger.Logger) *HostDevice {
	return &HostDevice{
		log:     log.With(logger.ComponentKey, "accel"),
		next:    hostBaseAddr,
		regions: make(map[uintptr][]byte),
	}
}

func (d *HostDevice) Name() string { return HostName }

// Stats returns a snapshot of the allocation counters.
func (d *HostDevice) Stats() HostStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *HostDevice) AllocHost(size int64) (HostBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("host alloc size must be > 0")
	}
	b, locked, err := allocPinned(size)
	if err != nil {
		return nil, fmt.Errorf("host alloc %s: %w", humanize.IBytes(uint64(size)), err)
	}
	d.mu.Lock()
	d.stats.HostAllocs++
	if locked {
		d.stats.PinnedHost++
	}
	d.mu.Unlock()
	if !locked {
		d.log.Debug("host buffer not page-locked", "size", humanize.IBytes(uint64(size)))
	}
	return &hostBuffer{data: b, locked: locked}, nil
}

func (d *HostDevice) AllocDevice(size int64) (DeviceBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("device alloc size must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("host device closed")
	}
	addr := d.next
	d.regions[addr] = make([]byte, size)
	d.next += (uintptr(size) + hostAddrAlign - 1) &^ (hostAddrAlign - 1)
	d.stats.DeviceAllocs++
	d.stats.LiveDevice++
	return &hostDeviceBuffer{dev: d, addr: addr, size: size}, nil
}

func (d *HostDevice) CopyToDevice(dst DeviceBuffer, src HostBuffer) error {
	mem, err := d.View(dst.Addr(), src.Size())
	if err != nil {
		return fmt.Errorf("%w: host to device: %v", ErrTransfer, err)
	}
	copy(mem, src.Bytes())
	return nil
}

func (d *HostDevice) CopyToHost(dst HostBuffer, src DeviceBuffer) error {
	mem, err := d.View(src.Addr(), dst.Size())
	if err != nil {
		return fmt.Errorf("%w: device to host: %v", ErrTransfer, err)
	}
	copy(dst.Bytes(), mem)
	return nil
}

func (d *HostDevice) ReadDevice(dst []byte, src uintptr) error {
	mem, err := d.View(src, int64(len(dst)))
	if err != nil {
		return fmt.Errorf("%w: read device: %v", ErrTransfer, err)
	}
	copy(dst, mem)
	return nil
}

// View returns the live device memory backing [addr, addr+size). Writes to
// the returned slice are device writes.
func (d *HostDevice) View(addr uintptr, size int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for base, mem := range d.regions {
		if addr < base || addr >= base+uintptr(len(mem)) {
			continue
		}
		off := int64(addr - base)
		if off+size > int64(len(mem)) {
			return nil, fmt.Errorf("range %#x+%d exceeds allocation of %d bytes at %#x", addr, size, len(mem), base)
		}
		return mem[off : off+size], nil
	}
	return nil, fmt.Errorf("address %#x is not a live device allocation", addr)
}

// Synchronize is a no-op: every host-memory copy completes before returning.
func (d *HostDevice) Synchronize() error { return nil }

// Close drops every remaining device allocation.
func (d *HostDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if n := len(d.regions); n > 0 {
		addrs := make([]uintptr, 0, n)
		for a := range d.regions {
			addrs = append(addrs, a)
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		d.log.Debug("releasing leaked device buffers", "count", n, "first", fmt.Sprintf("%#x", addrs[0]))
	}
	d.regions = map[uintptr][]byte{}
	d.closed = true
	return nil
}

func (d *HostDevice) free(addr uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.regions[addr]; !ok {
		if d.closed {
			return nil
		}
		return fmt.Errorf("free %#x: %w", addr, ErrFreed)
	}
	delete(d.regions, addr)
	d.stats.DeviceFrees++
	d.stats.LiveDevice--
	return nil
}

type hostBuffer struct {
	data   []byte
	locked bool
	freed  bool
}

func (b *hostBuffer) Bytes() []byte { return b.data }
func (b *hostBuffer) Size() int64   { return int64(len(b.data)) }
func (b *hostBuffer) Pinned() bool  { return b.locked }

func (b *hostBuffer) Free() error {
	if b.freed {
		return nil
	}
	b.freed = true
	err := freePinned(b.data, b.locked)
	b.data = nil
	return err
}

type hostDeviceBuffer struct {
	dev   *HostDevice
	addr  uintptr
	size  int64
	freed bool
}

func (b *hostDeviceBuffer) Addr() uintptr { return b.addr }
func (b *hostDeviceBuffer) Size() int64   { return b.size }

func (b *hostDeviceBuffer) Free() error {
	if b.freed {
		return nil
	}
	b.freed = true
	return b.dev.free(b.addr)
}
