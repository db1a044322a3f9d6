//go:build cuda

// Package cuda implements accel.Device on top of the CUDA runtime.
package cuda

import (
	"fmt"
	"unsafe"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/accel/cuda/native"
	"github.com/samcharles93/engineprep/internal/logger"
)

// Device is a single CUDA device driven through one stream. Every copy is
// followed by a stream synchronize, so calls are blocking.
type Device struct {
	log    logger.Logger
	stream native.Stream
}

// New selects the given device ordinal and creates its stream.
func New(ordinal int, log logger.Logger) (*Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda devices detected")
	}
	if ordinal < 0 || ordinal >= count {
		return nil, fmt.Errorf("cuda device %d out of range (found %d)", ordinal, count)
	}
	if err := native.SetDevice(ordinal); err != nil {
		return nil, fmt.Errorf("cuda set device %d: %w", ordinal, err)
	}
	stream, err := native.NewStream()
	if err != nil {
		return nil, fmt.Errorf("cuda stream create failed: %w", err)
	}
	log = log.With(logger.ComponentKey, "cuda")
	log.Debug("cuda device ready", "ordinal", ordinal, "devices", count)
	return &Device{log: log, stream: stream}, nil
}

func (d *Device) Name() string { return "cuda" }

func (d *Device) AllocHost(size int64) (accel.HostBuffer, error) {
	buf, err := native.AllocHostPinned(size)
	if err != nil {
		return nil, fmt.Errorf("cuda pinned alloc %s: %w", humanize.IBytes(uint64(size)), err)
	}
	return &hostBuffer{buf: buf, size: size}, nil
}

func (d *Device) AllocDevice(size int64) (accel.DeviceBuffer, error) {
	buf, err := native.AllocDevice(size)
	if err != nil {
		return nil, fmt.Errorf("cuda device alloc %s: %w", humanize.IBytes(uint64(size)), err)
	}
	return &deviceBuffer{buf: buf, size: size}, nil
}

func (d *Device) CopyToDevice(dst accel.DeviceBuffer, src accel.HostBuffer) error {
	if src.Size() > dst.Size() {
		return fmt.Errorf("%w: host buffer of %d bytes exceeds device buffer of %d", accel.ErrTransfer, src.Size(), dst.Size())
	}
	if err := native.MemcpyH2DAsync(unsafe.Pointer(dst.Addr()), unsafe.Pointer(&src.Bytes()[0]), src.Size(), d.stream); err != nil {
		return fmt.Errorf("%w: %v", accel.ErrTransfer, err)
	}
	return d.sync()
}

func (d *Device) CopyToHost(dst accel.HostBuffer, src accel.DeviceBuffer) error {
	if dst.Size() > src.Size() {
		return fmt.Errorf("%w: host buffer of %d bytes exceeds device buffer of %d", accel.ErrTransfer, dst.Size(), src.Size())
	}
	if err := native.MemcpyD2HAsync(unsafe.Pointer(&dst.Bytes()[0]), unsafe.Pointer(src.Addr()), dst.Size(), d.stream); err != nil {
		return fmt.Errorf("%w: %v", accel.ErrTransfer, err)
	}
	return d.sync()
}

func (d *Device) ReadDevice(dst []byte, src uintptr) error {
	if len(dst) == 0 {
		return nil
	}
	if err := native.MemcpyD2HAsync(unsafe.Pointer(&dst[0]), unsafe.Pointer(src), int64(len(dst)), d.stream); err != nil {
		return fmt.Errorf("%w: %v", accel.ErrTransfer, err)
	}
	return d.sync()
}

func (d *Device) Synchronize() error {
	return d.sync()
}

func (d *Device) Close() error {
	return d.stream.Destroy()
}

func (d *Device) sync() error {
	if err := d.stream.Synchronize(); err != nil {
		return fmt.Errorf("%w: stream synchronize: %v", accel.ErrTransfer, err)
	}
	return nil
}

type hostBuffer struct {
	buf   native.HostBuffer
	size  int64
	freed bool
}

func (b *hostBuffer) Bytes() []byte {
	if b.freed {
		return nil
	}
	return unsafe.Slice((*byte)(b.buf.Ptr()), b.size)
}

func (b *hostBuffer) Size() int64  { return b.size }
func (b *hostBuffer) Pinned() bool { return true }

func (b *hostBuffer) Free() error {
	if b.freed {
		return nil
	}
	b.freed = true
	return b.buf.Free()
}

type deviceBuffer struct {
	buf   native.DeviceBuffer
	size  int64
	freed bool
}

func (b *deviceBuffer) Addr() uintptr { return uintptr(b.buf.Ptr()) }
func (b *deviceBuffer) Size() int64   { return b.size }

func (b *deviceBuffer) Free() error {
	if b.freed {
		return nil
	}
	b.freed = true
	return b.buf.Free()
}
