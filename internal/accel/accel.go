// Package accel abstracts the accelerator memory model used by engineprep:
// page-locked host buffers, device buffers, and blocking copies between them.
package accel

import (
	"errors"
	"unsafe"
)

var (
	// ErrTransfer reports a failed host<->device copy. Buffer contents are
	// undefined afterwards.
	ErrTransfer = errors.New("accelerator transfer failed")
	// ErrExecution reports a failed graph execution on the accelerator.
	ErrExecution = errors.New("accelerator execution failed")
	// ErrFreed is returned when a released buffer is used again.
	ErrFreed = errors.New("buffer already freed")
)

// HostBuffer is host-resident memory, page-locked when the device supports it.
type HostBuffer interface {
	Bytes() []byte
	Size() int64
	// Pinned reports whether the memory is locked against paging.
	Pinned() bool
	Free() error
}

// DeviceBuffer is memory in the accelerator address space.
type DeviceBuffer interface {
	Addr() uintptr
	Size() int64
	Free() error
}

// Device allocates buffers and moves bytes. Every copy blocks until the
// accelerator reports completion.
type Device interface {
	Name() string
	AllocHost(size int64) (HostBuffer, error)
	AllocDevice(size int64) (DeviceBuffer, error)
	// CopyToDevice copies all of src into the front of dst.
	CopyToDevice(dst DeviceBuffer, src HostBuffer) error
	// CopyToHost fills dst from the front of src.
	CopyToHost(dst HostBuffer, src DeviceBuffer) error
	// ReadDevice copies len(dst) bytes starting at a raw device address.
	ReadDevice(dst []byte, src uintptr) error
	Synchronize() error
	Close() error
}

// Float32s reinterprets b as float32 values. len(b) must be a multiple of 4
// and b must be 4-byte aligned, which holds for every HostBuffer.
func Float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Float32Bytes reinterprets v as raw bytes without copying.
func Float32Bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
