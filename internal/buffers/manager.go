// Package buffers owns the host/device buffer pair behind every binding of
// an execution context.
package buffers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

// Pair is the host and device buffer of one binding, sized for Shape.
type Pair struct {
	Binding graph.Binding
	Shape   graph.Dims
	Host    accel.HostBuffer
	Device  accel.DeviceBuffer
	Bytes   int64
}

// Manager allocates and releases buffer pairs keyed by binding index. It is
// owned by a single execution context and is not safe for concurrent use.
type Manager struct {
	dev    accel.Device
	log    logger.Logger
	pairs  map[int]*Pair
	allocs int
}

func NewManager(dev accel.Device, log logger.Logger) *Manager {
	return &Manager{
		dev:   dev,
		log:   log.With(logger.ComponentKey, "buffers"),
		pairs: make(map[int]*Pair),
	}
}

// Allocate creates a fresh pair for b sized from shape, releasing any pair
// the binding already had.
func (m *Manager) Allocate(b graph.Binding, shape graph.Dims) (*Pair, error) {
	size, err := graph.ByteSize(shape, b.DType)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", b.Name, err)
	}
	if size == 0 {
		return nil, fmt.Errorf("binding %s: shape %s has no elements", b.Name, shape)
	}
	if err := m.Release(b.Index); err != nil {
		return nil, err
	}

	host, err := m.dev.AllocHost(size)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", b.Name, err)
	}
	dev, err := m.dev.AllocDevice(size)
	if err != nil {
		_ = host.Free()
		return nil, fmt.Errorf("binding %s: %w", b.Name, err)
	}

	p := &Pair{Binding: b, Shape: shape.Clone(), Host: host, Device: dev, Bytes: size}
	m.pairs[b.Index] = p
	m.allocs++
	m.log.Debug("allocated binding buffers",
		"binding", b.Name, "index", b.Index, "shape", shape.String(),
		"dtype", b.DType.String(), "size", humanize.IBytes(uint64(size)), "pinned", host.Pinned())
	return p, nil
}

// Rebind returns the binding's pair for shape, reallocating only when shape
// differs from the currently allocated one. The bool reports a reallocation.
func (m *Manager) Rebind(b graph.Binding, shape graph.Dims) (*Pair, bool, error) {
	if p, ok := m.pairs[b.Index]; ok && p.Shape.Equal(shape) && p.Binding.DType == b.DType {
		return p, false, nil
	}
	p, err := m.Allocate(b, shape)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Release frees the pair of a binding. Releasing an unknown binding is a
// no-op.
func (m *Manager) Release(index int) error {
	p, ok := m.pairs[index]
	if !ok {
		return nil
	}
	delete(m.pairs, index)
	return errors.Join(p.Host.Free(), p.Device.Free())
}

// ReleaseAll frees every pair. It is safe to call more than once.
func (m *Manager) ReleaseAll() error {
	var errs []error
	for _, idx := range m.Indices() {
		errs = append(errs, m.Release(idx))
	}
	return errors.Join(errs...)
}

// Get returns the pair of a binding.
func (m *Manager) Get(index int) (*Pair, bool) {
	p, ok := m.pairs[index]
	return p, ok
}

// Indices lists bound binding indices in ascending order.
func (m *Manager) Indices() []int {
	out := make([]int, 0, len(m.pairs))
	for idx := range m.pairs {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Allocations counts pairs created over the manager's lifetime.
func (m *Manager) Allocations() int { return m.allocs }

// TotalBytes sums the size of all live pairs.
func (m *Manager) TotalBytes() int64 {
	var n int64
	for _, p := range m.pairs {
		n += p.Bytes
	}
	return n
}
