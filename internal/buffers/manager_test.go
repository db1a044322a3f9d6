package buffers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

func newManager(t *testing.T) (*Manager, *accel.HostDevice) {
	t.Helper()
	dev := accel.NewHostDevice(logger.Nop())
	t.Cleanup(func() { _ = dev.Close() })
	return NewManager(dev, logger.Nop()), dev
}

func TestAllocateSizesFromShape(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	b := graph.Binding{Index: 0, Name: "input", Shape: graph.Dims{graph.Dynamic, 3, 224, 224}, DType: graph.Float32}

	p, err := m.Allocate(b, graph.Dims{4, 3, 224, 224})
	require.NoError(t, err)
	assert.Equal(t, int64(4*3*224*224*4), p.Bytes)
	assert.Equal(t, p.Bytes, p.Host.Size())
	assert.Equal(t, p.Bytes, p.Device.Size())

	_, err = m.Allocate(b, graph.Dims{graph.Dynamic, 3, 224, 224})
	require.Error(t, err)
}

func TestRebindSameShapeIsNoop(t *testing.T) {
	t.Parallel()
	m, dev := newManager(t)
	b := graph.Binding{Index: 2, Name: "scores", DType: graph.Float16}

	p1, realloc, err := m.Rebind(b, graph.Dims{4, 1000})
	require.NoError(t, err)
	assert.True(t, realloc)

	p2, realloc, err := m.Rebind(b, graph.Dims{4, 1000})
	require.NoError(t, err)
	assert.False(t, realloc)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, m.Allocations())

	p3, realloc, err := m.Rebind(b, graph.Dims{8, 1000})
	require.NoError(t, err)
	assert.True(t, realloc)
	assert.Equal(t, 2, m.Allocations())
	assert.Equal(t, int64(8*1000*2), p3.Bytes)

	stats := dev.Stats()
	assert.Equal(t, 2, stats.DeviceAllocs)
	assert.Equal(t, 1, stats.DeviceFrees, "old pair released before reallocation")
	assert.Equal(t, 1, stats.LiveDevice)
}

func TestReleaseAll(t *testing.T) {
	t.Parallel()
	m, dev := newManager(t)
	for i := 0; i < 3; i++ {
		_, err := m.Allocate(graph.Binding{Index: i, Name: "b", DType: graph.Float32}, graph.Dims{2, 2})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2}, m.Indices())
	assert.Equal(t, int64(48), m.TotalBytes())

	require.NoError(t, m.ReleaseAll())
	require.NoError(t, m.ReleaseAll())
	assert.Empty(t, m.Indices())
	assert.Equal(t, 0, dev.Stats().LiveDevice)

	require.NoError(t, m.Release(7))
}

func TestFloat32Views(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)

	for _, dt := range []graph.DataType{graph.Float32, graph.Float16, graph.Int32, graph.Int8} {
		p, err := m.Allocate(graph.Binding{Index: int(dt), Name: dt.String(), DType: dt}, graph.Dims{4})
		require.NoError(t, err)
		require.NoError(t, p.SetFloat32([]float32{-2, 0, 1.5, 3}))
		got, err := p.Float32()
		require.NoError(t, err)
		switch dt {
		case graph.Float32, graph.Float16:
			assert.Equal(t, []float32{-2, 0, 1.5, 3}, got, dt.String())
		default:
			assert.Equal(t, float32(-2), got[0], dt.String())
			assert.Equal(t, float32(3), got[3], dt.String())
		}
		require.Error(t, p.SetFloat32([]float32{1}), "length mismatch")
	}
}
