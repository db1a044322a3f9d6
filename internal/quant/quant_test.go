package quant

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/calib"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

func TestTableFormatParse(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	tbl.Scales["input"] = 0.0078125
	tbl.Scales["conv1/Relu:0"] = 1.5
	tbl.Scales["odd: name"] = 3

	blob := tbl.Format()
	assert.Equal(t, Header+"\n"+
		"conv1/Relu:0: 3fc00000\n"+
		"input: 3c000000\n"+
		"odd: name: 40400000\n", string(blob))

	got, err := ParseTable(blob)
	require.NoError(t, err)
	assert.Equal(t, tbl, got)
}

func TestParseTableErrors(t *testing.T) {
	t.Parallel()
	for name, blob := range map[string]string{
		"empty":      "",
		"blank head": "\ninput: 3c000000\n",
		"no colon":   "H\ninput 3c000000\n",
		"bad hex":    "H\ninput: zz\n",
		"wide value": "H\ninput: 1ffffffff\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTable([]byte(blob))
			assert.Error(t, err)
		})
	}

	got, err := ParseTable([]byte("TRT-8601-EntropyCalibration2\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "TRT-8601-EntropyCalibration2", got.Header)
	assert.Empty(t, got.Scales)
}

func TestMaxAbsValue(t *testing.T) {
	t.Parallel()
	assert.Equal(t, float32(0), MaxAbsValue(nil))
	assert.Equal(t, float32(4), MaxAbsValue([]float32{1, -4, 3}))
	assert.Equal(t, float32(2), MaxAbsValue([]float32{float32(math.NaN()), 2}))
}

func writeDataset(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 2, 2))
		for p := range img.Pix {
			img.Pix[p] = uint8(i * 10)
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	return dir
}

func TestCalibrateWithSession(t *testing.T) {
	t.Parallel()
	dev := accel.NewHostDevice(logger.Nop())
	t.Cleanup(func() { _ = dev.Close() })

	cfg := calib.Config{
		BatchSize:  2,
		InputShape: graph.Dims{3, 2, 2},
		CachePath:  filepath.Join(t.TempDir(), "calibration.cache"),
		DataDir:    writeDataset(t, 5),
		Preprocess: "inception",
	}
	s, err := calib.NewSession(cfg, dev, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := NewMaxAbs(dev, "input", 12, logger.Nop())
	res, err := q.Calibrate(s)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 6, res.Samples)
	assert.Equal(t, float32(40)/127, res.Table.Scales["input"])
	assert.Equal(t, calib.Exhausted, s.State())

	// A second session finds the cache and never reads the dataset.
	cfg.DataDir = ""
	again, err := calib.NewSession(cfg, dev, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	assert.Equal(t, calib.CacheHit, again.State())

	cached, err := q.Calibrate(again)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Zero(t, cached.Batches)
	assert.Equal(t, res.Table, cached.Table)
}

type emptySource struct{}

func (emptySource) BatchSize() int                    { return 1 }
func (emptySource) NextBatch() (uintptr, bool, error) { return 0, false, nil }
func (emptySource) ReadCache() ([]byte, bool, error)  { return nil, false, nil }
func (emptySource) WriteCache([]byte) error           { return nil }

func TestCalibrateWithoutBatches(t *testing.T) {
	t.Parallel()
	dev := accel.NewHostDevice(logger.Nop())
	t.Cleanup(func() { _ = dev.Close() })
	_, err := NewMaxAbs(dev, "input", 4, logger.Nop()).Calibrate(emptySource{})
	assert.Error(t, err)
}
