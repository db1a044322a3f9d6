package calib

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

var testShape = graph.Dims{3, 2, 2}

func writeGray(t *testing.T, path string, v uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// makeDataset writes n 2x2 grayscale images whose pixel value is the file
// index, so batches can be checked by value.
func makeDataset(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		writeGray(t, filepath.Join(dir, fmt.Sprintf("img_%02d.png", i)), uint8(i))
	}
	return dir
}

func newDevice(t *testing.T) *accel.HostDevice {
	t.Helper()
	dev := accel.NewHostDevice(logger.Nop())
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func testConfig(t *testing.T, dataDir string, batch int) Config {
	return Config{
		BatchSize:  batch,
		InputShape: testShape,
		CachePath:  filepath.Join(t.TempDir(), "calibration.cache"),
		DataDir:    dataDir,
		Seed:       DefaultSampleSeed,
		Preprocess: "inception",
	}
}

func TestSessionFeedsPaddedBatchesThenExhausts(t *testing.T) {
	t.Parallel()
	dev := newDevice(t)
	s, err := NewSession(testConfig(t, makeDataset(t, 10), 4), dev, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, Feeding, s.State())
	assert.Equal(t, 4, s.BatchSize())
	assert.Equal(t, graph.Dims{4, 3, 2, 2}, s.BatchShape())
	require.Len(t, s.Files(), 12)
	assert.Equal(t, s.Files()[:2], s.Files()[10:])
	assert.Equal(t, 3, s.Total())

	var progress [][2]int
	s.OnProgress(func(done, total int) { progress = append(progress, [2]int{done, total}) })

	// Each sample is 12 values; the first value of a row is its file index.
	wantFirst := [][]float32{{0, 4, 8}, {1, 5, 9}, {2, 6, 0}, {3, 7, 1}}
	for b := 0; b < 3; b++ {
		addr, ok, err := s.NextBatch()
		require.NoError(t, err)
		require.True(t, ok, "batch %d", b)
		require.NotZero(t, addr)

		onDevice, err := dev.View(addr, int64(4*12*4))
		require.NoError(t, err)
		vals := accel.Float32s(onDevice)
		for row := 0; row < 4; row++ {
			assert.Equal(t, wantFirst[row][b], vals[row*12], "batch %d row %d", b, row)
		}
	}
	assert.Equal(t, Exhausted, s.State())
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

	for i := 0; i < 3; i++ {
		addr, ok, err := s.NextBatch()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, addr)
	}
	assert.Equal(t, 2, dev.Stats().HostAllocs+dev.Stats().DeviceAllocs)
}

// failingCopyDevice is a host device whose host-to-device copies fail.
type failingCopyDevice struct {
	*accel.HostDevice
}

func (failingCopyDevice) CopyToDevice(accel.DeviceBuffer, accel.HostBuffer) error {
	return fmt.Errorf("%w: link down", accel.ErrTransfer)
}

func TestSessionNextBatchTransferFailure(t *testing.T) {
	t.Parallel()
	s, err := NewSession(testConfig(t, makeDataset(t, 4), 2), failingCopyDevice{newDevice(t)}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	addr, ok, err := s.NextBatch()
	require.Error(t, err)
	assert.True(t, errors.Is(err, accel.ErrTransfer))
	assert.False(t, ok)
	assert.Zero(t, addr)
}

func TestSessionCacheHitSkipsDataset(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, filepath.Join(t.TempDir(), "does-not-exist"), 8)
	require.NoError(t, os.WriteFile(cfg.CachePath, []byte("TRT-8601-EntropyCalibration2\n"), 0o644))

	s, err := NewSession(cfg, newDevice(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, CacheHit, s.State())
	assert.Empty(t, s.Files())
	assert.Zero(t, s.Total())

	_, ok, err := s.NextBatch()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, CacheHit, s.State())

	blob, ok, err := s.ReadCache()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "TRT-8601-EntropyCalibration2\n", string(blob))
}

func TestSessionConfigurationErrors(t *testing.T) {
	t.Parallel()
	data := makeDataset(t, 3)
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no cache no data", func(c *Config) { c.DataDir = "" }, ErrConfiguration},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, ErrConfiguration},
		{"negative batch", func(c *Config) { c.BatchSize = -2 }, ErrConfiguration},
		{"unknown preprocess", func(c *Config) { c.Preprocess = "preprocess_yolo" }, ErrConfiguration},
		{"dynamic shape", func(c *Config) { c.InputShape = graph.Dims{3, -1, 2} }, ErrConfiguration},
		{"empty dir", func(c *Config) { c.DataDir = t.TempDir() }, ErrEmptyDataset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, data, 2)
			tt.mutate(&cfg)
			_, err := NewSession(cfg, newDevice(t), logger.Nop())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSessionCapsWithSeededSample(t *testing.T) {
	t.Parallel()
	data := makeDataset(t, 9)
	cfg := testConfig(t, data, 2)
	cfg.MaxSamples = 4

	a, err := NewSession(cfg, newDevice(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewSession(cfg, newDevice(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.Len(t, a.Files(), 4)
	assert.Equal(t, a.Files(), b.Files())
}

func TestSessionClose(t *testing.T) {
	t.Parallel()
	dev := newDevice(t)
	s, err := NewSession(testConfig(t, makeDataset(t, 2), 2), dev, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, Exhausted, s.State())
	assert.Zero(t, dev.Stats().LiveDevice)

	_, ok, err := s.NextBatch()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	c := Cache{Path: filepath.Join(t.TempDir(), "nested", "calib.cache")}
	assert.False(t, c.Exists())

	_, ok, err := c.Read()
	require.NoError(t, err)
	assert.False(t, ok)

	blob := []byte{0x00, 0xff, 'a', '\n', 0x7f}
	require.NoError(t, c.Write(blob))
	got, ok, err := c.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, got)

	require.NoError(t, c.Write([]byte("short")))
	got, _, err = c.Read()
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))
}

func TestPad(t *testing.T) {
	t.Parallel()
	files := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("f%d", i)
		}
		return out
	}
	for n := 1; n <= 11; n++ {
		for b := 1; b <= 6; b++ {
			in := files(n)
			got := Pad(in, b)
			want := (n + b - 1) / b * b
			require.Len(t, got, want, "n=%d b=%d", n, b)
			assert.Equal(t, in, got[:n])
			for i, f := range got[n:] {
				assert.Equal(t, in[i%n], f, "n=%d b=%d tail %d", n, b, i)
			}
			assert.Len(t, in, n)
		}
	}
	assert.Empty(t, Pad(nil, 4))
}

func TestSampleIsDeterministicSubset(t *testing.T) {
	t.Parallel()
	in := []string{"a", "b", "c", "d", "e", "f", "g"}
	got := Sample(in, 3, 42)
	require.Len(t, got, 3)
	assert.Equal(t, got, Sample(in, 3, 42))
	seen := map[string]bool{}
	for _, f := range got {
		assert.Contains(t, in, f)
		assert.False(t, seen[f])
		seen[f] = true
	}
	assert.Equal(t, in, Sample(in, 0, 42))
	assert.Equal(t, in, Sample(in, 10, 42))
}

func TestEnumerate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeGray(t, filepath.Join(dir, "b.png"), 1)
	writeGray(t, filepath.Join(dir, "sub", "a.PNG"), 2)
	writeGray(t, filepath.Join(dir, "sub", "deeper", "c.JpEg"), 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.png"), 0o755))

	got, err := Enumerate(dir, nil, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "sub", "a.PNG"),
		filepath.Join(dir, "sub", "deeper", "c.JpEg"),
	}, got)

	got, err = Enumerate(dir, []string{"jpeg"}, logger.Nop())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = Enumerate(dir, []string{".bmp"}, logger.Nop())
	assert.True(t, errors.Is(err, ErrEmptyDataset))
}

func TestEnumerateSkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	t.Parallel()
	dir := t.TempDir()
	writeGray(t, filepath.Join(dir, "a.png"), 1)
	locked := filepath.Join(dir, "sub", "locked")
	writeGray(t, filepath.Join(locked, "hidden.png"), 2)
	writeGray(t, filepath.Join(dir, "sub", "z.png"), 3)
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	got, err := Enumerate(dir, nil, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "sub", "z.png"),
	}, got)

	_, err = Enumerate(filepath.Join(dir, "missing"), nil, logger.Nop())
	require.Error(t, err)
}

func TestPreprocess(t *testing.T) {
	t.Parallel()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	raw := make([]float32, 12)
	fn, err := LookupPreprocess("preprocess_inception")
	require.NoError(t, err)
	require.NoError(t, fn(img, 3, 2, 2, raw))
	assert.Equal(t, []float32{255, 255, 255, 255, 0, 0, 0, 0, 51, 51, 51, 51}, raw)

	norm := make([]float32, 12)
	fn, err = LookupPreprocess("")
	require.NoError(t, err)
	require.NoError(t, fn(img, 3, 2, 2, norm))
	assert.InDelta(t, (1-0.485)/0.229, norm[0], 1e-5)
	assert.InDelta(t, (0-0.456)/0.224, norm[4], 1e-5)
	assert.InDelta(t, (0.2-0.406)/0.225, norm[8], 1e-5)

	assert.Error(t, Imagenet(img, 1, 2, 2, make([]float32, 4)))
	assert.Error(t, Imagenet(img, 3, 2, 2, make([]float32, 5)))
	assert.ElementsMatch(t, []string{"imagenet", "inception"}, PreprocessNames())
}
