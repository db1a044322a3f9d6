package calib

import (
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

// Feeder walks a padded file list one batch at a time. Every call to Next
// overwrites the same destination rows; it cannot be rewound.
type Feeder struct {
	files  []string
	batch  int
	shape  graph.Dims
	sample int
	pre    PreprocessFunc
	log    logger.Logger
	cursor int
}

// NewFeeder pads files to a multiple of batchSize and prepares a cursor at
// the first file. shape is the per-sample CHW input shape.
func NewFeeder(files []string, batchSize int, shape graph.Dims, pre PreprocessFunc, log logger.Logger) (*Feeder, error) {
	if batchSize <= 0 {
		return nil, newConfigError("calibration batch size must be positive, got %d", batchSize)
	}
	if len(shape) != 3 || shape.IsDynamic() {
		return nil, newConfigError("calibration input shape must be C,H,W, got %s", shape)
	}
	if pre == nil {
		return nil, newConfigError("no preprocessing function")
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files to feed", ErrEmptyDataset)
	}

	padded := Pad(files, batchSize)
	if len(padded) != len(files) {
		log.Info("padded calibration files to a multiple of the batch size",
			"files", len(files), "padded", len(padded), "batch_size", batchSize)
	}
	return &Feeder{
		files:  padded,
		batch:  batchSize,
		shape:  shape.Clone(),
		sample: int(shape.Volume()),
		pre:    pre,
		log:    log,
	}, nil
}

// Files returns the padded file list.
func (f *Feeder) Files() []string { return f.files }

// Batches is the total number of batches the feeder yields.
func (f *Feeder) Batches() int { return len(f.files) / f.batch }

// Done is the number of batches already yielded.
func (f *Feeder) Done() int { return f.cursor / f.batch }

// Remaining is the number of batches left.
func (f *Feeder) Remaining() int { return f.Batches() - f.Done() }

// BatchLen is the number of float32 values in one batch.
func (f *Feeder) BatchLen() int { return f.batch * f.sample }

// Next decodes the next batch of files into dst, one preprocessed sample per
// row. It reports false once every file has been fed.
func (f *Feeder) Next(dst []float32) (bool, error) {
	if f.cursor >= len(f.files) {
		return false, nil
	}
	if len(dst) < f.BatchLen() {
		return false, fmt.Errorf("batch buffer holds %d values, want %d", len(dst), f.BatchLen())
	}
	for i := 0; i < f.batch; i++ {
		row := dst[i*f.sample : (i+1)*f.sample]
		if err := LoadSample(f.files[f.cursor+i], f.shape, f.pre, row); err != nil {
			return false, err
		}
	}
	f.cursor += f.batch
	f.log.Debug("calibration images pre-processed", "done", f.cursor, "total", len(f.files))
	return true, nil
}

// LoadSample decodes one image file and preprocesses it into dst.
func LoadSample(path string, shape graph.Dims, pre PreprocessFunc, dst []float32) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if err := pre(img, shape[0], shape[1], shape[2], dst); err != nil {
		return fmt.Errorf("preprocess %s: %w", path, err)
	}
	return nil
}
