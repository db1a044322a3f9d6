package quant

import (
	"errors"
	"fmt"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/logger"
)

// Source is the calibration side of an INT8 build: it hands out device
// addresses of successive batches and owns the cache file.
type Source interface {
	BatchSize() int
	NextBatch() (addr uintptr, ok bool, err error)
	ReadCache() ([]byte, bool, error)
	WriteCache(blob []byte) error
}

// Result describes one calibration pass.
type Result struct {
	Table     *Table
	FromCache bool
	Batches   int
	Samples   int
}

// MaxAbs computes a symmetric scale (max |x| / 127) for a single input
// tensor from every batch of a Source. Batches are read back from device
// memory, as a device-side quantizer would see them.
type MaxAbs struct {
	dev  accel.Device
	log  logger.Logger
	name string
	// sample is the number of float32 values per batch row.
	sample int
}

func NewMaxAbs(dev accel.Device, tensor string, sampleElems int, log logger.Logger) *MaxAbs {
	return &MaxAbs{
		dev:    dev,
		log:    log.With(logger.ComponentKey, "quant"),
		name:   tensor,
		sample: sampleElems,
	}
}

// Calibrate reuses the source's cache when one exists. Otherwise it feeds
// every batch, then writes the resulting table back through the source.
func (q *MaxAbs) Calibrate(src Source) (*Result, error) {
	if blob, ok, err := src.ReadCache(); err != nil {
		return nil, err
	} else if ok {
		t, err := ParseTable(blob)
		if err != nil {
			return nil, err
		}
		q.log.Info("using existing calibration table", "header", t.Header, "tensors", len(t.Scales))
		return &Result{Table: t, FromCache: true}, nil
	}

	batch := src.BatchSize()
	if batch <= 0 || q.sample <= 0 {
		return nil, fmt.Errorf("invalid batch geometry: batch=%d sample=%d", batch, q.sample)
	}
	raw := make([]byte, batch*q.sample*4)
	res := &Result{}
	var amax float32
	for {
		addr, ok, err := src.NextBatch()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := q.dev.ReadDevice(raw, addr); err != nil {
			return nil, err
		}
		vals := accel.Float32s(raw)
		amax = max(amax, MaxAbsValue(vals))
		res.Batches++
		res.Samples += batch
	}
	if res.Batches == 0 {
		return nil, errors.New("calibration source produced no batches")
	}

	scale := amax / 127.0
	res.Table = NewTable()
	res.Table.Scales[q.name] = scale
	q.log.Info("computed calibration scale", "tensor", q.name, "amax", amax, "scale", scale, "batches", res.Batches)

	if err := src.WriteCache(res.Table.Format()); err != nil {
		return nil, err
	}
	return res, nil
}

// MaxAbsValue returns max |x| over vals. NaN values never win.
func MaxAbsValue(vals []float32) float32 {
	var m float32
	for _, v := range vals {
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}
