// Package calib feeds representative images to an INT8 quantizer one batch
// at a time, or hands back an existing calibration cache so feeding can be
// skipped.
package calib

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

// DefaultMaxSamples caps the calibration set when the caller sets nothing.
const DefaultMaxSamples = 512

// State is the position of a Session in its lifecycle.
type State int

const (
	// CacheHit means a cache file existed at construction; nothing is fed.
	CacheHit State = iota
	// Feeding means batches remain in the padded file list.
	Feeding
	// Exhausted is terminal.
	Exhausted
)

func (s State) String() string {
	switch s {
	case CacheHit:
		return "cache_hit"
	case Feeding:
		return "feeding"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config is everything a Session needs. DataDir is only consulted when no
// cache file exists at CachePath.
type Config struct {
	BatchSize  int
	InputShape graph.Dims
	CachePath  string
	DataDir    string
	// MaxSamples caps the file set with a seeded random sample. 0 disables.
	MaxSamples int
	Seed       uint64
	Preprocess string
	Extensions []string
}

// ProgressFunc observes each fed batch.
type ProgressFunc func(done, total int)

// Session owns one host batch buffer and one device buffer for its whole
// lifetime and refills them on every NextBatch call. It is not safe for
// concurrent use.
type Session struct {
	cfg      Config
	dev      accel.Device
	log      logger.Logger
	cache    Cache
	feeder   *Feeder
	host     accel.HostBuffer
	device   accel.DeviceBuffer
	state    State
	progress ProgressFunc
}

// NewSession validates cfg and prepares the session. When the cache file
// exists the dataset directory is never read.
func NewSession(cfg Config, dev accel.Device, log logger.Logger) (*Session, error) {
	log = log.With(logger.ComponentKey, "calib")
	if cfg.BatchSize <= 0 {
		return nil, newConfigError("calibration batch size must be positive, got %d", cfg.BatchSize)
	}
	if len(cfg.InputShape) != 3 || cfg.InputShape.IsDynamic() {
		return nil, newConfigError("calibration input shape must be fixed C,H,W, got %s", cfg.InputShape)
	}
	if cfg.CachePath == "" {
		cfg.CachePath = DefaultCachePath
	}
	pre, err := LookupPreprocess(cfg.Preprocess)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		dev:   dev,
		log:   log,
		cache: Cache{Path: cfg.CachePath},
	}

	if s.cache.Exists() {
		log.Info("skipping calibration files, using calibration cache", "path", cfg.CachePath)
		s.state = CacheHit
	} else {
		if cfg.DataDir == "" {
			return nil, newConfigError("no calibration cache at %s and no calibration data directory set", cfg.CachePath)
		}
		files, err := Enumerate(cfg.DataDir, cfg.Extensions, log)
		if err != nil {
			return nil, err
		}
		log.Info("collected calibration files", "count", len(files), "dir", cfg.DataDir)
		if cfg.MaxSamples > 0 && len(files) > cfg.MaxSamples {
			log.Warn("capping calibration files with a random sample",
				"found", len(files), "max", cfg.MaxSamples, "seed", cfg.Seed)
			files = Sample(files, cfg.MaxSamples, cfg.Seed)
		}
		s.feeder, err = NewFeeder(files, cfg.BatchSize, cfg.InputShape, pre, log)
		if err != nil {
			return nil, err
		}
		s.state = Feeding
	}

	size := int64(cfg.BatchSize) * cfg.InputShape.Volume() * 4
	if s.host, err = dev.AllocHost(size); err != nil {
		return nil, fmt.Errorf("allocate calibration batch: %w", err)
	}
	if s.device, err = dev.AllocDevice(size); err != nil {
		_ = s.host.Free()
		return nil, fmt.Errorf("allocate calibration batch: %w", err)
	}
	log.Debug("allocated calibration buffers",
		"batch_shape", s.BatchShape().String(), "bytes", humanize.IBytes(uint64(size)), "pinned", s.host.Pinned())
	return s, nil
}

// BatchSize is the number of samples in every batch.
func (s *Session) BatchSize() int { return s.cfg.BatchSize }

// BatchShape is [batch] + input shape.
func (s *Session) BatchShape() graph.Dims {
	return append(graph.Dims{s.cfg.BatchSize}, s.cfg.InputShape...)
}

// State reports the current lifecycle state.
func (s *Session) State() State { return s.state }

// Total is the number of batches a fresh session yields; 0 on a cache hit.
func (s *Session) Total() int {
	if s.feeder == nil {
		return 0
	}
	return s.feeder.Batches()
}

// Files is the padded calibration file list; empty on a cache hit.
func (s *Session) Files() []string {
	if s.feeder == nil {
		return nil
	}
	return s.feeder.Files()
}

// OnProgress registers fn to be called after each batch reaches the device.
func (s *Session) OnProgress(fn ProgressFunc) { s.progress = fn }

// NextBatch fills the session's buffers with the next batch and returns the
// device address holding it. ok is false once there is nothing left to feed,
// and stays false on every later call.
func (s *Session) NextBatch() (addr uintptr, ok bool, err error) {
	if s.state != Feeding {
		return 0, false, nil
	}
	if s.host == nil || s.device == nil {
		return 0, false, accel.ErrFreed
	}
	more, err := s.feeder.Next(accel.Float32s(s.host.Bytes()))
	if err != nil {
		return 0, false, err
	}
	if !more {
		s.state = Exhausted
		return 0, false, nil
	}
	if err := s.dev.CopyToDevice(s.device, s.host); err != nil {
		return 0, false, fmt.Errorf("calibration batch %d: %w", s.feeder.Done(), err)
	}
	if s.feeder.Remaining() == 0 {
		s.state = Exhausted
	}
	if s.progress != nil {
		s.progress(s.feeder.Done(), s.feeder.Batches())
	}
	return s.device.Addr(), true, nil
}

// HostBatch is the host copy of the most recent batch. It is overwritten by
// the next NextBatch call.
func (s *Session) HostBatch() []float32 {
	if s.host == nil {
		return nil
	}
	return accel.Float32s(s.host.Bytes())
}

// ReadCache returns the cache contents, ok=false when no cache exists.
func (s *Session) ReadCache() ([]byte, bool, error) { return s.cache.Read() }

// WriteCache replaces the cache file with blob.
func (s *Session) WriteCache(blob []byte) error {
	if err := s.cache.Write(blob); err != nil {
		return err
	}
	s.log.Info("wrote calibration cache", "path", s.cache.Path, "bytes", humanize.IBytes(uint64(len(blob))))
	return nil
}

// CachePath is the configured cache file location.
func (s *Session) CachePath() string { return s.cache.Path }

// Close releases both buffers. The session reports exhaustion afterwards.
func (s *Session) Close() error {
	var errs []error
	if s.device != nil {
		errs = append(errs, s.device.Free())
		s.device = nil
	}
	if s.host != nil {
		errs = append(errs, s.host.Free())
		s.host = nil
	}
	if s.state == Feeding {
		s.state = Exhausted
	}
	return errors.Join(errs...)
}
