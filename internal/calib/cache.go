package calib

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultCachePath is where the calibration cache lives when none is set.
const DefaultCachePath = "calibration.cache"

// Cache reads and replaces the calibration cache file. The bytes are opaque
// here; their format belongs to the quantizer.
type Cache struct {
	Path string
}

// Exists reports whether the cache file is present.
func (c Cache) Exists() bool {
	st, err := os.Stat(c.Path)
	return err == nil && !st.IsDir()
}

// Read returns the cache contents. A missing file is reported with ok=false
// and no error.
func (c Cache) Read() (blob []byte, ok bool, err error) {
	blob, err = os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read calibration cache: %w", err)
	}
	return blob, true, nil
}

// Write replaces the cache file with blob.
func (c Cache) Write(blob []byte) error {
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write calibration cache: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return fmt.Errorf("write calibration cache: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write calibration cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write calibration cache: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("write calibration cache: %w", err)
	}
	if err := os.Rename(tmpName, c.Path); err != nil {
		return fmt.Errorf("write calibration cache: %w", err)
	}
	return nil
}
