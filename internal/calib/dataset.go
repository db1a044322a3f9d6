package calib

import (
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/engineprep/internal/logger"
)

// DefaultExtensions are the image types picked up from a dataset directory.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// DefaultSampleSeed keeps capped samples identical across runs.
const DefaultSampleSeed = 42

// Enumerate walks dir recursively and returns regular files whose extension
// matches one of exts, compared case-insensitively, in lexical order.
// Unreadable entries below dir are logged and skipped; only a failure to
// read dir itself is an error.
func Enumerate(dir string, exts []string, log logger.Logger) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("calibration data path is not a directory: %s", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			log.Warn("skipping unreadable calibration path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s contains no %s files", ErrEmptyDataset, dir, strings.Join(exts, "/"))
	}
	return files, nil
}

// Sample returns a seeded random subset of maxSize files when files holds
// more than that. maxSize <= 0 disables the cap.
func Sample(files []string, maxSize int, seed uint64) []string {
	if maxSize <= 0 || len(files) <= maxSize {
		return files
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(len(files))
	out := make([]string, maxSize)
	for i := range out {
		out[i] = files[perm[i]]
	}
	return out
}

// Pad extends files to a multiple of batchSize by repeating the first
// entries of the original list, wrapping when the list is shorter than the
// gap. The input slice is never modified or truncated.
func Pad(files []string, batchSize int) []string {
	out := make([]string, len(files), len(files)+batchSize)
	copy(out, files)
	n := len(files)
	if n == 0 || batchSize <= 0 || n%batchSize == 0 {
		return out
	}
	need := batchSize - n%batchSize
	for i := 0; i < need; i++ {
		out = append(out, files[i%n])
	}
	return out
}
