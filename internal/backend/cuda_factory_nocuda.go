//go:build !cuda

package backend

import (
	"errors"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/logger"
)

var errCUDAUnavailable = errors.New("cuda backend is not available in this build (rebuild with -tags cuda)")

func newCUDA(int, logger.Logger) (accel.Device, error) {
	return nil, errCUDAUnavailable
}
