//go:build cuda

package backend

import (
	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/accel/cuda"
	"github.com/samcharles93/engineprep/internal/logger"
)

func newCUDA(ordinal int, log logger.Logger) (accel.Device, error) {
	return cuda.New(ordinal, log)
}
