package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/logger"
)

const (
	Sim  = "sim"
	CUDA = "cuda"
	Auto = "auto"
)

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDA, Auto:
		return backend, nil
	case "host", "cpu":
		return Sim, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or cuda)", backend)
	}
}

// OpenDevice returns the accelerator device for a backend name. Auto picks
// CUDA when this build and the machine support it, and the host-memory
// device otherwise.
func OpenDevice(name string, ordinal int, log logger.Logger) (accel.Device, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case Sim:
		return accel.NewHostDevice(log), nil
	case CUDA:
		return newCUDA(ordinal, log)
	default:
		if Has(CUDA) {
			dev, err := newCUDA(ordinal, log)
			if err == nil {
				return dev, nil
			}
			log.Warn("cuda unavailable, falling back to host device", "error", err)
		}
		return accel.NewHostDevice(log), nil
	}
}
