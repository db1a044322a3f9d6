package calib

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports calibration settings that cannot work: no
	// cache and no dataset, an unknown preprocessing function, a
	// non-positive batch size.
	ErrConfiguration = errors.New("calibration configuration error")
	// ErrEmptyDataset reports a dataset directory without matching files.
	ErrEmptyDataset = errors.New("calibration dataset is empty")
)

type configError struct {
	msg string
}

func (e configError) Error() string {
	return e.msg
}

func (e configError) Unwrap() error {
	return ErrConfiguration
}

func newConfigError(format string, args ...any) error {
	return configError{msg: fmt.Sprintf(format, args...)}
}
