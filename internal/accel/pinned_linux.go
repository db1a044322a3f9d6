//go:build linux

package accel

import "golang.org/x/sys/unix"

// allocPinned maps anonymous memory and tries to lock it. A failed mlock
// (typically RLIMIT_MEMLOCK) still returns usable, unlocked memory.
func allocPinned(size int64) ([]byte, bool, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	if err := unix.Mlock(b); err != nil {
		return b, false, nil
	}
	return b, true, nil
}

func freePinned(b []byte, locked bool) error {
	if b == nil {
		return nil
	}
	if locked {
		_ = unix.Munlock(b)
	}
	return unix.Munmap(b)
}
