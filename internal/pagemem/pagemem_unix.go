//go:build unix

package pagemem

import (
	"errors"

	"golang.org/x/sys/unix"
)

// naturalAlign is the alignment anonymous mappings already guarantee.
func naturalAlign() int {
	return unix.Getpagesize()
}

func acquire(n int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func release(raw []byte) error {
	err := unix.Munmap(raw)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
