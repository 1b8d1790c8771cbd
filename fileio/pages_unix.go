//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix

package fileio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AllocPages returns zeroed, page aligned memory of at least n bytes, sliced
// to n. It must be released with FreePages.
func AllocPages(n int) ([]byte, error) {
	size := roundPages(n)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("map %d bytes: %w", size, err)
	}
	return b[:n], nil
}

// FreePages releases memory obtained from AllocPages.
func FreePages(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b[:cap(b)])
}
