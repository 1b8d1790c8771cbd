//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix)

package fileio

// AllocPages returns zeroed memory of n bytes. Without mmap the memory comes
// from the heap and is page sized but not necessarily page aligned.
func AllocPages(n int) ([]byte, error) {
	return make([]byte, n, roundPages(n)), nil
}

// FreePages releases memory obtained from AllocPages.
func FreePages(b []byte) error {
	return nil
}
