package fileio

import "os"

// PageSize is the allocation granularity of AllocPages.
var PageSize = os.Getpagesize()

func roundPages(n int) int {
	if r := n % PageSize; r != 0 {
		n += PageSize - r
	}
	return n
}
