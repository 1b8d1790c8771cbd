package metrics

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/alpacahq/tracelog/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartDiskUsageMonitor samples the space allocated to the file at path at
// each interval and sets it as a metric, until ctx is done.
func StartDiskUsageMonitor(ctx context.Context, s Setter, path string, interval time.Duration) {
	s.Set(float64(diskUsage(path)))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Set(float64(diskUsage(path)))
		}
	}
}

func diskUsage(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		log.Error("get the disk usage of %s for monitoring: %v", path, err)
		return 0
	}
	// buffers of a recovered file can leave holes, so count allocated blocks
	// rather than trusting the size
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size()
	}
	return stat.Blocks * 512
}
