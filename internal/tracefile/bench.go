package tracefile

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alpacahq/tracelog/metrics"
	"github.com/alpacahq/tracelog/record"
	"github.com/alpacahq/tracelog/writer"
)

// DefaultBenchPayload is the payload size of variable sized bench records.
const DefaultBenchPayload = 16

// BenchOptions controls Bench.
type BenchOptions struct {
	Goroutines int
	Records    int
	// Entries are the record types cycled through by every producer. Ids
	// without a fixed size get DefaultBenchPayload bytes.
	Entries []record.Entry
}

// BenchResult summarizes a Bench run.
type BenchResult struct {
	Records int
	Elapsed time.Duration
	Stats   writer.Stats
}

func (r BenchResult) RecordsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Records) / r.Elapsed.Seconds()
}

// Bench appends opts.Records records from each of opts.Goroutines producers
// and flushes the log. Every payload starts with the producer index and its
// sequence number, both little-endian uint32, when the payload is big
// enough to hold them.
func Bench(ctx context.Context, w *writer.Writer, opts BenchOptions) (BenchResult, error) {
	if opts.Goroutines <= 0 || opts.Records < 0 {
		return BenchResult{}, fmt.Errorf("bench with %d goroutines and %d records: %w",
			opts.Goroutines, opts.Records, record.ErrInvalidArgument)
	}
	entries := opts.Entries
	if len(entries) == 0 {
		entries = []record.Entry{{ID: 1, Name: "bench"}}
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Goroutines; i++ {
		producer := uint32(i)
		g.Go(func() error {
			payloads := make([][]byte, len(entries))
			for j, e := range entries {
				size := DefaultBenchPayload
				if e.Descriptor.Fixed() {
					size = e.Descriptor.Size()
				}
				payloads[j] = make([]byte, size)
			}
			for seq := 0; seq < opts.Records; seq++ {
				if seq%1024 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				j := seq % len(entries)
				p := payloads[j]
				if len(p) >= 8 {
					binary.LittleEndian.PutUint32(p, producer)
					binary.LittleEndian.PutUint32(p[4:], uint32(seq))
				}
				t0 := time.Now()
				if err := w.Append(entries[j].ID, p); err != nil {
					return fmt.Errorf("producer %d record %d: %w", producer, seq, err)
				}
				metrics.AppendDuration.Observe(time.Since(t0).Seconds())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BenchResult{}, err
	}
	if err := w.Flush(true); err != nil {
		return BenchResult{}, err
	}
	return BenchResult{
		Records: opts.Goroutines * opts.Records,
		Elapsed: time.Since(start),
		Stats:   w.Stats(),
	}, nil
}
