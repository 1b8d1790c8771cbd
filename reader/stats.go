package reader

import (
	"fmt"
	"io"

	"code.cloudfoundry.org/bytefmt"
)

// Stats describe how well the writer packed the buffers read so far.
type Stats struct {
	ReadIOs uint64
	Records uint64

	FullBuffers       uint64
	PartialBuffers    uint64
	PartialEmptyBytes uint64
	// BlankBuffers held no record at all
	BlankBuffers    uint64
	BlankEmptyBytes uint64
	// TruncatedBuffers were cut short by the end of the file
	TruncatedBuffers uint64
}

// Stats returns the counters accumulated so far.
func (r *Reader) Stats() Stats { return r.stats }

// DumpStats writes the counters in human readable form.
func (r *Reader) DumpStats(w io.Writer) error {
	s := r.stats
	avg := 0.0
	if s.PartialBuffers > 0 {
		avg = float64(s.PartialEmptyBytes) / float64(s.PartialBuffers)
	}
	_, err := fmt.Fprintf(w, "\nTrace Log Stats: usage\n\n"+
		"    read IOs: %d\n"+
		"    records: %d\n"+
		"\nTrace Log Stats: buffers\n\n"+
		"    full buffers: %d\n"+
		"    partial buffers: %d\n"+
		"    partial empty: %s (%.2f avg / partial buffer)\n"+
		"    blank buffers: %d\n"+
		"    blank empty: %s\n"+
		"    truncated buffers: %d\n",
		s.ReadIOs, s.Records,
		s.FullBuffers, s.PartialBuffers,
		bytefmt.ByteSize(s.PartialEmptyBytes), avg,
		s.BlankBuffers, bytefmt.ByteSize(s.BlankEmptyBytes),
		s.TruncatedBuffers)
	return err
}
