// Package reader replays a trace log front to back.
//
// The file is read in chunks that are a multiple of the writer's buffer
// size, with the following chunks of the ring read ahead in the background.
// A zero byte where a record header is expected ends the records of the
// current buffer and decoding resumes at the next buffer boundary. The end
// of the file is reached only where a read comes back short.
package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/alpacahq/tracelog/fileio"
	"github.com/alpacahq/tracelog/header"
	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/metrics"
	"github.com/alpacahq/tracelog/record"
)

const (
	DefaultReadAhead = 1 << 20
	DefaultChunks    = 2

	tickBaseSize = 4
)

// Config configures a Reader.
type Config struct {
	Path   string
	Schema record.Schema
	// ReadAhead is the chunk size, rounded up to a multiple of the buffer
	// size. DefaultReadAhead when zero.
	ReadAhead int
	// Chunks is the size of the read-ahead ring, DefaultChunks when zero.
	Chunks int
}

// Bookmark locates a record: the file offset of its first byte and the tick
// base of its buffer.
type Bookmark struct {
	Offset   int64
	TickBase record.Tick
}

// Trace is a decoded record and where it was found.
type Trace struct {
	record.Record
	Bookmark Bookmark
}

type chunk struct {
	off    int64
	data   []byte
	n      int
	err    error
	ready  chan struct{}
	waited bool
}

// Reader is a forward-only cursor over a trace log. It is not safe for
// concurrent use.
type Reader struct {
	file       *fileio.File
	hdr        header.Header
	table      *record.Table
	bufferSize int64
	chunkSize  int64

	ring     []*chunk
	cur      int
	nextLoad int64

	bufStart int64
	pos      int64
	base     record.Tick
	inBuffer bool

	err   error
	stats Stats
}

// Open opens the trace log at cfg.Path for reading. The file must carry a
// version compatible with cfg.Schema.
func Open(cfg Config) (*Reader, error) {
	f, err := fileio.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *fileio.File, cfg Config) (*Reader, error) {
	hdr, err := logfile.ReadHeader(f)
	if err != nil {
		return nil, err
	}
	if err := header.CheckVersions(hdr, cfg.Schema); err != nil {
		return nil, err
	}
	if hdr.BufferSize < logfile.MinBufferSize {
		return nil, fmt.Errorf("buffer size %d in header: %w", hdr.BufferSize, record.ErrLogCorrupted)
	}

	bs := int64(hdr.BufferSize)
	readAhead := int64(cfg.ReadAhead)
	if readAhead <= 0 {
		readAhead = DefaultReadAhead
	}
	chunkSize := (readAhead + bs - 1) / bs * bs
	chunks := cfg.Chunks
	if chunks <= 0 {
		chunks = DefaultChunks
	}

	r := &Reader{
		file:       f,
		hdr:        hdr,
		table:      cfg.Schema.Table,
		bufferSize: bs,
		chunkSize:  chunkSize,
		ring:       make([]*chunk, chunks),
		nextLoad:   header.Size,
		bufStart:   header.Size,
	}
	for i := range r.ring {
		data, err := fileio.AllocPages(int(chunkSize))
		if err != nil {
			r.freeChunks()
			return nil, err
		}
		r.ring[i] = &chunk{data: data}
	}
	for _, c := range r.ring {
		r.load(c)
	}
	return r, nil
}

func (r *Reader) load(c *chunk) {
	c.off = r.nextLoad
	r.nextLoad += r.chunkSize
	c.n, c.err, c.waited = 0, nil, false
	c.ready = make(chan struct{})
	r.stats.ReadIOs++
	metrics.ReadIOsTotal.Inc()
	go func() {
		defer close(c.ready)
		c.n, c.err = r.file.ReadAt(c.data, c.off)
	}()
}

func (r *Reader) wait(c *chunk) error {
	if !c.waited {
		<-c.ready
		c.waited = true
	}
	if c.err != nil && !errors.Is(c.err, io.EOF) {
		return fmt.Errorf("read %d bytes at offset %d: %w", len(c.data), c.off, c.err)
	}
	return nil
}

// chunkFor returns the chunk holding off, moving the ring forward as needed.
func (r *Reader) chunkFor(off int64) (*chunk, error) {
	for {
		c := r.ring[r.cur]
		if err := r.wait(c); err != nil {
			return nil, err
		}
		if off < c.off+r.chunkSize {
			if off >= c.off+int64(c.n) {
				return nil, record.ErrNotFound
			}
			return c, nil
		}
		if int64(c.n) < r.chunkSize {
			return nil, record.ErrNotFound
		}
		r.load(c)
		r.cur = (r.cur + 1) % len(r.ring)
	}
}

// Next returns the next record, or record.ErrNotFound once the log is
// exhausted. Any other error is final.
func (r *Reader) Next() (Trace, error) {
	if r.err != nil {
		return Trace{}, r.err
	}
	t, err := r.next()
	if err != nil {
		r.err = err
	}
	return t, err
}

func (r *Reader) next() (Trace, error) {
	for {
		c, err := r.chunkFor(r.bufStart)
		if err != nil {
			return Trace{}, err
		}
		bufEnd := r.bufStart + r.bufferSize
		end := min(bufEnd, c.off+int64(c.n))

		if !r.inBuffer {
			if r.bufStart+tickBaseSize > end {
				r.stats.TruncatedBuffers++
				return Trace{}, record.ErrNotFound
			}
			r.base = record.Tick(binary.LittleEndian.Uint32(c.data[r.bufStart-c.off:]))
			r.pos = r.bufStart + tickBaseSize
			r.inBuffer = true
		}
		if r.pos >= bufEnd {
			r.finishBuffer()
			continue
		}

		p := c.data[r.pos-c.off : end-c.off]
		rec, n, err := record.Decode(p, r.base, r.table)
		switch {
		case err == nil:
			t := Trace{Record: rec, Bookmark: Bookmark{Offset: r.pos, TickBase: r.base}}
			t.Payload = append([]byte(nil), rec.Payload...)
			r.pos += int64(n)
			r.stats.Records++
			metrics.RecordsReadTotal.Inc()
			return t, nil
		case errors.Is(err, record.ErrNotFound) && end == bufEnd:
			r.finishBuffer()
		case end < bufEnd:
			// the file ends inside this buffer, its tail never made it to disk
			r.stats.TruncatedBuffers++
			return Trace{}, record.ErrNotFound
		default:
			return Trace{}, fmt.Errorf("record at offset %d: %w", r.pos, err)
		}
	}
}

func (r *Reader) finishBuffer() {
	left := r.bufStart + r.bufferSize - r.pos
	switch {
	case left >= r.bufferSize-tickBaseSize:
		r.stats.BlankBuffers++
		r.stats.BlankEmptyBytes += uint64(r.bufferSize)
	case left == 0:
		r.stats.FullBuffers++
	default:
		r.stats.PartialBuffers++
		r.stats.PartialEmptyBytes += uint64(left)
	}
	r.bufStart += r.bufferSize
	r.inBuffer = false
}

// Records iterates over the remaining records. Iteration stops at the end
// of the log or after yielding an error.
func (r *Reader) Records() iter.Seq2[Trace, error] {
	return func(yield func(Trace, error) bool) {
		for {
			t, err := r.Next()
			if errors.Is(err, record.ErrNotFound) {
				return
			}
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// Header returns the header the file was opened with.
func (r *Reader) Header() header.Header { return r.hdr }

// DumpHeader writes the header in human readable form.
func (r *Reader) DumpHeader(w io.Writer) error { return header.Dump(w, r.hdr) }

// Name returns the registered name of a record id.
func (r *Reader) Name(id record.ID) string { return r.table.Name(id) }

// Close waits for outstanding read-ahead and closes the file.
func (r *Reader) Close() error {
	for _, c := range r.ring {
		if c != nil && c.ready != nil {
			<-c.ready
		}
	}
	r.freeChunks()
	return r.file.Close()
}

func (r *Reader) freeChunks() {
	for i, c := range r.ring {
		if c != nil {
			_ = fileio.FreePages(c.data)
			r.ring[i] = nil
		}
	}
}
