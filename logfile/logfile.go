// Package logfile manages the lifecycle of a trace log file on disk: the
// create and reopen dispositions, the persisted header and its transitions
// between the Created, Dirty, Clean and PostProcessed states.
package logfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/tracelog/fileio"
	"github.com/alpacahq/tracelog/header"
	"github.com/alpacahq/tracelog/record"
	"github.com/alpacahq/tracelog/utils/log"
)

// ErrNotClean is returned when post-processing a file that is still open for
// writing or was never closed.
var ErrNotClean = errors.New("log file was not cleanly closed")

// ErrPostProcessed is returned when opening a post-processed file for
// writing. Such files are read-only.
var ErrPostProcessed = fmt.Errorf("post-processed log is read-only: %w", record.ErrLogCorrupted)

// MinBufferSize is the smallest buffer able to hold a tick base and a
// record with a short payload.
const MinBufferSize = 16

// Config describes the file a writer opens.
type Config struct {
	Path       string
	BufferSize int
	Overwrite  bool
	Schema     record.Schema
	// Now defaults to time.Now.
	Now func() time.Time
}

// LogFile is a trace log opened for writing. The header image is only
// mutated under mu; the write failure count is kept apart so that I/O
// completions can bump it without the lock.
type LogFile struct {
	mu         sync.Mutex
	file       *fileio.File
	hdr        header.Header
	bufferSize int
	resume     int64
	now        func() time.Time

	writeFailures uint64
}

// ReadHeader reads and decodes the header at the start of f.
func ReadHeader(f *fileio.File) (header.Header, error) {
	img := make([]byte, header.Size)
	n, err := f.ReadAt(img, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return header.Header{}, fmt.Errorf("read header of %s: %w", f.Path(), err)
	}
	return header.Unmarshal(img[:n])
}

// AlignUp rounds off up to the next buffer boundary of a file whose buffers
// of bufferSize bytes start right after the header.
func AlignUp(off int64, bufferSize int) int64 {
	if off <= header.Size {
		return header.Size
	}
	bs := int64(bufferSize)
	return header.Size + (off-header.Size+bs-1)/bs*bs
}

// Create opens cfg.Path for writing. A missing, empty or overwritten file is
// initialized from scratch; an existing one is validated and reopened.
func Create(cfg Config) (*LogFile, error) {
	if cfg.BufferSize < MinBufferSize || cfg.BufferSize%8 != 0 {
		return nil, fmt.Errorf("buffer size %d: %w", cfg.BufferSize, header.ErrInvalidBufferSize)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	f, existed, err := fileio.Create(cfg.Path, cfg.Overwrite)
	if err != nil {
		return nil, err
	}
	l := &LogFile{file: f, bufferSize: cfg.BufferSize, now: now}

	if existed {
		size, err := f.Size()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		existed = size > 0
	}

	if existed {
		err = l.reopen(cfg.Schema)
	} else {
		err = l.initialize(cfg.Schema)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *LogFile) initialize(schema record.Schema) error {
	l.hdr = header.New(schema, uint32(l.bufferSize), l.now())
	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.file.SetSize(header.Size); err != nil {
		return err
	}
	l.hdr.State = header.Dirty
	l.hdr.LastOpen = l.hdr.FirstOpen
	l.resume = header.Size
	log.Info("created trace log %s (buffer size %d)", l.file.Path(), l.bufferSize)
	return l.flushLocked()
}

func (l *LogFile) reopen(schema record.Schema) error {
	hdr, err := ReadHeader(l.file)
	if err != nil {
		return err
	}
	if err := header.CheckVersions(hdr, schema); err != nil {
		return err
	}
	if int(hdr.BufferSize) != l.bufferSize {
		return fmt.Errorf("file written with %d byte buffers, opened with %d: %w",
			hdr.BufferSize, l.bufferSize, header.ErrInvalidBufferSize)
	}
	last := int64(hdr.LastKnownBufferOffset)
	if last < header.Size || (last-header.Size)%int64(l.bufferSize) != 0 {
		return fmt.Errorf("last known buffer offset %d: %w", last, record.ErrLogCorrupted)
	}

	switch hdr.State {
	case header.Clean:
		hdr.Reopens++
		l.resume = last
	case header.Dirty:
		hdr.Recoveries++
		size, err := l.file.Size()
		if err != nil {
			return err
		}
		l.resume = last
		if aligned := AlignUp(size, l.bufferSize); aligned > l.resume {
			l.resume = aligned
		}
		log.Warn("recovering trace log %s left dirty, resuming at offset %d", l.file.Path(), l.resume)
	case header.PostProcessed:
		return fmt.Errorf("reopen of %s: %w", l.file.Path(), ErrPostProcessed)
	default:
		return fmt.Errorf("reopen of log in state %s: %w", hdr.State, record.ErrLogCorrupted)
	}

	now := l.now()
	hdr.State = header.Dirty
	hdr.LastOpen = now
	hdr.LastKnownBufferOffset = uint64(l.resume)
	l.hdr = hdr
	l.writeFailures = hdr.WriteFailures
	log.Info("reopened trace log %s (reopens %d, recoveries %d)", l.file.Path(), hdr.Reopens, hdr.Recoveries)
	return l.flushLocked()
}

// flushLocked writes the header image synchronously. Failures are counted
// and returned; the in-memory image stays authoritative.
func (l *LogFile) flushLocked() error {
	l.hdr.WriteFailures = atomic.LoadUint64(&l.writeFailures)
	img := l.hdr.Marshal()
	err := l.file.WriteAt(img, 0)
	if err == nil {
		err = l.file.Sync()
	}
	if err != nil {
		atomic.AddUint64(&l.writeFailures, 1)
		log.Error("failed to flush trace log header of %s: %v", l.file.Path(), err)
		return err
	}
	return nil
}

// File returns the underlying file.
func (l *LogFile) File() *fileio.File { return l.file }

// BufferSize returns the size of the write buffers of this file.
func (l *LogFile) BufferSize() int { return l.bufferSize }

// ResumeOffset returns the offset the first buffer of this session goes to.
func (l *LogFile) ResumeOffset() int64 { return l.resume }

// Header returns a copy of the current header image.
func (l *LogFile) Header() header.Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.hdr
	h.WriteFailures = atomic.LoadUint64(&l.writeFailures)
	return h
}

// AddWriteFailure records a failed buffer write. Safe without the lock.
func (l *LogFile) AddWriteFailure() {
	atomic.AddUint64(&l.writeFailures, 1)
}

// WriteFailures returns the number of failed writes over the life of the file.
func (l *LogFile) WriteFailures() uint64 {
	return atomic.LoadUint64(&l.writeFailures)
}

// Update applies fn to the header image and flushes it.
func (l *LogFile) Update(fn func(h *header.Header)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.hdr)
	return l.flushLocked()
}

// SetPrivate stores caller metadata of up to header.RegionSize bytes in the
// private header region.
func (l *LogFile) SetPrivate(meta []byte) error {
	if len(meta) > header.RegionSize {
		return fmt.Errorf("private header of %d bytes exceeds %d: %w", len(meta), header.RegionSize, record.ErrInvalidArgument)
	}
	return l.Update(func(h *header.Header) {
		h.Private = [header.RegionSize]byte{}
		copy(h.Private[:], meta)
	})
}

// PostProcess stores meta in the post-processed header region and moves the
// file to the PostProcessed state.
func (l *LogFile) PostProcess(meta []byte) error {
	if len(meta) > header.RegionSize {
		return fmt.Errorf("post-processed header of %d bytes exceeds %d: %w", len(meta), header.RegionSize, record.ErrInvalidArgument)
	}
	return l.Update(func(h *header.Header) {
		setPostProcessed(h, meta, l.now())
	})
}

func setPostProcessed(h *header.Header, meta []byte, now time.Time) {
	h.PostProcessedMeta = [header.RegionSize]byte{}
	copy(h.PostProcessedMeta[:], meta)
	h.PostProcessed = now
	h.State = header.PostProcessed
}

// Close marks the file Clean, unless it was post-processed, flushes the
// header and closes the file. The caller must have drained all buffer writes.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hdr.State != header.PostProcessed {
		l.hdr.State = header.Clean
	}
	l.hdr.LastClose = l.now()
	flushErr := l.flushLocked()
	if err := l.file.Close(); err != nil {
		return err
	}
	log.Info("closed trace log %s", l.file.Path())
	return flushErr
}

// PostProcess attaches meta to the closed trace log at path.
func PostProcess(path string, schema record.Schema, meta []byte) error {
	if len(meta) > header.RegionSize {
		return fmt.Errorf("post-processed header of %d bytes exceeds %d: %w", len(meta), header.RegionSize, record.ErrInvalidArgument)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("post-process: %w", err)
	}
	f, _, err := fileio.Create(path, false)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := ReadHeader(f)
	if err != nil {
		return err
	}
	if err := header.CheckVersions(hdr, schema); err != nil {
		return err
	}
	if hdr.State != header.Clean && hdr.State != header.PostProcessed {
		return fmt.Errorf("post-process %s in state %s: %w", path, hdr.State, ErrNotClean)
	}
	setPostProcessed(&hdr, meta, time.Now())
	if err := f.WriteAt(hdr.Marshal(), 0); err != nil {
		return err
	}
	return f.Sync()
}
