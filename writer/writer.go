// Package writer implements the concurrent buffered trace log writer.
//
// Appenders share a latch over the current buffer and reserve space in it
// with a compare-and-swap on its fill offset, so the common path takes no
// lock. Only the appender that fills or seals a buffer takes the latch
// exclusively to rotate it: a fresh slot is published first and the old
// buffer is written asynchronously at the next file offset.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/backoff/v2"
	"golang.org/x/sync/semaphore"

	"github.com/alpacahq/tracelog/fileio"
	"github.com/alpacahq/tracelog/header"
	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/metrics"
	"github.com/alpacahq/tracelog/record"
	"github.com/alpacahq/tracelog/utils/log"
)

const (
	DefaultBuffers    = 8
	DefaultRetryLimit = 64
)

var (
	// ErrClosed is returned by operations on a closed writer.
	ErrClosed = errors.New("trace log writer closed")
	// ErrContention is returned when an append could not find room in a
	// buffer within the retry limit.
	ErrContention = errors.New("trace log buffer contention")
	// ErrOutOfBuffers is returned when no write buffer could be obtained.
	ErrOutOfBuffers = errors.New("out of write buffers")
)

// TickSource supplies the tick of records appended without one.
type TickSource func() record.Tick

var processStart = time.Now()

// DefaultTickSource counts milliseconds since the process started.
func DefaultTickSource() record.Tick {
	return record.Tick(time.Since(processStart).Milliseconds())
}

// Config configures a Writer.
type Config struct {
	logfile.Config
	// Buffers is the number of write buffers, DefaultBuffers when zero.
	Buffers int
	// RetryLimit bounds the back-offs of one append, DefaultRetryLimit when zero.
	RetryLimit int
	// Tick defaults to DefaultTickSource.
	Tick TickSource
}

// Stats are the writer's activity counters.
type Stats struct {
	Appends        uint64
	Retries        uint64
	Rotations      uint64
	WriteFailures  uint64
	Outstanding    int64
	MaxOutstanding int64
	NextOffset     int64
}

// Writer appends records to a trace log file. All methods are safe for
// concurrent use.
type Writer struct {
	lf         *logfile.LogFile
	file       *fileio.File
	table      *record.Table
	tick       TickSource
	bufferSize int
	buffers    int
	policy     backoff.Policy

	latch latch
	sem   *semaphore.Weighted
	pool  *slotPool
	// cur is read under the shared latch and replaced under the exclusive one
	cur *slot

	next   int64
	closed int32

	appends   uint64
	retries   uint64
	rotations uint64
}

// Open creates or reopens the trace log described by cfg.
func Open(cfg Config) (*Writer, error) {
	if cfg.Buffers == 0 {
		cfg.Buffers = DefaultBuffers
	}
	if cfg.Buffers < 0 {
		return nil, fmt.Errorf("%d buffers: %w", cfg.Buffers, record.ErrInvalidArgument)
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.Tick == nil {
		cfg.Tick = DefaultTickSource
	}

	lf, err := logfile.Create(cfg.Config)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		lf:         lf,
		file:       lf.File(),
		table:      cfg.Schema.Table,
		tick:       cfg.Tick,
		bufferSize: lf.BufferSize(),
		buffers:    cfg.Buffers,
		policy: backoff.Exponential(
			backoff.WithMinInterval(20*time.Microsecond),
			backoff.WithMaxInterval(5*time.Millisecond),
			backoff.WithJitterFactor(0.1),
			backoff.WithMaxRetries(cfg.RetryLimit),
		),
		sem:  semaphore.NewWeighted(int64(cfg.Buffers)),
		pool: newSlotPool(cfg.Buffers, lf.BufferSize()),
		next: lf.ResumeOffset(),
	}
	return w, nil
}

type appendResult int

const (
	appended appendResult = iota
	progressed
	blocked
	failed
)

// Append adds a record stamped with the current tick.
func (w *Writer) Append(id record.ID, payload []byte) error {
	return w.AppendAt(id, w.tick(), payload)
}

// AppendAt adds a record with an explicit tick. The payload is copied before
// AppendAt returns. Write errors of the buffer holding the record are only
// reflected in the write failure count.
func (w *Writer) AppendAt(id record.ID, tick record.Tick, payload []byte) error {
	if atomic.LoadInt32(&w.closed) != 0 {
		return ErrClosed
	}
	desc := w.table.Lookup(id)
	if err := record.Validate(id, payload, desc); err != nil {
		return err
	}
	// a raw tick is the largest encoding the record can take
	if worst := record.EncodedSize(id, len(payload), desc, tick+1, tick); worst > w.bufferSize-tickBaseSize {
		return fmt.Errorf("record id %d of %d bytes does not fit a %d byte buffer: %w",
			id, worst, w.bufferSize, record.ErrInvalidArgument)
	}

	var ctl backoff.Controller
	for {
		res, err := w.tryAppend(id, tick, payload, desc)
		switch res {
		case appended:
			atomic.AddUint64(&w.appends, 1)
			metrics.AppendsTotal.Inc()
			return nil
		case failed:
			return err
		case progressed:
			continue
		}

		if ctl == nil {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ctl = w.policy.Start(ctx)
		}
		if !backoff.Continue(ctl) {
			return fmt.Errorf("append record id %d: %w", id, ErrContention)
		}
		atomic.AddUint64(&w.retries, 1)
		metrics.AppendRetriesTotal.Inc()
	}
}

func (w *Writer) tryAppend(id record.ID, tick record.Tick, payload []byte, desc record.Descriptor) (appendResult, error) {
	h := w.latch.shared()
	s := w.cur
	if s == nil {
		h.upgrade()
		err := w.activateLocked()
		h.release()
		if err != nil {
			return failed, err
		}
		return progressed, nil
	}

	gen := s.gen
	size := int64(record.EncodedSize(id, len(payload), desc, s.base, tick))
	bs := int64(w.bufferSize)
	for {
		off := atomic.LoadInt64(&s.fill)
		if off >= bs {
			// sealed, its rotation is under way
			h.release()
			return blocked, nil
		}
		if off+size > bs {
			if !atomic.CompareAndSwapInt64(&s.fill, off, bs) {
				continue
			}
			h.upgrade()
			err := w.rotateLocked(s, gen, false)
			h.release()
			if err != nil {
				return failed, err
			}
			return progressed, nil
		}
		if !atomic.CompareAndSwapInt64(&s.fill, off, off+size) {
			continue
		}

		// the reserved range is ours alone, and Validate has already passed
		_, _ = record.Encode(s.buf[off:off+size], id, payload, desc, s.base, tick)

		if off+size == bs {
			h.upgrade()
			if err := w.rotateLocked(s, gen, false); err != nil {
				log.Error("rotating trace log buffer: %v", err)
			}
		}
		h.release()
		return appended, nil
	}
}

// activateLocked publishes a buffer when none is current. The exclusive latch
// must be held.
func (w *Writer) activateLocked() error {
	if atomic.LoadInt32(&w.closed) != 0 {
		return ErrClosed
	}
	if w.cur != nil {
		return nil
	}
	if err := w.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	return w.publishLocked()
}

// publishLocked makes a fresh slot current. The caller holds a permit, which
// is handed back if no slot can be prepared.
func (w *Writer) publishLocked() error {
	s, err := w.pool.acquire(w.tick())
	if err != nil {
		w.sem.Release(1)
		return err
	}
	w.cur = s
	return nil
}

// rotateLocked retires s, the buffer current at generation gen. Unless
// forced, a successor is published before the old buffer's write is issued.
func (w *Writer) rotateLocked(s *slot, gen uint64, force bool) error {
	if w.cur != s || s.gen != gen {
		return nil
	}
	w.cur = nil
	if force || atomic.LoadInt32(&w.closed) != 0 {
		w.issueLocked(s)
		return nil
	}
	if w.sem.TryAcquire(1) {
		err := w.publishLocked()
		w.issueLocked(s)
		return err
	}
	// every other slot is in flight, s must go out before one comes back
	w.issueLocked(s)
	return w.activateLocked()
}

func (w *Writer) issueLocked(s *slot) {
	bs := int64(w.bufferSize)
	atomic.StoreInt64(&s.fill, bs)
	s.offset = atomic.LoadInt64(&w.next)
	atomic.StoreInt64(&w.next, s.offset+bs)
	s.transition(SlotInUse, SlotFlushed)

	atomic.AddUint64(&w.rotations, 1)
	metrics.RotationsTotal.Inc()
	metrics.OutstandingWrites.Inc()

	if err := w.file.WriteAsync(s.buf, s.offset, func(err error) { w.complete(s, err) }); err != nil {
		w.complete(s, err)
		return
	}
	w.file.Issue()
}

// complete runs on the I/O engine once a buffer write finishes.
func (w *Writer) complete(s *slot, err error) {
	metrics.OutstandingWrites.Dec()
	if err != nil {
		w.lf.AddWriteFailure()
		metrics.WriteFailuresTotal.Inc()
		log.Error("trace log buffer write at offset %d failed: %v", s.offset, err)
	}
	s.transition(SlotFlushed, SlotDone)
	w.sem.Release(1)
}

// Flush writes out the current buffer if it holds any record. A forced flush
// also waits for every outstanding write, syncs the file and persists the
// header.
func (w *Writer) Flush(force bool) error {
	if atomic.LoadInt32(&w.closed) != 0 {
		return ErrClosed
	}
	h := w.latch.exclusive()
	defer h.release()
	return w.flushLocked(force)
}

func (w *Writer) flushLocked(force bool) error {
	if s := w.cur; s != nil {
		if atomic.LoadInt64(&s.fill) > tickBaseSize {
			_ = w.rotateLocked(s, s.gen, true)
		} else if force {
			w.cur = nil
			w.pool.release(s)
			w.sem.Release(1)
		}
	}
	if !force {
		return nil
	}

	if err := w.sem.Acquire(context.Background(), int64(w.buffers)); err != nil {
		return err
	}
	defer w.sem.Release(int64(w.buffers))

	syncErr := w.file.Sync()
	if syncErr != nil {
		w.lf.AddWriteFailure()
	}
	maxIOs := uint32(w.file.MaxOutstanding())
	used := uint32(w.pool.allocated())
	next := atomic.LoadInt64(&w.next)
	err := w.lf.Update(func(h *header.Header) {
		h.LastKnownBufferOffset = uint64(next)
		if h.MaxWriteIOs < maxIOs {
			h.MaxWriteIOs = maxIOs
		}
		if h.MaxWriteBuffers < used {
			h.MaxWriteBuffers = used
		}
	})
	if syncErr != nil {
		return syncErr
	}
	return err
}

// Close flushes everything, marks the file Clean and closes it. Appends
// racing with Close either make it into the file or fail with ErrClosed.
func (w *Writer) Close() error {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return ErrClosed
	}
	h := w.latch.exclusive()
	defer h.release()

	err := w.flushLocked(true)
	w.pool.free()
	if cerr := w.lf.Close(); err == nil {
		err = cerr
	}
	return err
}

// SetPrivate stores caller metadata in the private header region.
func (w *Writer) SetPrivate(meta []byte) error {
	if atomic.LoadInt32(&w.closed) != 0 {
		return ErrClosed
	}
	return w.lf.SetPrivate(meta)
}

// PostProcess stores meta in the post-processed header region.
func (w *Writer) PostProcess(meta []byte) error {
	if atomic.LoadInt32(&w.closed) != 0 {
		return ErrClosed
	}
	return w.lf.PostProcess(meta)
}

// Header returns a snapshot of the file header, with the write offset and
// failure count as of now.
func (w *Writer) Header() header.Header {
	h := w.lf.Header()
	h.LastKnownBufferOffset = uint64(atomic.LoadInt64(&w.next))
	return h
}

// Stats returns the writer's counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Appends:        atomic.LoadUint64(&w.appends),
		Retries:        atomic.LoadUint64(&w.retries),
		Rotations:      atomic.LoadUint64(&w.rotations),
		WriteFailures:  w.lf.WriteFailures(),
		Outstanding:    w.file.Outstanding(),
		MaxOutstanding: w.file.MaxOutstanding(),
		NextOffset:     atomic.LoadInt64(&w.next),
	}
}
