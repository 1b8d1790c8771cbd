// Package fileio is the file provider used by the trace log: positioned
// reads, synchronous and asynchronous positioned writes, and page granular
// buffer memory.
package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/eapache/channels"

	"github.com/alpacahq/tracelog/utils/log"
	"github.com/alpacahq/tracelog/utils/pool"
)

// DefaultWriters is the number of concurrent positioned writes per file.
const DefaultWriters = 4

// ErrClosed is returned for operations on a closed File.
var ErrClosed = errors.New("file already closed")

type writeRequest struct {
	p    []byte
	off  int64
	done func(error)
}

// File wraps an *os.File with an asynchronous write engine. Writes queued
// with WriteAsync are handed to the engine by Issue and complete on a pool
// goroutine, which invokes their callback.
type File struct {
	path string
	fp   *os.File

	mu      sync.Mutex
	pending []writeRequest
	closed  bool

	queue   *channels.InfiniteChannel
	pool    *pool.Pool
	stopped chan struct{}

	outstanding    int64
	maxOutstanding int64
}

// Create opens path for writing, creating it when missing. An existing file
// is truncated when overwrite is set and reused as is otherwise; existed
// reports which case applied.
func Create(path string, overwrite bool) (f *File, existed bool, err error) {
	flags := os.O_RDWR | os.O_CREATE
	if _, err := os.Stat(path); err == nil {
		existed = !overwrite
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if overwrite {
		flags |= os.O_TRUNC
	}
	fp, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open %s for writing: %w", path, err)
	}
	return newFile(path, fp), existed, nil
}

// Open opens an existing file read-only.
func Open(path string) (*File, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newFile(path, fp), nil
}

func newFile(path string, fp *os.File) *File {
	f := &File{
		path:    path,
		fp:      fp,
		queue:   channels.NewInfiniteChannel(),
		stopped: make(chan struct{}),
	}
	f.pool = pool.NewPool(DefaultWriters, f.write)
	go func() {
		defer close(f.stopped)
		f.pool.Work(f.queue.Out())
	}()
	return f
}

func (f *File) write(v interface{}) {
	req, ok := v.(writeRequest)
	if !ok {
		log.Error("unexpected write request %v", v)
		return
	}
	_, err := f.fp.WriteAt(req.p, req.off)
	if err != nil {
		err = fmt.Errorf("write %d bytes at %d to %s: %w", len(req.p), req.off, f.path, err)
	}
	atomic.AddInt64(&f.outstanding, -1)
	if req.done != nil {
		req.done(err)
	}
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// ReadAt reads len(p) bytes at off. A short read at the end of the file
// returns io.EOF along with the bytes read.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.fp.ReadAt(p, off)
}

// WriteAt writes p at off synchronously.
func (f *File) WriteAt(p []byte, off int64) error {
	if _, err := f.fp.WriteAt(p, off); err != nil {
		return fmt.Errorf("write %d bytes at %d to %s: %w", len(p), off, f.path, err)
	}
	return nil
}

// WriteAsync queues a write of p at off. The write does not start before
// the next Issue. done is called exactly once with the result; p must not
// be modified until then.
func (f *File) WriteAsync(p []byte, off int64, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.pending = append(f.pending, writeRequest{p: p, off: off, done: done})
	return nil
}

// Issue starts every write queued since the previous Issue.
func (f *File) Issue() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueLocked()
}

func (f *File) issueLocked() {
	for _, req := range f.pending {
		n := atomic.AddInt64(&f.outstanding, 1)
		for {
			peak := atomic.LoadInt64(&f.maxOutstanding)
			if n <= peak || atomic.CompareAndSwapInt64(&f.maxOutstanding, peak, n) {
				break
			}
		}
		f.queue.In() <- req
	}
	f.pending = f.pending[:0]
}

// Outstanding returns the number of issued writes that have not completed.
func (f *File) Outstanding() int64 { return atomic.LoadInt64(&f.outstanding) }

// MaxOutstanding returns the high water mark of Outstanding.
func (f *File) MaxOutstanding() int64 { return atomic.LoadInt64(&f.maxOutstanding) }

// Size returns the current size of the file.
func (f *File) Size() (int64, error) {
	fi, err := f.fp.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.path, err)
	}
	return fi.Size(), nil
}

// SetSize truncates or extends the file to size bytes.
func (f *File) SetSize(size int64) error {
	if err := f.fp.Truncate(size); err != nil {
		return fmt.Errorf("set size of %s to %d: %w", f.path, size, err)
	}
	return nil
}

// Sync flushes written data to stable storage.
func (f *File) Sync() error {
	return f.fp.Sync()
}

// Close issues anything still pending, waits for every write to complete
// and closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.issueLocked()
	f.closed = true
	f.mu.Unlock()

	f.queue.Close()
	<-f.stopped
	f.pool.Wait()
	return f.fp.Close()
}

var _ io.ReaderAt = (*File)(nil)
