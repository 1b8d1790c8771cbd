package writer

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/alpacahq/tracelog/fileio"
	"github.com/alpacahq/tracelog/record"
)

// SlotState is the lifecycle of a write buffer slot.
type SlotState int32

const (
	SlotAvailable SlotState = iota
	SlotInUse
	SlotFlushed
	SlotDone
)

func (s SlotState) String() string {
	switch s {
	case SlotAvailable:
		return "Available"
	case SlotInUse:
		return "InUse"
	case SlotFlushed:
		return "Flushed"
	case SlotDone:
		return "Done"
	default:
		return "UNKNOWN!"
	}
}

// tickBaseSize is the tick base stored at the start of every buffer.
const tickBaseSize = 4

// slot is one fixed-size buffer of the pool. buf is allocated on first use
// and kept for the life of the writer.
type slot struct {
	index  int
	state  int32
	buf    []byte
	fill   int64
	base   record.Tick
	offset int64
	// gen changes every time the slot is handed out
	gen uint64
}

func (s *slot) load() SlotState {
	return SlotState(atomic.LoadInt32(&s.state))
}

func (s *slot) transition(from, to SlotState) bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to))
}

// slotPool is the arena of buffers. A permit of the writer's semaphore must
// be held before acquire is called; it guarantees a slot is reusable.
type slotPool struct {
	slots      []*slot
	bufferSize int
}

func newSlotPool(n, bufferSize int) *slotPool {
	p := &slotPool{slots: make([]*slot, n), bufferSize: bufferSize}
	for i := range p.slots {
		p.slots[i] = &slot{index: i}
	}
	return p
}

// acquire claims the lowest reusable slot and prepares it with base as its
// tick base.
func (p *slotPool) acquire(base record.Tick) (*slot, error) {
	for _, s := range p.slots {
		if !s.transition(SlotAvailable, SlotInUse) && !s.transition(SlotDone, SlotInUse) {
			continue
		}
		if s.buf == nil {
			buf, err := fileio.AllocPages(p.bufferSize)
			if err != nil {
				s.transition(SlotInUse, SlotAvailable)
				return nil, fmt.Errorf("allocate buffer %d: %v: %w", s.index, err, ErrOutOfBuffers)
			}
			s.buf = buf
		} else {
			clear(s.buf)
		}
		s.base = base
		binary.LittleEndian.PutUint32(s.buf, uint32(base))
		atomic.StoreInt64(&s.fill, tickBaseSize)
		s.offset = 0
		s.gen++
		return s, nil
	}
	return nil, ErrOutOfBuffers
}

// release returns an unused slot to the pool.
func (p *slotPool) release(s *slot) {
	s.transition(SlotInUse, SlotAvailable)
}

// allocated returns the number of slots that ever held a buffer.
func (p *slotPool) allocated() int {
	n := 0
	for _, s := range p.slots {
		if s.buf != nil {
			n++
		}
	}
	return n
}

func (p *slotPool) free() {
	for _, s := range p.slots {
		if s.buf != nil {
			_ = fileio.FreePages(s.buf)
			s.buf = nil
		}
		atomic.StoreInt32(&s.state, int32(SlotAvailable))
	}
}
