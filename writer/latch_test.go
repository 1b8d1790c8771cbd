package writer

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/tracelog/logfile"
)

func TestLatchTransitions(t *testing.T) {
	t.Parallel()
	var l latch

	a := l.shared()
	b := l.shared()
	assert.Equal(t, latchShared, a.mode)

	upgraded := make(chan struct{})
	go func() {
		a.upgrade()
		close(upgraded)
	}()
	select {
	case <-upgraded:
		t.Fatal("upgrade must wait for the other shared holder")
	case <-time.After(20 * time.Millisecond):
	}
	b.release()
	<-upgraded
	assert.Equal(t, latchExclusive, a.mode)

	a.downgrade()
	assert.Equal(t, latchShared, a.mode)
	c := l.shared()
	c.release()
	a.release()
	assert.Equal(t, latchNone, a.mode)

	assert.Panics(t, func() { a.release() })
	assert.Panics(t, func() { a.upgrade() })
	e := l.exclusive()
	assert.Panics(t, func() { e.upgrade() })
	e.release()
}

func TestSlotStates(t *testing.T) {
	t.Parallel()
	p := newSlotPool(2, 64)
	defer p.free()

	s1, err := p.acquire(10)
	require.Nil(t, err)
	assert.Equal(t, SlotInUse, s1.load())
	assert.Equal(t, 0, s1.index)
	assert.Equal(t, int64(tickBaseSize), s1.fill)
	assert.Equal(t, []byte{10, 0, 0, 0}, s1.buf[:4])

	s2, err := p.acquire(11)
	require.Nil(t, err)
	assert.Equal(t, 1, s2.index)

	_, err = p.acquire(12)
	assert.ErrorIs(t, err, ErrOutOfBuffers)

	assert.True(t, s1.transition(SlotInUse, SlotFlushed))
	assert.False(t, s1.transition(SlotInUse, SlotDone))
	assert.True(t, s1.transition(SlotFlushed, SlotDone))
	s1.buf[20] = 0xFF
	gen := s1.gen

	again, err := p.acquire(13)
	require.Nil(t, err)
	assert.Same(t, s1, again)
	assert.Equal(t, gen+1, again.gen)
	assert.Equal(t, byte(0), again.buf[20])
	assert.Equal(t, 2, p.allocated())

	p.release(s2)
	assert.Equal(t, SlotAvailable, s2.load())
	assert.Equal(t, "Flushed", SlotFlushed.String())
}

func TestAppendContention(t *testing.T) {
	t.Parallel()
	w, err := Open(Config{
		Config: logfile.Config{
			Path:       filepath.Join(t.TempDir(), "trace.ftl"),
			BufferSize: 64,
		},
		Buffers:    2,
		RetryLimit: 2,
	})
	require.Nil(t, err)

	require.Nil(t, w.Append(1, []byte("x")))
	// a sealed buffer whose rotation never comes
	atomic.StoreInt64(&w.cur.fill, int64(w.bufferSize))
	assert.ErrorIs(t, w.Append(1, []byte("y")), ErrContention)
	assert.True(t, w.Stats().Retries >= 1)

	require.Nil(t, w.Close())
	assert.Equal(t, uint64(1), w.Stats().Appends)
}
