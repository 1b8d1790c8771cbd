package writer

import (
	"fmt"
	"sync"
)

type latchMode int32

const (
	latchNone latchMode = iota
	latchShared
	latchExclusive
)

func (m latchMode) String() string {
	switch m {
	case latchNone:
		return "none"
	case latchShared:
		return "shared"
	case latchExclusive:
		return "exclusive"
	default:
		return "UNKNOWN!"
	}
}

// latch guards the current buffer. Appenders hold it shared while they
// reserve and copy; rotation holds it exclusive.
type latch struct {
	mu sync.RWMutex
}

// latchHold is one caller's hold on a latch. Mode changes go through it so
// that an invalid transition is caught where it happens.
type latchHold struct {
	l    *latch
	mode latchMode
}

func (l *latch) shared() *latchHold {
	l.mu.RLock()
	return &latchHold{l: l, mode: latchShared}
}

func (l *latch) exclusive() *latchHold {
	l.mu.Lock()
	return &latchHold{l: l, mode: latchExclusive}
}

func (h *latchHold) must(m latchMode, op string) {
	if h.mode != m {
		panic(fmt.Sprintf("latch %s while holding %s", op, h.mode))
	}
}

// upgrade turns a shared hold into an exclusive one. The latch is released
// in between, so callers must re-check whatever they read while shared.
func (h *latchHold) upgrade() {
	h.must(latchShared, "upgrade")
	h.l.mu.RUnlock()
	h.l.mu.Lock()
	h.mode = latchExclusive
}

// downgrade turns an exclusive hold into a shared one, with the same gap.
func (h *latchHold) downgrade() {
	h.must(latchExclusive, "downgrade")
	h.l.mu.Unlock()
	h.l.mu.RLock()
	h.mode = latchShared
}

func (h *latchHold) release() {
	switch h.mode {
	case latchShared:
		h.l.mu.RUnlock()
	case latchExclusive:
		h.l.mu.Unlock()
	default:
		panic("latch released twice")
	}
	h.mode = latchNone
}
