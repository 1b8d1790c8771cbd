package record

import (
	"encoding/binary"
	"fmt"
)

func tickModeFor(base, tick Tick) TickMode {
	switch d := tick - base; {
	case d == 0:
		return TickMatch
	case d <= 0xFF:
		return TickDelta
	default:
		return TickRaw
	}
}

func tickSize(m TickMode) int {
	switch m {
	case TickDelta:
		return 1
	case TickRaw:
		return 4
	default:
		return 0
	}
}

func extensionSize(id ID) int {
	switch {
	case id <= ShortIDMax:
		return 0
	case id < 0x80:
		return 1
	default:
		return 2
	}
}

// Validate reports whether a record with id and payload can be encoded
// under desc.
func Validate(id ID, payload []byte, desc Descriptor) error {
	if id == 0 || id > MaxID {
		return fmt.Errorf("record id %d out of range [1, %d]: %w", id, MaxID, ErrInvalidArgument)
	}
	if desc.Fixed() {
		if len(payload) != desc.Size() {
			return fmt.Errorf("record id %d expects %d payload bytes, got %d: %w",
				id, desc.Size(), len(payload), ErrInvalidArgument)
		}
		return nil
	}
	if len(payload) > MaxVariablePayload {
		return fmt.Errorf("record id %d payload of %d bytes exceeds %d: %w",
			id, len(payload), MaxVariablePayload, ErrInvalidArgument)
	}
	return nil
}

// EncodedSize returns the number of bytes Encode will produce.
func EncodedSize(id ID, payloadLen int, desc Descriptor, base, tick Tick) int {
	n := headerSize + extensionSize(id) + tickSize(tickModeFor(base, tick)) + payloadLen
	if !desc.Fixed() {
		n += 2
	}
	return n
}

// Encode writes the minimal encoding of a record into dst and returns the
// number of bytes written. dst must hold at least EncodedSize bytes.
func Encode(dst []byte, id ID, payload []byte, desc Descriptor, base, tick Tick) (int, error) {
	if err := Validate(id, payload, desc); err != nil {
		return 0, err
	}
	size := EncodedSize(id, len(payload), desc, base, tick)
	if len(dst) < size {
		return 0, fmt.Errorf("encode record id %d needs %d bytes, have %d: %w", id, size, len(dst), ErrInvalidArgument)
	}

	mode := tickModeFor(base, tick)
	short := byte(LongIDMarker)
	if id <= ShortIDMax {
		short = byte(id)
	}
	dst[0] = short | byte(mode)<<tickShift
	n := headerSize

	switch extensionSize(id) {
	case 1:
		dst[n] = byte(id << 1)
		n++
	case 2:
		binary.LittleEndian.PutUint16(dst[n:], uint16(id)<<1|1)
		n += 2
	}

	switch mode {
	case TickDelta:
		dst[n] = byte(tick - base)
		n++
	case TickRaw:
		binary.LittleEndian.PutUint32(dst[n:], uint32(tick))
		n += 4
	}

	if !desc.Fixed() {
		binary.LittleEndian.PutUint16(dst[n:], uint16(len(payload)))
		n += 2
	}
	n += copy(dst[n:], payload)
	return n, nil
}

// Append encodes the record onto the end of dst.
func Append(dst []byte, id ID, payload []byte, desc Descriptor, base, tick Tick) ([]byte, error) {
	if err := Validate(id, payload, desc); err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, make([]byte, EncodedSize(id, len(payload), desc, base, tick))...)
	if _, err := Encode(dst[start:], id, payload, desc, base, tick); err != nil {
		return dst[:start], err
	}
	return dst, nil
}

// DecodeHeader parses the record header, id extension and tick at the start
// of p. The returned size covers those bytes only; DecodeData continues from
// the same position. A zero id in the first byte yields ErrNotFound.
func DecodeHeader(p []byte, base Tick) (id ID, tick Tick, n int, err error) {
	if len(p) == 0 || p[0]&maskShortID == 0 {
		return 0, 0, 0, ErrNotFound
	}
	b := p[0]
	mode := TickMode((b & maskTick) >> tickShift)
	n = headerSize

	if short := b & maskShortID; short != LongIDMarker {
		id = ID(short)
	} else {
		if len(p) < n+1 {
			return 0, 0, 0, fmt.Errorf("truncated id extension: %w", ErrLogCorrupted)
		}
		if p[n]&1 == 0 {
			id = ID(p[n] >> 1)
			n++
		} else {
			if len(p) < n+2 {
				return 0, 0, 0, fmt.Errorf("truncated id extension: %w", ErrLogCorrupted)
			}
			id = ID(binary.LittleEndian.Uint16(p[n:]) >> 1)
			n += 2
		}
		if id <= ShortIDMax {
			return 0, 0, 0, fmt.Errorf("long id %d below short id limit: %w", id, ErrLogCorrupted)
		}
	}

	switch mode {
	case TickMatch:
		tick = base
	case TickDelta:
		if len(p) < n+1 {
			return 0, 0, 0, fmt.Errorf("truncated tick delta: %w", ErrLogCorrupted)
		}
		tick = base + Tick(p[n])
		n++
	case TickRaw:
		if len(p) < n+4 {
			return 0, 0, 0, fmt.Errorf("truncated raw tick: %w", ErrLogCorrupted)
		}
		tick = Tick(binary.LittleEndian.Uint32(p[n:]))
		n += 4
	default:
		return 0, 0, 0, fmt.Errorf("reserved tick mode in header byte 0x%02x: %w", b, ErrLogCorrupted)
	}
	return id, tick, n, nil
}

// DecodeData reads the payload that follows a header of hdrLen bytes at the
// start of p. It returns a slice aliasing p and the total size of the record.
func DecodeData(p []byte, hdrLen int, desc Descriptor) (payload []byte, n int, err error) {
	n = hdrLen
	size := desc.Size()
	if !desc.Fixed() {
		if len(p) < n+2 {
			return nil, 0, fmt.Errorf("truncated payload length: %w", ErrLogCorrupted)
		}
		size = int(binary.LittleEndian.Uint16(p[n:]))
		n += 2
	}
	if len(p) < n+size {
		return nil, 0, fmt.Errorf("payload of %d bytes runs past %d available: %w", size, len(p)-n, ErrLogCorrupted)
	}
	return p[n : n+size], n + size, nil
}

// Decode parses one complete record from p using the descriptor table.
func Decode(p []byte, base Tick, table *Table) (Record, int, error) {
	id, tick, hdrLen, err := DecodeHeader(p, base)
	if err != nil {
		return Record{}, 0, err
	}
	payload, n, err := DecodeData(p, hdrLen, table.Lookup(id))
	if err != nil {
		return Record{}, 0, fmt.Errorf("record id %d: %w", id, err)
	}
	return Record{ID: id, Tick: tick, Payload: payload}, n, nil
}
