// Package record implements the compact binary encoding of trace records.
//
// A record is laid out as
//
//	header:    1 byte   bits 0-5 short id (1..62) or LongIDMarker, bits 6-7 tick mode
//	extension: 0..2     long id, low bit set when two bytes are used
//	tick:      0, 1, 4  nothing when equal to the buffer tick base, a forward
//	                    delta of up to 255, or the raw little-endian tick
//	length:    0 or 2   little-endian payload length for variable records
//	payload:   n bytes
//
// A zero header byte never starts a record. Readers treat it as the end of
// the records held in the enclosing buffer.
package record

import "errors"

// ID identifies the type of a trace record. Zero is reserved.
type ID uint16

// Tick is the monotonic timestamp unit attached to every record.
type Tick uint32

const (
	// ShortIDMax is the largest id that fits in the header byte.
	ShortIDMax ID = 62
	// LongIDMarker in the header id bits announces an id extension.
	LongIDMarker = 0x3F
	// MaxID is the largest id the two byte extension can carry.
	MaxID ID = 0x7FFF
	// MaxVariablePayload is bounded by the two byte length prefix.
	MaxVariablePayload = 0xFFFF

	headerSize  = 1
	maskShortID = 0x3F
	maskTick    = 0xC0
	tickShift   = 6

	// MaxHeaderSize is the largest encoding of header, extension, tick and length.
	MaxHeaderSize = headerSize + 2 + 4 + 2
)

// TickMode selects how the tick of a record is stored relative to the
// tick base of the buffer holding it.
type TickMode uint8

const (
	TickMatch TickMode = iota
	TickDelta
	TickRaw
	tickReserved
)

func (m TickMode) String() string {
	switch m {
	case TickMatch:
		return "match"
	case TickDelta:
		return "delta"
	case TickRaw:
		return "raw"
	default:
		return "reserved"
	}
}

var (
	// ErrNotFound marks the absence of a record: a zero header byte inside a
	// buffer or the end of the file for readers.
	ErrNotFound = errors.New("no record found")
	// ErrInvalidArgument is returned for programmer errors such as id 0 or a
	// payload that does not match its fixed size descriptor.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrLogCorrupted is returned when bytes can not be parsed as a record.
	ErrLogCorrupted = errors.New("log corrupted")
)

// Record is a decoded trace record.
type Record struct {
	ID      ID
	Tick    Tick
	Payload []byte
}
