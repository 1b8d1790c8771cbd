// Package header holds the fixed-size metadata block at the start of every
// trace log file: its binary layout, lifecycle state and compatibility
// checks.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/alpacahq/tracelog/record"
)

const (
	// Size of the header block. Buffers start right after it.
	Size = 4096

	// FileTypeTraceLog identifies trace log files.
	FileTypeTraceLog uint32 = 0x46544C31

	FormatMajor  uint32 = 1
	FormatMinor  uint32 = 0
	FormatUpdate uint32 = 0

	// PrivateOffset is where the caller metadata region starts.
	PrivateOffset = 1024
	// PostProcessedOffset is where the post-processed metadata region starts.
	PostProcessedOffset = 2048
	// RegionSize is the size of each metadata region.
	RegionSize = 1024
)

// field offsets
const (
	offChecksum        = 0
	offFileType        = 4
	offFormatMajor     = 8
	offFormatMinor     = 12
	offFormatUpdate    = 16
	offState           = 20
	offSchemaID        = 24
	offSchemaMajor     = 28
	offSchemaMinor     = 32
	offSchemaUpdate    = 36
	offReopens         = 40
	offRecoveries      = 44
	offLastKnownBuffer = 48
	offWriteFailures   = 56
	offFirstOpen       = 64
	offLastOpen        = 72
	offLastClose       = 80
	offPostProcessed   = 88
	offMaxWriteIOs     = 96
	offMaxWriteBuffers = 100
	offBufferSize      = 104
)

var (
	// ErrBadVersion is returned when a file was written with an incompatible
	// format or schema version.
	ErrBadVersion = errors.New("bad log version")
	// ErrInvalidBufferSize is returned when a file is reopened with a buffer
	// size different from the one it was created with.
	ErrInvalidBufferSize = errors.New("invalid buffer size")
)

// State is the lifecycle state persisted in the header.
type State uint32

const (
	StateUnknown State = iota
	Created
	Dirty
	Clean
	PostProcessed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Dirty:
		return "Dirty"
	case Clean:
		return "Clean"
	case PostProcessed:
		return "PostProcessed"
	default:
		return "UNKNOWN!"
	}
}

// Header is the decoded header image.
type Header struct {
	Checksum      uint32
	FileType      uint32
	Format        record.Version
	State         State
	SchemaID      uint32
	SchemaVersion record.Version

	Reopens    uint32
	Recoveries uint32
	// LastKnownBufferOffset is the file offset the next buffer is written at.
	LastKnownBufferOffset uint64
	WriteFailures         uint64

	FirstOpen     time.Time
	LastOpen      time.Time
	LastClose     time.Time
	PostProcessed time.Time

	MaxWriteIOs     uint32
	MaxWriteBuffers uint32
	BufferSize      uint32

	Private           [RegionSize]byte
	PostProcessedMeta [RegionSize]byte
}

// New returns the header of a freshly created file.
func New(schema record.Schema, bufferSize uint32, now time.Time) Header {
	return Header{
		FileType:              FileTypeTraceLog,
		Format:                record.Version{Major: FormatMajor, Minor: FormatMinor, Update: FormatUpdate},
		State:                 Created,
		SchemaID:              schema.ID,
		SchemaVersion:         schema.Version,
		LastKnownBufferOffset: Size,
		FirstOpen:             now,
		BufferSize:            bufferSize,
	}
}

func putTime(p []byte, t time.Time) {
	var v int64
	if !t.IsZero() {
		v = t.UnixNano()
	}
	binary.LittleEndian.PutUint64(p, uint64(v))
}

func getTime(p []byte) time.Time {
	v := int64(binary.LittleEndian.Uint64(p))
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

// Marshal renders the header into a Size byte image with a fresh checksum.
func (h *Header) Marshal() []byte {
	p := make([]byte, Size)
	le := binary.LittleEndian
	le.PutUint32(p[offFileType:], h.FileType)
	le.PutUint32(p[offFormatMajor:], h.Format.Major)
	le.PutUint32(p[offFormatMinor:], h.Format.Minor)
	le.PutUint32(p[offFormatUpdate:], h.Format.Update)
	le.PutUint32(p[offState:], uint32(h.State))
	le.PutUint32(p[offSchemaID:], h.SchemaID)
	le.PutUint32(p[offSchemaMajor:], h.SchemaVersion.Major)
	le.PutUint32(p[offSchemaMinor:], h.SchemaVersion.Minor)
	le.PutUint32(p[offSchemaUpdate:], h.SchemaVersion.Update)
	le.PutUint32(p[offReopens:], h.Reopens)
	le.PutUint32(p[offRecoveries:], h.Recoveries)
	le.PutUint64(p[offLastKnownBuffer:], h.LastKnownBufferOffset)
	le.PutUint64(p[offWriteFailures:], h.WriteFailures)
	putTime(p[offFirstOpen:], h.FirstOpen)
	putTime(p[offLastOpen:], h.LastOpen)
	putTime(p[offLastClose:], h.LastClose)
	putTime(p[offPostProcessed:], h.PostProcessed)
	le.PutUint32(p[offMaxWriteIOs:], h.MaxWriteIOs)
	le.PutUint32(p[offMaxWriteBuffers:], h.MaxWriteBuffers)
	le.PutUint32(p[offBufferSize:], h.BufferSize)
	copy(p[PrivateOffset:], h.Private[:])
	copy(p[PostProcessedOffset:], h.PostProcessedMeta[:])

	h.Checksum = xxhash.Checksum32(p[offFileType:])
	le.PutUint32(p[offChecksum:], h.Checksum)
	return p
}

// Unmarshal decodes a header image, verifying its checksum and file type.
func Unmarshal(p []byte) (Header, error) {
	var h Header
	if len(p) < Size {
		return h, fmt.Errorf("header of %d bytes, want %d: %w", len(p), Size, record.ErrLogCorrupted)
	}
	le := binary.LittleEndian
	h.Checksum = le.Uint32(p[offChecksum:])
	if sum := xxhash.Checksum32(p[offFileType:Size]); sum != h.Checksum {
		return h, fmt.Errorf("header checksum was: 0x%x should be: 0x%x: %w", sum, h.Checksum, record.ErrLogCorrupted)
	}
	h.FileType = le.Uint32(p[offFileType:])
	if h.FileType != FileTypeTraceLog {
		return h, fmt.Errorf("file type 0x%x is not a trace log: %w", h.FileType, record.ErrLogCorrupted)
	}
	h.Format = record.Version{
		Major:  le.Uint32(p[offFormatMajor:]),
		Minor:  le.Uint32(p[offFormatMinor:]),
		Update: le.Uint32(p[offFormatUpdate:]),
	}
	h.State = State(le.Uint32(p[offState:]))
	h.SchemaID = le.Uint32(p[offSchemaID:])
	h.SchemaVersion = record.Version{
		Major:  le.Uint32(p[offSchemaMajor:]),
		Minor:  le.Uint32(p[offSchemaMinor:]),
		Update: le.Uint32(p[offSchemaUpdate:]),
	}
	h.Reopens = le.Uint32(p[offReopens:])
	h.Recoveries = le.Uint32(p[offRecoveries:])
	h.LastKnownBufferOffset = le.Uint64(p[offLastKnownBuffer:])
	h.WriteFailures = le.Uint64(p[offWriteFailures:])
	h.FirstOpen = getTime(p[offFirstOpen:])
	h.LastOpen = getTime(p[offLastOpen:])
	h.LastClose = getTime(p[offLastClose:])
	h.PostProcessed = getTime(p[offPostProcessed:])
	h.MaxWriteIOs = le.Uint32(p[offMaxWriteIOs:])
	h.MaxWriteBuffers = le.Uint32(p[offMaxWriteBuffers:])
	h.BufferSize = le.Uint32(p[offBufferSize:])
	copy(h.Private[:], p[PrivateOffset:PrivateOffset+RegionSize])
	copy(h.PostProcessedMeta[:], p[PostProcessedOffset:PostProcessedOffset+RegionSize])
	return h, nil
}

// CheckVersions verifies that a reader or writer built for schema can use a
// file carrying header h.
func CheckVersions(h Header, schema record.Schema) error {
	switch {
	case h.FileType != FileTypeTraceLog:
		return fmt.Errorf("file type 0x%x: %w", h.FileType, record.ErrLogCorrupted)
	case h.Format.Major != FormatMajor:
		return fmt.Errorf("format major %d, supported %d: %w", h.Format.Major, FormatMajor, ErrBadVersion)
	case h.Format.Minor > FormatMinor:
		return fmt.Errorf("format minor %d newer than %d: %w", h.Format.Minor, FormatMinor, ErrBadVersion)
	case h.SchemaID != schema.ID:
		return fmt.Errorf("schema id %d, expected %d: %w", h.SchemaID, schema.ID, ErrBadVersion)
	case h.SchemaVersion.Major != schema.Version.Major:
		return fmt.Errorf("schema major %d, expected %d: %w", h.SchemaVersion.Major, schema.Version.Major, ErrBadVersion)
	case h.SchemaVersion.Minor > schema.Version.Minor:
		return fmt.Errorf("schema minor %d newer than %d: %w", h.SchemaVersion.Minor, schema.Version.Minor, ErrBadVersion)
	}
	return nil
}
