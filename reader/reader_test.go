package reader_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/tracelog/header"
	"github.com/alpacahq/tracelog/reader"
	"github.com/alpacahq/tracelog/record"
)

const bufferSize = 64

var schema = record.Schema{ID: 4, Version: record.Version{Major: 1, Minor: 3}}

type rec struct {
	id      record.ID
	tick    record.Tick
	payload string
}

// buffer encodes records behind base the way the writer lays out a buffer.
func buffer(t *testing.T, base record.Tick, recs ...rec) []byte {
	t.Helper()
	b := make([]byte, 4, bufferSize)
	binary.LittleEndian.PutUint32(b, uint32(base))
	for _, r := range recs {
		var err error
		b, err = record.Append(b, r.id, []byte(r.payload), record.Variable, base, r.tick)
		require.Nil(t, err)
	}
	require.True(t, len(b) <= bufferSize)
	return append(b, make([]byte, bufferSize-len(b))...)
}

func writeLog(t *testing.T, minor uint32, buffers ...[]byte) string {
	t.Helper()
	s := schema
	s.Version.Minor = minor
	h := header.New(s, bufferSize, time.Now())
	h.State = header.Clean
	img := h.Marshal()
	for _, b := range buffers {
		img = append(img, b...)
	}
	path := filepath.Join(t.TempDir(), "trace.ftl")
	require.Nil(t, os.WriteFile(path, img, 0o644))
	return path
}

func open(t *testing.T, path string, cfg reader.Config) *reader.Reader {
	t.Helper()
	cfg.Path = path
	if cfg.Schema.Version.Major == 0 {
		cfg.Schema = schema
	}
	r, err := reader.Open(cfg)
	require.Nil(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func collect(t *testing.T, r *reader.Reader) []reader.Trace {
	t.Helper()
	var out []reader.Trace
	for tr, err := range r.Records() {
		require.Nil(t, err)
		out = append(out, tr)
	}
	return out
}

func TestBufferClassification(t *testing.T) {
	t.Parallel()
	// 1+2+57 bytes fill the 60 bytes after the tick base exactly
	full := buffer(t, 10, rec{1, 10, string(bytes.Repeat([]byte{'f'}, 57))})
	partial := buffer(t, 20, rec{2, 21, "abc"}, rec{3, 500, "de"})
	blank := make([]byte, bufferSize)
	tail := buffer(t, 30, rec{70, 30, "z"})

	r := open(t, writeLog(t, 3, full, partial, blank, tail), reader.Config{})
	traces := collect(t, r)
	require.Len(t, traces, 4)

	assert.Equal(t, record.ID(2), traces[1].ID)
	assert.Equal(t, record.Tick(21), traces[1].Tick)
	assert.Equal(t, record.Tick(500), traces[2].Tick)
	assert.Equal(t, record.ID(70), traces[3].ID)
	assert.Equal(t, reader.Bookmark{Offset: header.Size + 4, TickBase: 10}, traces[0].Bookmark)
	assert.Equal(t, reader.Bookmark{Offset: header.Size + 3*bufferSize + 4, TickBase: 30}, traces[3].Bookmark)

	s := r.Stats()
	assert.Equal(t, uint64(4), s.Records)
	assert.Equal(t, uint64(1), s.FullBuffers)
	assert.Equal(t, uint64(2), s.PartialBuffers)
	assert.Equal(t, uint64(1), s.BlankBuffers)
	assert.Equal(t, uint64(bufferSize), s.BlankEmptyBytes)
	partialEmpty := uint64(bufferSize - 4 - (1 + 1 + 2 + 3) - (1 + 4 + 2 + 2) + bufferSize - 4 - (1 + 1 + 2 + 1))
	assert.Equal(t, partialEmpty, s.PartialEmptyBytes)
	assert.Equal(t, uint64(0), s.TruncatedBuffers)

	var out bytes.Buffer
	require.Nil(t, r.DumpStats(&out))
	assert.Contains(t, out.String(), "full buffers: 1")
	assert.Contains(t, out.String(), "blank buffers: 1")
	assert.Contains(t, out.String(), "records: 4")
}

func TestEndOfFileIsSticky(t *testing.T) {
	t.Parallel()
	r := open(t, writeLog(t, 3, buffer(t, 1, rec{1, 1, "only"})), reader.Config{})
	tr, err := r.Next()
	require.Nil(t, err)
	assert.Equal(t, "only", string(tr.Payload))

	for i := 0; i < 3; i++ {
		_, err = r.Next()
		assert.ErrorIs(t, err, record.ErrNotFound)
	}
	// reaching the end counts the last buffer but no phantom ones
	assert.Equal(t, uint64(1), r.Stats().PartialBuffers)
	assert.Equal(t, uint64(0), r.Stats().BlankBuffers)
}

func TestEmptyLog(t *testing.T) {
	t.Parallel()
	r := open(t, writeLog(t, 3), reader.Config{})
	_, err := r.Next()
	assert.ErrorIs(t, err, record.ErrNotFound)
	assert.Equal(t, reader.Stats{ReadIOs: r.Stats().ReadIOs}, r.Stats())
}

func TestReadAheadRing(t *testing.T) {
	t.Parallel()
	var (
		buffers [][]byte
		want    []string
	)
	for i := 0; i < 40; i++ {
		payload := string(rune('a'+i%26)) + "-payload"
		buffers = append(buffers, buffer(t, record.Tick(i*100), rec{5, record.Tick(i*100 + 1), payload}))
		want = append(want, payload)
	}
	path := writeLog(t, 3, buffers...)

	for _, cfg := range []reader.Config{
		{ReadAhead: 1, Chunks: 1},
		{ReadAhead: 3 * bufferSize, Chunks: 3},
		{ReadAhead: 100, Chunks: 2},
		{},
	} {
		r := open(t, path, cfg)
		var got []string
		for _, tr := range collect(t, r) {
			got = append(got, string(tr.Payload))
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("config %+v: payload mismatch (-want +got):\n%s", cfg, diff)
		}
		assert.Equal(t, uint64(40), r.Stats().PartialBuffers)
	}

	r := open(t, path, reader.Config{ReadAhead: bufferSize, Chunks: 2})
	collect(t, r)
	assert.True(t, r.Stats().ReadIOs >= 40)
}

func TestPayloadsAreCopied(t *testing.T) {
	t.Parallel()
	var buffers [][]byte
	for i := 0; i < 8; i++ {
		buffers = append(buffers, buffer(t, 0, rec{1, 0, "keep"}))
	}
	r := open(t, writeLog(t, 3, buffers...), reader.Config{ReadAhead: bufferSize, Chunks: 1})
	traces := collect(t, r)
	require.Len(t, traces, 8)
	for _, tr := range traces {
		assert.Equal(t, "keep", string(tr.Payload))
	}
}

func TestCorruptionInsideFile(t *testing.T) {
	t.Parallel()
	bad := buffer(t, 1, rec{1, 1, "ok"})
	bad[4+5] = 0xC0 | 7 // reserved tick mode after the first record
	path := writeLog(t, 3, bad, buffer(t, 2, rec{1, 2, "never"}))

	r := open(t, path, reader.Config{})
	_, err := r.Next()
	require.Nil(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, record.ErrLogCorrupted)
	_, err = r.Next()
	assert.ErrorIs(t, err, record.ErrLogCorrupted)

	var seen int
	r = open(t, path, reader.Config{})
	for _, err := range r.Records() {
		seen++
		if err != nil {
			assert.ErrorIs(t, err, record.ErrLogCorrupted)
		}
	}
	assert.Equal(t, 2, seen)
}

func TestTornRecordAtEnd(t *testing.T) {
	t.Parallel()
	last := buffer(t, 9, rec{1, 9, "whole"}, rec{2, 9, "torn-record"})
	path := writeLog(t, 3, buffer(t, 8, rec{1, 8, "first"}), last)
	// cut inside the payload of the second record of the last buffer
	require.Nil(t, os.Truncate(path, header.Size+bufferSize+4+8+6))

	r := open(t, path, reader.Config{})
	traces := collect(t, r)
	require.Len(t, traces, 2)
	assert.Equal(t, "whole", string(traces[1].Payload))
	assert.Equal(t, uint64(1), r.Stats().TruncatedBuffers)
}

func TestVersionGate(t *testing.T) {
	t.Parallel()
	older := writeLog(t, 2)
	same := writeLog(t, 3)
	newer := writeLog(t, 4)

	for _, path := range []string{older, same} {
		r, err := reader.Open(reader.Config{Path: path, Schema: schema})
		require.Nil(t, err)
		require.Nil(t, r.Close())
	}
	_, err := reader.Open(reader.Config{Path: newer, Schema: schema})
	assert.ErrorIs(t, err, header.ErrBadVersion)

	_, err = reader.Open(reader.Config{Path: filepath.Join(t.TempDir(), "missing"), Schema: schema})
	assert.NotNil(t, err)
}

func TestDumpHeader(t *testing.T) {
	t.Parallel()
	r := open(t, writeLog(t, 3), reader.Config{})
	var out bytes.Buffer
	require.Nil(t, r.DumpHeader(&out))
	assert.Contains(t, out.String(), "state: Clean")
	assert.Contains(t, out.String(), "buffer size: 64")
	assert.Equal(t, uint32(bufferSize), r.Header().BufferSize)
	assert.Equal(t, "id12", r.Name(12))
}
