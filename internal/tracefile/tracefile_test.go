package tracefile_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/tracelog/internal/tracefile"
	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/reader"
	"github.com/alpacahq/tracelog/record"
	"github.com/alpacahq/tracelog/writer"
)

var entries = []record.Entry{
	{ID: 2, Name: "io.read", Descriptor: record.FixedSize(8)},
	{ID: 3, Name: "io.write", Descriptor: record.FixedSize(8)},
	{ID: 200, Name: "cache.evict"},
}

func testSchema(t *testing.T) record.Schema {
	t.Helper()
	table, err := record.NewTable(entries...)
	require.Nil(t, err)
	return record.Schema{ID: 9, Version: record.Version{Major: 1}, Table: table}
}

func openWriter(t *testing.T, path string, schema record.Schema) *writer.Writer {
	t.Helper()
	w, err := writer.Open(writer.Config{
		Config:  logfile.Config{Path: path, BufferSize: 256, Schema: schema},
		Buffers: 4,
		Tick:    func() record.Tick { return 77 },
	})
	require.Nil(t, err)
	return w
}

func writeSample(t *testing.T, path string, schema record.Schema) {
	t.Helper()
	w := openWriter(t, path, schema)
	require.Nil(t, w.Append(2, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.Nil(t, w.Append(3, []byte{8, 7, 6, 5, 4, 3, 2, 1}))
	require.Nil(t, w.Append(200, []byte("gone")))
	require.Nil(t, w.Close())
}

func openReader(t *testing.T, path string, schema record.Schema) *reader.Reader {
	t.Helper()
	r, err := reader.Open(reader.Config{Path: path, Schema: schema})
	require.Nil(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestFilter(t *testing.T) {
	t.Parallel()
	f, err := tracefile.NewFilter("")
	require.Nil(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match("anything"))
	assert.Equal(t, "*", f.String())

	f, err = tracefile.NewFilter("io.*")
	require.Nil(t, err)
	assert.True(t, f.Match("io.read"))
	assert.False(t, f.Match("io.read.retry"))
	assert.False(t, f.Match("cache.evict"))

	f, err = tracefile.NewFilter("{io,cache}.**")
	require.Nil(t, err)
	assert.True(t, f.Match("io.read.retry"))
	assert.True(t, f.Match("cache.evict"))

	_, err = tracefile.NewFilter("io.[")
	assert.NotNil(t, err)
}

func TestExportCSV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.log")
	schema := testSchema(t)
	writeSample(t, path, schema)

	f, err := tracefile.NewFilter("io.*")
	require.Nil(t, err)
	var out bytes.Buffer
	n, err := tracefile.Export(openReader(t, path, schema), &out, tracefile.ExportOptions{
		Format: tracefile.FormatCSV,
		Filter: f,
	})
	require.Nil(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "offset,tick_base,id,name,tick,payload", lines[0])
	assert.Equal(t, "4100,77,2,io.read,77,0102030405060708", lines[1])
	assert.Equal(t, "4109,77,3,io.write,77,0807060504030201", lines[2])
}

func TestExportCSVInBatches(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.log")
	schema := testSchema(t)
	w := openWriter(t, path, schema)
	const records = 2500
	p := make([]byte, 8)
	for i := 0; i < records; i++ {
		binary.LittleEndian.PutUint64(p, uint64(i))
		require.Nil(t, w.Append(2, p))
	}
	require.Nil(t, w.Close())

	var out bytes.Buffer
	n, err := tracefile.Export(openReader(t, path, schema), &out, tracefile.ExportOptions{Format: tracefile.FormatCSV})
	require.Nil(t, err)
	assert.Equal(t, records, n)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, records+1)
	assert.Equal(t, 1, strings.Count(out.String(), "offset,tick_base"))
	assert.True(t, strings.HasSuffix(lines[records], ",2,io.read,77,c309000000000000"))
}

func TestExportCSVEmptyLog(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.log")
	schema := testSchema(t)
	require.Nil(t, openWriter(t, path, schema).Close())

	var out bytes.Buffer
	n, err := tracefile.Export(openReader(t, path, schema), &out, tracefile.ExportOptions{Format: tracefile.FormatCSV})
	require.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "offset,tick_base,id,name,tick,payload", strings.TrimSpace(out.String()))
}

func TestExportMsgpack(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.log")
	schema := testSchema(t)
	writeSample(t, path, schema)

	for _, compressed := range []bool{false, true} {
		var out bytes.Buffer
		n, err := tracefile.Export(openReader(t, path, schema), &out, tracefile.ExportOptions{
			Format: tracefile.FormatMsgpack,
			Snappy: compressed,
		})
		require.Nil(t, err)
		assert.Equal(t, 3, n)

		rows, err := tracefile.ReadMsgpack(&out, compressed)
		require.Nil(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, uint16(200), rows[2].ID)
		assert.Equal(t, "cache.evict", rows[2].Name)
		assert.Equal(t, []byte("gone"), rows[2].Payload)
		assert.Equal(t, uint32(77), rows[0].Tick)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.log")
	schema := testSchema(t)
	writeSample(t, path, schema)

	_, err := tracefile.Export(openReader(t, path, schema), &bytes.Buffer{}, tracefile.ExportOptions{Format: "xml"})
	assert.NotNil(t, err)

	_, err = tracefile.ParseFormat("xml")
	assert.NotNil(t, err)
	format, err := tracefile.ParseFormat("msgpack")
	require.Nil(t, err)
	assert.Equal(t, tracefile.FormatMsgpack, format)
}

func TestBench(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.log")
	schema := testSchema(t)
	w := openWriter(t, path, schema)

	const goroutines, records = 4, 300
	res, err := tracefile.Bench(context.Background(), w, tracefile.BenchOptions{
		Goroutines: goroutines,
		Records:    records,
		Entries:    schema.Table.Entries(),
	})
	require.Nil(t, err)
	assert.Equal(t, goroutines*records, res.Records)
	assert.Equal(t, uint64(goroutines*records), res.Stats.Appends)
	require.Nil(t, w.Close())

	next := make([]uint32, goroutines)
	count := 0
	r := openReader(t, path, schema)
	for tr, err := range r.Records() {
		require.Nil(t, err)
		if len(tr.Payload) < 8 {
			continue
		}
		producer := binary.LittleEndian.Uint32(tr.Payload)
		seq := binary.LittleEndian.Uint32(tr.Payload[4:])
		require.Less(t, int(producer), goroutines)
		assert.Equal(t, next[producer], seq)
		next[producer] = seq + 1
		count++
	}
	assert.Equal(t, goroutines*records, count)
}

func TestBenchRejectsNoProducers(t *testing.T) {
	t.Parallel()
	w := openWriter(t, filepath.Join(t.TempDir(), "trace.log"), testSchema(t))
	defer w.Close()
	_, err := tracefile.Bench(context.Background(), w, tracefile.BenchOptions{})
	assert.ErrorIs(t, err, record.ErrInvalidArgument)
}
