package logfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/tracelog/fileio"
	"github.com/alpacahq/tracelog/header"
	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/record"
)

var schema = record.Schema{ID: 3, Version: record.Version{Major: 1, Minor: 2}}

func config(t *testing.T, path string) logfile.Config {
	t.Helper()
	clock := time.Date(2022, 2, 2, 0, 0, 0, 0, time.UTC)
	return logfile.Config{
		Path:       path,
		BufferSize: 512,
		Schema:     schema,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
}

func readHeader(t *testing.T, path string) header.Header {
	t.Helper()
	f, err := fileio.Open(path)
	require.Nil(t, err)
	defer f.Close()
	h, err := logfile.ReadHeader(f)
	require.Nil(t, err)
	return h
}

func TestCreateAndClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.ftl")

	l, err := logfile.Create(config(t, path))
	require.Nil(t, err)
	assert.Equal(t, int64(header.Size), l.ResumeOffset())

	h := readHeader(t, path)
	assert.Equal(t, header.Dirty, h.State)
	assert.Equal(t, uint32(512), h.BufferSize)
	assert.Equal(t, schema.ID, h.SchemaID)
	assert.False(t, h.FirstOpen.IsZero())
	fi, err := os.Stat(path)
	require.Nil(t, err)
	assert.Equal(t, int64(header.Size), fi.Size())

	require.Nil(t, l.Close())
	h = readHeader(t, path)
	assert.Equal(t, header.Clean, h.State)
	assert.False(t, h.LastClose.IsZero())
	assert.Equal(t, uint32(0), h.Reopens)
}

func TestReopenCounters(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.ftl")

	for i := 0; i < 3; i++ {
		l, err := logfile.Create(config(t, path))
		require.Nil(t, err)
		require.Nil(t, l.Close())
	}
	h := readHeader(t, path)
	assert.Equal(t, uint32(2), h.Reopens)
	assert.Equal(t, uint32(0), h.Recoveries)
	assert.Equal(t, header.Clean, h.State)

	cfg := config(t, path)
	cfg.Overwrite = true
	l, err := logfile.Create(cfg)
	require.Nil(t, err)
	require.Nil(t, l.Close())
	assert.Equal(t, uint32(0), readHeader(t, path).Reopens)
}

func TestDirtyRecovery(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.ftl")

	l, err := logfile.Create(config(t, path))
	require.Nil(t, err)
	// two buffers and a bit of a third reach the disk, then the process dies
	require.Nil(t, l.File().WriteAt(make([]byte, 2*512+10), header.Size))
	require.Nil(t, l.File().Close())

	l, err = logfile.Create(config(t, path))
	require.Nil(t, err)
	assert.Equal(t, int64(header.Size+3*512), l.ResumeOffset())
	h := l.Header()
	assert.Equal(t, uint32(1), h.Recoveries)
	assert.Equal(t, uint32(0), h.Reopens)
	assert.Equal(t, uint64(header.Size+3*512), h.LastKnownBufferOffset)
	require.Nil(t, l.Close())
}

func TestReopenRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "size.ftl")
	l, err := logfile.Create(config(t, path))
	require.Nil(t, err)
	require.Nil(t, l.Close())
	cfg := config(t, path)
	cfg.BufferSize = 1024
	_, err = logfile.Create(cfg)
	assert.ErrorIs(t, err, header.ErrInvalidBufferSize)

	cfg = config(t, path)
	cfg.Schema.Version.Major = 2
	_, err = logfile.Create(cfg)
	assert.ErrorIs(t, err, header.ErrBadVersion)

	path = filepath.Join(dir, "created.ftl")
	h := header.New(schema, 512, time.Now())
	require.Nil(t, os.WriteFile(path, h.Marshal(), 0o644))
	_, err = logfile.Create(config(t, path))
	assert.ErrorIs(t, err, record.ErrLogCorrupted)

	path = filepath.Join(dir, "garbage.ftl")
	require.Nil(t, os.WriteFile(path, []byte("not a trace log"), 0o644))
	_, err = logfile.Create(config(t, path))
	assert.ErrorIs(t, err, record.ErrLogCorrupted)

	path = filepath.Join(dir, "postprocessed.ftl")
	l, err = logfile.Create(config(t, path))
	require.Nil(t, err)
	require.Nil(t, l.Close())
	require.Nil(t, logfile.PostProcess(path, schema, nil))
	_, err = logfile.Create(config(t, path))
	assert.ErrorIs(t, err, logfile.ErrPostProcessed)
	assert.ErrorIs(t, err, record.ErrLogCorrupted)

	cfg = config(t, filepath.Join(dir, "tiny.ftl"))
	cfg.BufferSize = 8
	_, err = logfile.Create(cfg)
	assert.ErrorIs(t, err, header.ErrInvalidBufferSize)
}

func TestEmptyExistingFileIsInitialized(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.ftl")
	require.Nil(t, os.WriteFile(path, nil, 0o644))

	l, err := logfile.Create(config(t, path))
	require.Nil(t, err)
	require.Nil(t, l.Close())
	assert.Equal(t, header.Clean, readHeader(t, path).State)
}

func TestPrivateAndPostProcess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.ftl")

	l, err := logfile.Create(config(t, path))
	require.Nil(t, err)
	require.Nil(t, l.SetPrivate([]byte("owner=test")))
	assert.ErrorIs(t, l.SetPrivate(make([]byte, header.RegionSize+1)), record.ErrInvalidArgument)

	assert.ErrorIs(t, logfile.PostProcess(path, schema, []byte("x")), logfile.ErrNotClean)
	require.Nil(t, l.Close())

	require.Nil(t, logfile.PostProcess(path, schema, []byte("records=10")))
	h := readHeader(t, path)
	assert.Equal(t, header.PostProcessed, h.State)
	assert.Equal(t, "records=10", string(h.PostProcessedMeta[:10]))
	assert.Equal(t, "owner=test", string(h.Private[:10]))
	assert.False(t, h.PostProcessed.IsZero())

	_, err = os.Stat(filepath.Join(t.TempDir(), "missing.ftl"))
	require.NotNil(t, err)
	assert.NotNil(t, logfile.PostProcess(filepath.Join(t.TempDir(), "missing.ftl"), schema, nil))

	// post-processed files are read-only
	_, err = logfile.Create(config(t, path))
	assert.ErrorIs(t, err, logfile.ErrPostProcessed)
	assert.ErrorIs(t, err, record.ErrLogCorrupted)
	h = readHeader(t, path)
	assert.Equal(t, header.PostProcessed, h.State)
	assert.Equal(t, uint32(0), h.Reopens)
}

func TestPostProcessWhileOpenSurvivesClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trace.ftl")

	l, err := logfile.Create(config(t, path))
	require.Nil(t, err)
	require.Nil(t, l.PostProcess([]byte("again")))
	assert.Equal(t, header.PostProcessed, l.Header().State)
	assert.ErrorIs(t, l.PostProcess(make([]byte, header.RegionSize+1)), record.ErrInvalidArgument)
	require.Nil(t, l.Close())

	h := readHeader(t, path)
	assert.Equal(t, header.PostProcessed, h.State)
	assert.False(t, h.LastClose.IsZero())
	assert.Equal(t, "again", string(h.PostProcessedMeta[:5]))
}

func TestAlignUp(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(header.Size), logfile.AlignUp(0, 64))
	assert.Equal(t, int64(header.Size), logfile.AlignUp(header.Size, 64))
	assert.Equal(t, int64(header.Size+64), logfile.AlignUp(header.Size+1, 64))
	assert.Equal(t, int64(header.Size+64), logfile.AlignUp(header.Size+64, 64))
}
