package tracefile

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/snappy"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/tracelog/reader"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates an export format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatMsgpack:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q, want csv or msgpack", s)
	}
}

// csvBatchRows bounds the rows held in memory by a csv export.
const csvBatchRows = 1024

// Row is one exported record. CSV carries the payload hex encoded.
type Row struct {
	Offset     int64  `csv:"offset" msgpack:"offset"`
	TickBase   uint32 `csv:"tick_base" msgpack:"tick_base"`
	ID         uint16 `csv:"id" msgpack:"id"`
	Name       string `csv:"name" msgpack:"name"`
	Tick       uint32 `csv:"tick" msgpack:"tick"`
	Payload    []byte `csv:"-" msgpack:"payload"`
	PayloadHex string `csv:"payload" msgpack:"-"`
}

func newRow(r *reader.Reader, t reader.Trace) Row {
	return Row{
		Offset:   t.Bookmark.Offset,
		TickBase: uint32(t.Bookmark.TickBase),
		ID:       uint16(t.ID),
		Name:     r.Name(t.ID),
		Tick:     uint32(t.Tick),
		Payload:  t.Payload,
	}
}

// ExportOptions controls Export.
type ExportOptions struct {
	Format Format
	Filter *Filter
	// Snappy frames the output with the snappy stream format.
	Snappy bool
}

// Export writes every record of r matching opts.Filter to out and returns
// the number of rows written. Msgpack output is a stream of Row maps, CSV
// output a header line followed by one line per row, written in batches.
func Export(r *reader.Reader, out io.Writer, opts ExportOptions) (int, error) {
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return 0, err
	}
	var sw *snappy.Writer
	if opts.Snappy {
		sw = snappy.NewBufferedWriter(out)
		out = sw
	}

	var (
		n    int
		enc  *msgpack.Encoder
		rows []Row
		// the csv header goes out with the first batch only
		wroteHeader bool
	)
	flushRows := func() error {
		var err error
		if wroteHeader {
			err = gocsv.MarshalWithoutHeaders(&rows, out)
		} else {
			err = gocsv.Marshal(&rows, out)
			wroteHeader = true
		}
		rows = rows[:0]
		if err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	}
	if opts.Format == FormatMsgpack {
		enc = msgpack.NewEncoder(out)
	}
	for t, err := range r.Records() {
		if err != nil {
			return n, err
		}
		name := r.Name(t.ID)
		if !opts.Filter.Match(name) {
			continue
		}
		row := newRow(r, t)
		switch opts.Format {
		case FormatMsgpack:
			if err := enc.Encode(&row); err != nil {
				return n, fmt.Errorf("encode record at offset %d: %w", row.Offset, err)
			}
		case FormatCSV:
			row.PayloadHex = hex.EncodeToString(row.Payload)
			rows = append(rows, row)
			if len(rows) == csvBatchRows {
				if err := flushRows(); err != nil {
					return n, err
				}
			}
		}
		n++
	}

	if opts.Format == FormatCSV && (len(rows) > 0 || !wroteHeader) {
		if err := flushRows(); err != nil {
			return n, err
		}
	}
	if sw != nil {
		if err := sw.Close(); err != nil {
			return n, fmt.Errorf("close snappy stream: %w", err)
		}
	}
	return n, nil
}

// ReadMsgpack decodes an export written with FormatMsgpack.
func ReadMsgpack(in io.Reader, compressed bool) ([]Row, error) {
	if compressed {
		in = snappy.NewReader(in)
	}
	dec := msgpack.NewDecoder(in)
	var rows []Row
	for {
		var row Row
		err := dec.Decode(&row)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
