package header

import (
	"fmt"
	"io"
	"time"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04:05.000000 MST")
}

// Dump writes a human readable rendition of h to w.
func Dump(w io.Writer, h Header) error {
	lines := []struct {
		name  string
		value string
	}{
		{"checksum", fmt.Sprintf("0x%x", h.Checksum)},
		{"file type", fmt.Sprintf("0x%x", h.FileType)},
		{"format version", fmt.Sprintf("%s (0x%x.0x%x.0x%x)", h.Format, h.Format.Major, h.Format.Minor, h.Format.Update)},
		{"state", fmt.Sprintf("%s (%d 0x%x)", h.State, uint32(h.State), uint32(h.State))},
		{"schema id", fmt.Sprintf("%d (0x%x)", h.SchemaID, h.SchemaID)},
		{"schema version", fmt.Sprintf("%s (0x%x.0x%x.0x%x)",
			h.SchemaVersion, h.SchemaVersion.Major, h.SchemaVersion.Minor, h.SchemaVersion.Update)},
		{"buffer size", fmt.Sprintf("%d", h.BufferSize)},
		{"reopens", fmt.Sprintf("%d", h.Reopens)},
		{"recoveries", fmt.Sprintf("%d", h.Recoveries)},
		{"last known buffer", fmt.Sprintf("%d", h.LastKnownBufferOffset)},
		{"write failures", fmt.Sprintf("%d", h.WriteFailures)},
		{"first open", formatTime(h.FirstOpen)},
		{"last open", formatTime(h.LastOpen)},
		{"last close", formatTime(h.LastClose)},
		{"max write IOs", fmt.Sprintf("%d", h.MaxWriteIOs)},
		{"max write buffers", fmt.Sprintf("%d", h.MaxWriteBuffers)},
		{"post processed", formatTime(h.PostProcessed)},
	}

	if _, err := fmt.Fprintf(w, "\nTrace Log Header:\n\n"); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%20s: %s\n", l.name, l.value); err != nil {
			return err
		}
	}
	return nil
}
