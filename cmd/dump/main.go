package dump

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alpacahq/tracelog/internal/di"
	"github.com/alpacahq/tracelog/internal/tracefile"
	"github.com/alpacahq/tracelog/reader"
	"github.com/alpacahq/tracelog/utils/log"
)

const (
	usage   = "dump"
	short   = "Print the header, statistics and records of a trace log"
	long    = "This command scans a trace log and prints its header, reader statistics and records"
	example = "tracelog dump -f trace.log --header --records --filter 'io.*'"
)

var (
	// Cmd is the dump command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"d"},
		Example: example,
		RunE:    executeDump,
	}
	tracePath  string
	schemaPath string
	pattern    string
	showHeader bool
	showStats  bool
	showRecs   bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&tracePath, "file", "f", "", "path to the trace log")
	Cmd.Flags().StringVar(&schemaPath, "schema", "", "YAML configuration carrying the record descriptors")
	Cmd.Flags().StringVar(&pattern, "filter", "", "only print records whose name matches this glob")
	Cmd.Flags().BoolVar(&showHeader, "header", false, "print the file header")
	Cmd.Flags().BoolVar(&showStats, "stats", false, "print buffer statistics after the scan")
	Cmd.Flags().BoolVar(&showRecs, "records", false, "print every record")
	_ = Cmd.MarkFlagRequired("file")
}

func executeDump(cmd *cobra.Command, _ []string) error {
	filter, err := tracefile.NewFilter(pattern)
	if err != nil {
		return err
	}
	cfg, err := di.LoadConfig(tracePath, schemaPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	// nothing selected prints everything
	if !showHeader && !showStats && !showRecs {
		showHeader, showStats, showRecs = true, true, true
	}

	c := di.NewContainer(cfg)
	defer c.Close()
	r, err := c.GetReader()
	if err != nil {
		return err
	}
	return Dump(cmd.OutOrStdout(), r, filter, showHeader, showStats, showRecs)
}

// Dump prints the selected sections of the trace log open in r.
func Dump(w io.Writer, r *reader.Reader, filter *tracefile.Filter, header, stats, records bool) error {
	if header {
		if err := r.DumpHeader(w); err != nil {
			return err
		}
	}

	if records || stats {
		if records {
			fmt.Fprintf(w, "\nRecords (%s):\n\n", filter)
		}
		for t, err := range r.Records() {
			if err != nil {
				log.Error("scan stopped: %v", err)
				return err
			}
			name := r.Name(t.ID)
			if !records || !filter.Match(name) {
				continue
			}
			fmt.Fprintf(w, "%10d %10d %-24s %6d %x\n", t.Bookmark.Offset, t.Tick, name, len(t.Payload), t.Payload)
		}
	}

	if stats {
		return r.DumpStats(w)
	}
	return nil
}
