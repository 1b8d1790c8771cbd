package export

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpacahq/tracelog/internal/di"
	"github.com/alpacahq/tracelog/internal/tracefile"
	"github.com/alpacahq/tracelog/utils/log"
)

const (
	usage   = "export"
	short   = "Export the records of a trace log as csv or msgpack"
	long    = "This command converts every record of a trace log into rows of a csv file or a msgpack stream"
	example = "tracelog export -f trace.log -o trace.msgpack.sz --format msgpack --snappy"
)

var (
	// Cmd is the export command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"e"},
		Example: example,
		RunE:    executeExport,
	}
	tracePath  string
	outPath    string
	schemaPath string
	format     string
	pattern    string
	compress   bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&tracePath, "file", "f", "", "path to the trace log")
	Cmd.Flags().StringVarP(&outPath, "out", "o", "", "path of the export to write")
	Cmd.Flags().StringVar(&format, "format", string(tracefile.FormatCSV), "export format: csv or msgpack")
	Cmd.Flags().StringVar(&schemaPath, "schema", "", "YAML configuration carrying the record descriptors")
	Cmd.Flags().StringVar(&pattern, "filter", "", "only export records whose name matches this glob")
	Cmd.Flags().BoolVar(&compress, "snappy", false, "compress the export with snappy framing")
	_ = Cmd.MarkFlagRequired("file")
	_ = Cmd.MarkFlagRequired("out")
}

func executeExport(cmd *cobra.Command, _ []string) error {
	f, err := tracefile.ParseFormat(format)
	if err != nil {
		return err
	}
	filter, err := tracefile.NewFilter(pattern)
	if err != nil {
		return err
	}
	cfg, err := di.LoadConfig(tracePath, schemaPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	c := di.NewContainer(cfg)
	defer c.Close()
	r, err := c.GetReader()
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer out.Close()
	bw := bufio.NewWriter(out)

	n, err := tracefile.Export(r, bw, tracefile.ExportOptions{Format: f, Filter: filter, Snappy: compress})
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	if err := out.Sync(); err != nil {
		return err
	}
	log.Info("exported %d records from %s to %s", n, cfg.Path, outPath)
	return nil
}
