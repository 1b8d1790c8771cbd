package postprocess

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpacahq/tracelog/internal/di"
	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/utils/log"
)

const (
	usage   = "postprocess"
	short   = "Mark a cleanly closed trace log as post-processed"
	long    = "This command stores metadata in the post-processed region of a clean trace log header and moves it to the PostProcessed state"
	example = "tracelog postprocess -f trace.log --meta summary.json"
)

var (
	// Cmd is the postprocess command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"pp"},
		Example: example,
		RunE:    executePostProcess,
	}
	tracePath string
	metaPath  string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&tracePath, "file", "f", "", "path to the trace log")
	Cmd.Flags().StringVar(&metaPath, "meta", "", "file whose content is stored in the header, at most 1KB")
	_ = Cmd.MarkFlagRequired("file")
}

func executePostProcess(cmd *cobra.Command, _ []string) error {
	var meta []byte
	if metaPath != "" {
		var err error
		if meta, err = os.ReadFile(metaPath); err != nil {
			return fmt.Errorf("failed to read metadata file error: %w", err)
		}
	}
	cmd.SilenceUsage = true

	schema, err := di.SchemaFromFile(tracePath)
	if err != nil {
		return err
	}
	if err := logfile.PostProcess(tracePath, schema, meta); err != nil {
		return err
	}
	log.Info("marked %s post-processed with %d bytes of metadata", tracePath, len(meta))
	return nil
}
