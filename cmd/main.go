package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/tracelog/cmd/bench"
	"github.com/alpacahq/tracelog/cmd/dump"
	"github.com/alpacahq/tracelog/cmd/export"
	"github.com/alpacahq/tracelog/cmd/postprocess"
	"github.com/alpacahq/tracelog/utils"
	"github.com/alpacahq/tracelog/utils/log"
)

// flagPrintVersion set flag to show current tracelog version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use:   "tracelog",
		Short: "Inspect, export and benchmark binary trace logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %+v", utils.Tag)
				log.Info("commit hash: %+v", utils.GitHash)
				log.Info("utc build time: %+v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(dump.Cmd)
	c.AddCommand(export.Cmd)
	c.AddCommand(postprocess.Cmd)
	c.AddCommand(bench.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
