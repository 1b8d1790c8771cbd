package bench

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/tracelog/internal/di"
	"github.com/alpacahq/tracelog/internal/tracefile"
	"github.com/alpacahq/tracelog/metrics"
	"github.com/alpacahq/tracelog/utils/log"
)

const (
	usage                 = "bench"
	short                 = "Append records to a trace log from concurrent producers"
	long                  = "This command measures append throughput of a trace log writer configured by a YAML file"
	example               = "tracelog bench -c tracelog.yml --goroutines 8 --records 100000"
	defaultConfigFilePath = "./tracelog.yml"
	configDesc            = "set the path for the trace log YAML configuration file"

	diskUsageMonitorInterval = time.Second
)

var (
	// Cmd is the bench command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"b"},
		Example: example,
		RunE:    executeBench,
	}
	configFilePath string
	goroutines     int
	records        int
	metricsListen  string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
	Cmd.Flags().IntVar(&goroutines, "goroutines", 4, "number of concurrent producers")
	Cmd.Flags().IntVar(&records, "records", 100000, "records appended by each producer")
	Cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve prometheus metrics on this address while running")
}

func executeBench(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := di.LoadConfig("", configFilePath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("failed to serve metrics - error: %v", err)
			}
		}()
		defer srv.Close()
		log.Info("serving metrics on %s/metrics", metricsListen)
	}

	c := di.NewContainer(cfg)
	defer c.Close()
	w, err := c.GetWriter()
	if err != nil {
		return err
	}
	path, _ := c.GetAbsPath()
	go metrics.StartDiskUsageMonitor(ctx, metrics.DiskUsageBytes, path, diskUsageMonitorInterval)

	log.Info("appending %d records from each of %d producers to %s", records, goroutines, path)
	res, err := tracefile.Bench(ctx, w, tracefile.BenchOptions{
		Goroutines: goroutines,
		Records:    records,
		Entries:    cfg.Schema.Table.Entries(),
	})
	if err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return err
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "records:        %d\n", res.Records)
	fmt.Fprintf(out, "elapsed:        %s\n", res.Elapsed)
	fmt.Fprintf(out, "records/sec:    %.0f\n", res.RecordsPerSecond())
	fmt.Fprintf(out, "retries:        %d\n", res.Stats.Retries)
	fmt.Fprintf(out, "rotations:      %d\n", res.Stats.Rotations)
	fmt.Fprintf(out, "write failures: %d\n", res.Stats.WriteFailures)
	fmt.Fprintf(out, "max in flight:  %d\n", res.Stats.MaxOutstanding)
	fmt.Fprintf(out, "file size:      %s\n", bytefmt.ByteSize(uint64(size)))
	return nil
}
