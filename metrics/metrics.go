package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "tracelog"

var (
	// AppendsTotal stores the number of records appended to trace logs
	AppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "appends_total",
		Help:      "Number of records appended",
	})

	// AppendRetriesTotal stores the number of times an append backed off
	// because the current buffer was being rotated
	AppendRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_retries_total",
		Help:      "Number of append attempts retried during buffer rotation",
	})

	// RotationsTotal stores the number of buffers retired to I/O
	RotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "buffer_rotations_total",
		Help:      "Number of write buffers handed to I/O",
	})

	// WriteFailuresTotal stores the number of failed buffer writes
	WriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "write_failures_total",
		Help:      "Number of buffer writes that completed with an error",
	})

	// OutstandingWrites stores the number of buffer writes in flight
	OutstandingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "outstanding_writes",
		Help:      "Number of buffer writes issued and not yet completed",
	})

	// ReadIOsTotal stores the number of read-ahead reads issued by readers
	ReadIOsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "read_ios_total",
		Help:      "Number of read-ahead reads issued",
	})

	// RecordsReadTotal stores the number of records decoded by readers
	RecordsReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "records_read_total",
		Help:      "Number of records decoded",
	})

	// AppendDuration stores the latency of appends measured by the bench command
	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_duration_seconds",
		Help:      "Append latency observed by the bench command",
		Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
	})

	// DiskUsageBytes stores the space allocated to the trace log file
	DiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_bytes",
		Help:      "Bytes allocated on disk to the trace log",
	})
)
