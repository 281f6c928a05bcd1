// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames seen by the pipeline by outcome
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_frames_total",
			Help: "Total number of frames processed by the pipeline",
		},
		[]string{"result"}, // emitted | malformed | non_tcp | pending | untracked | dropped
	)

	// RecordsTotal counts analyzed records by classified application protocol
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_records_total",
			Help: "Total number of analyzed records emitted",
		},
		[]string{"app_protocol"},
	)

	// ReassemblyActiveSets tracks incomplete datagrams awaiting reassembly
	ReassemblyActiveSets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_reassembly_active_sets",
			Help: "Number of incomplete fragment sets held for reassembly",
		},
	)

	// ReassemblyExpiredTotal counts fragment sets dropped by timeout
	ReassemblyExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_reassembly_expired_total",
			Help: "Total number of fragment sets dropped after the reassembly timeout",
		},
	)

	// ReassemblyLimitTotal counts fragments rejected by reassembly limits
	ReassemblyLimitTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_reassembly_limit_total",
			Help: "Total number of fragments rejected by size or count limits",
		},
	)

	// StreamsActive tracks streams currently held in the stream table
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_streams_active",
			Help: "Number of TCP streams currently tracked",
		},
	)

	// StreamsCreatedTotal counts streams created from a SYN
	StreamsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_streams_created_total",
			Help: "Total number of TCP streams created",
		},
	)

	// StreamsRemovedTotal counts streams removed from the table by reason
	StreamsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_streams_removed_total",
			Help: "Total number of TCP streams removed from the table",
		},
		[]string{"reason"}, // closed | time_wait | handshake | idle
	)

	// StreamsRejectedTotal counts SYNs ignored because the table was full
	StreamsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_streams_rejected_total",
			Help: "Total number of new streams rejected because the table was full",
		},
	)

	// SinkInsertedTotal counts records accepted by the sink
	SinkInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_sink_inserted_total",
			Help: "Total number of records inserted into the sink",
		},
		[]string{"sink"},
	)

	// SinkDroppedTotal counts records that never reached the sink
	SinkDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_sink_dropped_total",
			Help: "Total number of records dropped before reaching the sink",
		},
		[]string{"sink", "reason"}, // queue_full | closed | insert_failed
	)

	// SinkBatchSize tracks the number of rows per sink insert
	SinkBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowscope_sink_batch_size",
			Help:    "Number of rows sent per sink insert",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"sink"},
	)

	// CaptureStatus tracks the capture worker status
	CaptureStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_capture_status",
			Help: "Current capture worker status (0=idle, 1=capturing, 2=error)",
		},
	)
)

// CaptureStatus values
const (
	CaptureStatusIdle      = 0
	CaptureStatusCapturing = 1
	CaptureStatusError     = 2
)
