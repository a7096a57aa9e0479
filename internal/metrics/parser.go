// Package metrics exposes application metrics collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	parserRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "run_total",
		Help:      "Count of engine runs.",
	}, []string{"callback", "mode", "status"})

	parserRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "run_duration_seconds",
		Help:      "Duration of an engine run.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16), // 0.1s..~55m
	}, []string{"callback", "mode", "status"})

	parserHeaderScanTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "header_scan_total",
		Help:      "Count of header scan passes.",
	}, []string{"callback", "status"})

	parserHeaderScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "header_scan_duration_seconds",
		Help:      "Duration of a header scan pass.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"callback", "status"})

	parserHeaderScanFiles = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "header_scan_files",
		Help:      "Number of archive files read per header scan.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1..2048
	}, []string{"callback"})

	parserHeaderScanHeaders = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "header_scan_headers",
		Help:      "Number of canonical headers resolved per header scan.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 12), // 1..~4M
	}, []string{"callback"})

	parserDecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "decode_duration_seconds",
		Help:      "Duration of reading and decoding a single block.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"callback", "status"})

	parserDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockparser7000",
		Subsystem: "parser",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of delivering a single block to the callback.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"callback", "status"})
)

// Parser tracks metrics for the parsing engine, labelled by callback name.
type Parser struct {
	callback string
}

// NewParser constructs a Parser with sane defaults.
func NewParser(callback string) *Parser {
	if callback == "" {
		callback = "unknown"
	}
	return &Parser{callback: callback}
}

// ObserveRun records the outcome and duration of a whole engine run.
func (m Parser) ObserveRun(err error, mode string, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	parserRunTotal.WithLabelValues(m.callback, mode, status).Inc()
	parserRunDuration.WithLabelValues(m.callback, mode, status).
		Observe(time.Since(started).Seconds())
}

// ObserveHeaderScan records a header scan pass with its file and header counts.
func (m Parser) ObserveHeaderScan(err error, files, headers int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	parserHeaderScanTotal.WithLabelValues(m.callback, status).Inc()
	parserHeaderScanDuration.WithLabelValues(m.callback, status).
		Observe(time.Since(started).Seconds())
	parserHeaderScanFiles.WithLabelValues(m.callback).Observe(float64(files))
	parserHeaderScanHeaders.WithLabelValues(m.callback).Observe(float64(headers))
}

// ObserveDecode records decoding of a single block.
func (m Parser) ObserveDecode(err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	parserDecodeDuration.WithLabelValues(m.callback, status).
		Observe(time.Since(started).Seconds())
}

// ObserveDispatch records delivery of a single block to the callback.
func (m Parser) ObserveDispatch(err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	parserDispatchDuration.WithLabelValues(m.callback, status).
		Observe(time.Since(started).Seconds())
}
