package prometheus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/randomfile/pkg/randomfile"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "randomfile"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Append metrics
	AppendsTotal         *prometheus.CounterVec
	AppendBytesTotal     *prometheus.CounterVec
	AppendsRejectedTotal *prometheus.CounterVec
	PersistedBytesTotal  *prometheus.CounterVec
	BytesWritten         *prometheus.GaugeVec
	WriterErrorsTotal    *prometheus.CounterVec

	// Queue metrics, refreshed from Stats
	QueuedJobs  *prometheus.GaugeVec
	QueuedBytes *prometheus.GaugeVec

	// Read path metrics
	GetsTotal       *prometheus.CounterVec
	GetDuration     *prometheus.HistogramVec
	GrowsTotal      *prometheus.CounterVec
	GrownBytesTotal *prometheus.CounterVec
	RemapsTotal     *prometheus.CounterVec
	MappedBytes     *prometheus.GaugeVec
	LiveMappings    *prometheus.GaugeVec

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	m := &Metrics{
		AppendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_appends_total",
				Help: "Total number of accepted appends",
			},
			[]string{"file", "mode"}, // mode: queued, direct
		),
		AppendBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_append_bytes_total",
				Help: "Total bytes accepted by appends",
			},
			[]string{"file", "mode"},
		),
		AppendsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_appends_rejected_total",
				Help: "Total number of rejected queued appends",
			},
			[]string{"file", "reason"}, // reason: backpressure, closed, poisoned, other
		),
		PersistedBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_persisted_bytes_total",
				Help: "Total bytes written by the writer goroutine",
			},
			[]string{"file"},
		),
		BytesWritten: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randomfile_bytes_written",
				Help: "Current write cursor",
			},
			[]string{"file"},
		),
		WriterErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_writer_errors_total",
				Help: "Total number of writer failures (the queue is poisoned after the first)",
			},
			[]string{"file"},
		),
		QueuedJobs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randomfile_queued_jobs",
				Help: "Appends accepted but not yet written",
			},
			[]string{"file"},
		),
		QueuedBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randomfile_queued_bytes",
				Help: "Bytes accepted but not yet written",
			},
			[]string{"file"},
		),
		GetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_gets_total",
				Help: "Total number of Get calls",
			},
			[]string{"file", "policy", "result"}, // result: ok, out_of_range, closed, canceled, error
		),
		GetDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randomfile_get_duration_seconds",
				Help:    "Get latency in seconds, including time spent waiting",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"file", "policy"},
		),
		GrowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_grows_total",
				Help: "Total number of zero-fill grows",
			},
			[]string{"file"},
		),
		GrownBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_grown_bytes_total",
				Help: "Total bytes added by zero-fill grows",
			},
			[]string{"file"},
		),
		RemapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_remaps_total",
				Help: "Total number of mappings created",
			},
			[]string{"file"},
		),
		MappedBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randomfile_mapped_bytes",
				Help: "Bytes mapped by live mappings, current and retained by views",
			},
			[]string{"file"},
		),
		LiveMappings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randomfile_live_mappings",
				Help: "Mappings not yet unmapped",
			},
			[]string{"file"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomfile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randomfile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// UpdateStats refreshes gauges that are only known from a snapshot.
func (m *Metrics) UpdateStats(st randomfile.Stats) {
	m.BytesWritten.WithLabelValues(st.FileID).Set(float64(st.BytesWritten))
	m.QueuedJobs.WithLabelValues(st.FileID).Set(float64(st.Queue.QueuedJobs))
	m.QueuedBytes.WithLabelValues(st.FileID).Set(float64(st.Queue.QueuedBytes))
	m.MappedBytes.WithLabelValues(st.FileID).Set(float64(st.Mappings.MappedBytes))
	m.LiveMappings.WithLabelValues(st.FileID).Set(float64(st.Mappings.LiveMappings))
}

// Observer returns a randomfile.Observer that records into m.
func (m *Metrics) Observer() randomfile.Observer {
	return &observer{m: m}
}

type observer struct {
	m *Metrics
}

func (o *observer) OnAppendEnqueued(i randomfile.AppendInfo) {
	o.m.AppendsTotal.WithLabelValues(i.FileID, "queued").Inc()
	o.m.AppendBytesTotal.WithLabelValues(i.FileID, "queued").Add(float64(i.Bytes))
}

func (o *observer) OnAppendPersisted(i randomfile.PersistInfo) {
	o.m.PersistedBytesTotal.WithLabelValues(i.FileID).Add(float64(i.Bytes))
	o.m.BytesWritten.WithLabelValues(i.FileID).Set(float64(i.Cursor))
}

func (o *observer) OnAppendRejected(i randomfile.RejectInfo) {
	o.m.AppendsRejectedTotal.WithLabelValues(i.FileID, rejectReason(i.Err)).Inc()
}

func (o *observer) OnDirectAppend(i randomfile.AppendInfo) {
	o.m.AppendsTotal.WithLabelValues(i.FileID, "direct").Inc()
	o.m.AppendBytesTotal.WithLabelValues(i.FileID, "direct").Add(float64(i.Bytes))
}

func (o *observer) OnGrow(i randomfile.GrowInfo) {
	o.m.GrowsTotal.WithLabelValues(i.FileID).Inc()
	o.m.GrownBytesTotal.WithLabelValues(i.FileID).Add(float64(i.To - i.From))
}

func (o *observer) OnRemap(i randomfile.RemapInfo) {
	o.m.RemapsTotal.WithLabelValues(i.FileID).Inc()
}

func (o *observer) OnGet(i randomfile.GetInfo) {
	policy := i.Policy.String()
	o.m.GetsTotal.WithLabelValues(i.FileID, policy, getResult(i.Err)).Inc()
	o.m.GetDuration.WithLabelValues(i.FileID, policy).Observe(i.Duration.Seconds())
}

func (o *observer) OnWriterError(i randomfile.WriterErrorInfo) {
	o.m.WriterErrorsTotal.WithLabelValues(i.FileID).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, randomfile.ErrBackpressure):
		return "backpressure"
	case errors.Is(err, randomfile.ErrClosed):
		return "closed"
	case errors.Is(err, randomfile.ErrPoisoned):
		return "poisoned"
	default:
		return "other"
	}
}

func getResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, randomfile.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, randomfile.ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
