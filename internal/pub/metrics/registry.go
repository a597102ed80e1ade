package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publisher metrics
	publishTotal *prometheus.CounterVec
	publishBytes *prometheus.CounterVec
	flushTotal   *prometheus.CounterVec

	// Transport metrics
	batchTotal    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchSize     *prometheus.HistogramVec
	batchBytes    *prometheus.HistogramVec

	// Controller/Database metrics
	databaseOperationTotal    *prometheus.CounterVec
	databaseOperationDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		// Publisher metrics
		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_messages_total",
				Help: "Total number of messages handed to the publisher",
			},
			[]string{"topic", "ordered"},
		),

		publishBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_message_bytes_total",
				Help: "Total batch bytes of messages handed to the publisher",
			},
			[]string{"topic"},
		),

		flushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_publisher_flush_total",
				Help: "Total number of explicit flushes",
			},
			[]string{"topic"},
		),

		// Transport metrics
		batchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_transport_batch_total",
				Help: "Total number of batches sent",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_batch_duration_seconds",
				Help:    "Time spent sending batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_batch_size",
				Help:    "Number of messages in sent batches",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"topic"},
		),

		batchBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_transport_batch_bytes",
				Help:    "Byte size of sent batches",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"topic"},
		),

		// Controller/Database metrics
		databaseOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_database_operation_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"}, // operation: reserve_offsets, insert_message
		),

		databaseOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_database_operation_duration_seconds",
				Help:    "Time spent on database operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		// System health metrics
		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register application metrics
	registry.MustRegister(
		r.publishTotal,
		r.publishBytes,
		r.flushTotal,
		r.batchTotal,
		r.batchDuration,
		r.batchSize,
		r.batchBytes,
		r.databaseOperationTotal,
		r.databaseOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	// Set start time
	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mostly for tests and for
// pushing to other exporters
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPublish records a message handed to a publisher
func (r *Registry) RecordPublish(topic string, ordered bool, size int) {
	r.publishTotal.WithLabelValues(topic, strconv.FormatBool(ordered)).Inc()
	r.publishBytes.WithLabelValues(topic).Add(float64(size))
}

// RecordFlush records an explicit flush
func (r *Registry) RecordFlush(topic string) {
	r.flushTotal.WithLabelValues(topic).Inc()
}

// RecordBatchSend records a transport send of one batch
func (r *Registry) RecordBatchSend(topic string, batchSize, batchBytes int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.batchTotal.WithLabelValues(topic, status).Inc()
	r.batchDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err == nil {
		r.batchSize.WithLabelValues(topic).Observe(float64(batchSize))
		r.batchBytes.WithLabelValues(topic).Observe(float64(batchBytes))
	}
}

// RecordDatabaseOperation records a database operation
func (r *Registry) RecordDatabaseOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.databaseOperationTotal.WithLabelValues(operation, status).Inc()
	r.databaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
