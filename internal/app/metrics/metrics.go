package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "overlandd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "overlandd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ingestBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of upload batches by outcome.",
		},
		[]string{"status"},
	)

	ingestLocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "ingest",
			Name:      "locations_total",
			Help:      "Total number of location points accepted.",
		},
	)

	ingestPayloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "overlandd",
			Subsystem: "ingest",
			Name:      "payload_bytes",
			Help:      "Size of accepted upload payloads.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10), // 256B to ~64MB
		},
	)

	journalAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "journal",
			Name:      "appends_total",
			Help:      "Total number of journal append attempts.",
		},
		[]string{"status"},
	)

	journalSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "overlandd",
			Subsystem: "journal",
			Name:      "size_bytes",
			Help:      "Current size of the active journal file.",
		},
	)

	journalRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "journal",
			Name:      "rotations_total",
			Help:      "Total number of journal rotations.",
		},
	)

	archiveInserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "archive",
			Name:      "inserts_total",
			Help:      "Total number of archive insert attempts.",
		},
		[]string{"status"},
	)

	forwardDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "forward",
			Name:      "deliveries_total",
			Help:      "Total number of forwarder delivery outcomes.",
		},
		[]string{"status"},
	)

	forwardQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "overlandd",
			Subsystem: "forward",
			Name:      "queue_depth",
			Help:      "Current number of batches waiting to be forwarded.",
		},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "overlandd",
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Current number of connected stream subscribers.",
		},
	)

	streamDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "overlandd",
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Total number of stream messages dropped on slow subscribers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ingestBatches,
		ingestLocations,
		ingestPayloadBytes,
		journalAppends,
		journalSize,
		journalRotations,
		archiveInserts,
		forwardDeliveries,
		forwardQueueDepth,
		streamClients,
		streamDropped,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordIngest records the outcome of one upload attempt. Locations and bytes
// are only observed for accepted batches.
func RecordIngest(status string, locations int, payloadBytes int) {
	if status == "" {
		status = "unknown"
	}
	ingestBatches.WithLabelValues(status).Inc()
	if status == "accepted" {
		ingestLocations.Add(float64(locations))
		ingestPayloadBytes.Observe(float64(payloadBytes))
	}
}

// RecordJournalAppend records an append attempt and the resulting file size.
func RecordJournalAppend(err error, sizeBytes int64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	journalAppends.WithLabelValues(status).Inc()
	if err == nil {
		journalSize.Set(float64(sizeBytes))
	}
}

// RecordJournalRotation counts one completed rotation and resets the size.
func RecordJournalRotation(sizeBytes int64) {
	journalRotations.Inc()
	journalSize.Set(float64(sizeBytes))
}

// RecordArchiveInsert records an archive write outcome.
func RecordArchiveInsert(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	archiveInserts.WithLabelValues(status).Inc()
}

// RecordForward records a forwarder delivery outcome: delivered, dropped or
// failed.
func RecordForward(status string) {
	if status == "" {
		status = "unknown"
	}
	forwardDeliveries.WithLabelValues(status).Inc()
}

// SetForwardQueueDepth publishes the current forwarder backlog.
func SetForwardQueueDepth(depth int) {
	forwardQueueDepth.Set(float64(depth))
}

// StreamClientConnected increments the subscriber gauge.
func StreamClientConnected() { streamClients.Inc() }

// StreamClientDisconnected decrements the subscriber gauge.
func StreamClientDisconnected() { streamClients.Dec() }

// RecordStreamDrop counts a message dropped on a slow subscriber.
func RecordStreamDrop() { streamDropped.Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController so
// connection hijacking (the WebSocket upgrade) keeps working through the
// instrumentation.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// canonicalPath collapses request paths to a bounded label set so per-device
// or per-token URLs cannot explode metric cardinality.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/api"
	}
	if parts[1] != "admin" {
		return "/api/" + parts[1]
	}
	if len(parts) == 2 {
		return "/api/admin"
	}
	return "/api/admin/" + parts[2]
}
