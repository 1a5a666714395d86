package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay and its workers
type Metrics struct {
	// Receiver metrics
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	Registrations     prometheus.Counter
	DatagramsQueued   prometheus.Counter
	QueueDrops        prometheus.Counter
	QueueSize         prometheus.Gauge

	// Membership metrics
	RegisteredClients prometheus.Gauge

	// Broadcaster metrics
	Broadcasts     prometheus.Counter
	SendsTotal     prometheus.Counter
	SendErrors     prometheus.Counter
	BroadcastDelay prometheus.Histogram

	// Worker metrics
	ChunksSent    prometheus.Counter
	FramesWritten prometheus.Counter
	DecodeErrors  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_received_total",
			Help: "Total number of UDP datagrams received by the relay",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_received_total",
			Help: "Total payload bytes received by the relay",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_registrations_total",
			Help: "Total number of init datagrams received, including repeats",
		}),
		DatagramsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_queued_total",
			Help: "Total number of datagrams placed on the delivery queue",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_queue_drops_total",
			Help: "Total number of datagrams evicted from a full delivery queue",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_queue_size",
			Help: "Current number of datagrams in the delivery queue",
		}),

		RegisteredClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_registered_clients",
			Help: "Current number of registered clients",
		}),

		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Total number of datagrams taken off the queue for broadcast",
		}),
		SendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sends_total",
			Help: "Total number of datagrams sent to clients",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_errors_total",
			Help: "Total number of failed sends to clients",
		}),
		BroadcastDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_broadcast_delay_seconds",
			Help:    "Time between receipt and broadcast of a datagram",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}),

		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_chunks_sent_total",
			Help: "Total number of file chunks sent by worker readers",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_frames_written_total",
			Help: "Total number of audio frames appended by worker writers",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_decode_errors_total",
			Help: "Total number of datagrams that failed diagnostic PCM decoding",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordReceived records one inbound datagram
func (m *Metrics) RecordReceived(size int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(size))
}

// RecordRegistration records an init datagram and the resulting client count
func (m *Metrics) RecordRegistration(clients int) {
	m.Registrations.Inc()
	m.RegisteredClients.Set(float64(clients))
}

// RecordQueued records an enqueued datagram
func (m *Metrics) RecordQueued(queueSize int) {
	m.DatagramsQueued.Inc()
	m.QueueSize.Set(float64(queueSize))
}

// RecordDrops adds newly evicted datagrams
func (m *Metrics) RecordDrops(n uint64) {
	if n > 0 {
		m.QueueDrops.Add(float64(n))
	}
}

// RecordBroadcast records one dequeued datagram and its fan-out
func (m *Metrics) RecordBroadcast(delaySeconds float64, sent, failed int, queueSize int) {
	m.Broadcasts.Inc()
	m.SendsTotal.Add(float64(sent))
	m.SendErrors.Add(float64(failed))
	m.BroadcastDelay.Observe(delaySeconds)
	m.QueueSize.Set(float64(queueSize))
}

// RecordChunkSent increments the worker chunk counter
func (m *Metrics) RecordChunkSent() {
	m.ChunksSent.Inc()
}

// RecordFramesWritten adds appended audio frames
func (m *Metrics) RecordFramesWritten(frames int) {
	m.FramesWritten.Add(float64(frames))
}

// RecordDecodeError increments the diagnostic decode failure counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// CounterTotals gathers g and sums the counters whose names start with prefix,
// keyed by metric name. Non-counter families are skipped.
func CounterTotals(g prometheus.Gatherer, prefix string) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	totals := make(map[string]float64)
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				totals[mf.GetName()] += counter.GetValue()
			}
		}
	}

	return totals, nil
}
