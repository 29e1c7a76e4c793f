package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all pipeline-level metrics (not component-specific)
type Metrics struct {
	// Service metrics
	ServiceStatus     *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec

	// Change feed metrics
	RecordsConsumed  *prometheus.CounterVec
	RecordsFiltered  *prometheus.CounterVec
	RecordsMalformed *prometheus.CounterVec
	BatchSize        prometheus.Histogram

	// Broadcast metrics
	EventsEnriched    prometheus.Counter
	DeliveriesTotal   *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	ConnectionsPruned prometheus.Counter
	BroadcastDuration prometheus.Histogram

	// Catch-up query metrics
	CatchupQueries  prometheus.Counter
	CatchupDuration prometheus.Histogram

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agentroom",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agentroom",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		RecordsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "feed",
				Name:      "records_consumed_total",
				Help:      "Total change feed records consumed",
			},
			[]string{"partition"},
		),

		RecordsFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "feed",
				Name:      "records_filtered_total",
				Help:      "Total records rejected by the filter stage",
			},
			[]string{"reason"},
		),

		RecordsMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "feed",
				Name:      "records_malformed_total",
				Help:      "Total records skipped as malformed",
			},
			[]string{"stage"},
		),

		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentroom",
				Subsystem: "feed",
				Name:      "batch_size",
				Help:      "Number of records per consumed batch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),

		EventsEnriched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "pipeline",
				Name:      "events_enriched_total",
				Help:      "Total display events produced by the enrichment stage",
			},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "broadcast",
				Name:      "deliveries_total",
				Help:      "Total delivery attempts by outcome",
			},
			[]string{"status"},
		),

		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentroom",
				Subsystem: "broadcast",
				Name:      "connections_active",
				Help:      "Active connections at the last broadcast",
			},
		),

		ConnectionsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "broadcast",
				Name:      "connections_pruned_total",
				Help:      "Total connections pruned after gone deliveries",
			},
		),

		BroadcastDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentroom",
				Subsystem: "broadcast",
				Name:      "duration_seconds",
				Help:      "Broadcast fan-out duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		CatchupQueries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "catchup",
				Name:      "queries_total",
				Help:      "Total catch-up queries served",
			},
		),

		CatchupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentroom",
				Subsystem: "catchup",
				Name:      "duration_seconds",
				Help:      "Catch-up query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentroom",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentroom",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentroom",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentroom",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordRecordConsumed increments the consumed record counter
func (c *Metrics) RecordRecordConsumed(partition string) {
	c.RecordsConsumed.WithLabelValues(partition).Inc()
}

// RecordRecordFiltered increments the filtered record counter
func (c *Metrics) RecordRecordFiltered(reason string) {
	c.RecordsFiltered.WithLabelValues(reason).Inc()
}

// RecordRecordMalformed increments the malformed record counter
func (c *Metrics) RecordRecordMalformed(stage string) {
	c.RecordsMalformed.WithLabelValues(stage).Inc()
}

// RecordBatch observes the size of a consumed batch
func (c *Metrics) RecordBatch(size int) {
	c.BatchSize.Observe(float64(size))
}

// RecordEventEnriched increments the enriched event counter
func (c *Metrics) RecordEventEnriched() {
	c.EventsEnriched.Inc()
}

// RecordDelivery increments the delivery counter for an outcome
// (ok, gone, transient)
func (c *Metrics) RecordDelivery(status string) {
	c.DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordBroadcast observes a fan-out pass
func (c *Metrics) RecordBroadcast(connections, pruned int, duration time.Duration) {
	c.ConnectionsActive.Set(float64(connections))
	c.ConnectionsPruned.Add(float64(pruned))
	c.BroadcastDuration.Observe(duration.Seconds())
}

// RecordCatchupQuery observes a catch-up query
func (c *Metrics) RecordCatchupQuery(duration time.Duration) {
	c.CatchupQueries.Inc()
	c.CatchupDuration.Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
