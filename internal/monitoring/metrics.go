package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the §6 "observability hooks": total/active
// connections, total messages/bytes, active channels, delivery latency.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_connections_total",
		Help: "Total number of connections accepted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_connections_active",
		Help: "Current number of active connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_connections_rejected_total",
		Help: "Total connections rejected by admission control, by reason",
	}, []string{"reason"})

	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})

	ChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_channels_active",
		Help: "Current number of channels with at least one subscriber",
	})

	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_subscriptions_active",
		Help: "Current total subscriber count across all channels",
	})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_messages_received_total",
		Help: "Total frames received from clients",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_messages_sent_total",
		Help: "Total frames sent to clients",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_bytes_received_total",
		Help: "Total bytes received from clients",
	})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_bytes_sent_total",
		Help: "Total bytes sent to clients",
	})

	PublishesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_publishes_total",
		Help: "Total publish operations accepted by the router",
	})

	SlowSubscribersDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_slow_subscribers_disconnected_total",
		Help: "Total connections disconnected for lagging behind their broadcast queue",
	})

	DeliveryLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_delivery_latency_seconds",
		Help:    "Latency from publish acceptance to dequeue by a subscriber's fanout task, one sample per subscriber",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16), // 50us .. ~1.6s
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_cpu_usage_percent",
		Help: "Host-wide CPU usage percent, as sampled by the resource guard",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_memory_usage_bytes",
		Help: "Process heap bytes allocated (Go runtime MemStats.Alloc), as sampled by the resource guard",
	})

	HostMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_host_memory_percent",
		Help: "Host-wide memory utilization percent, as sampled by the resource guard",
	})

	GoroutinesCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_goroutines_current",
		Help: "Current number of goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		Disconnects,
		ChannelsActive,
		SubscriptionsActive,
		MessagesReceived,
		MessagesSent,
		BytesReceived,
		BytesSent,
		PublishesTotal,
		SlowSubscribersDisconnected,
		DeliveryLatencySeconds,
		CPUUsagePercent,
		MemoryUsageBytes,
		HostMemoryPercent,
		GoroutinesCurrent,
	)
}

// HandleMetrics is the http.HandlerFunc for the /metrics endpoint.
var HandleMetrics = promhttp.Handler().ServeHTTP

// IncrementConnectionsRejected records an admission-control rejection by reason.
func IncrementConnectionsRejected(reason string) {
	ConnectionsRejected.WithLabelValues(reason).Inc()
}

// RecordDisconnect records a disconnection by reason.
func RecordDisconnect(reason string) {
	Disconnects.WithLabelValues(reason).Inc()
}
