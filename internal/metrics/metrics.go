// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every collector the broker updates.
type Registry struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsRejected prometheus.Counter
	Reconnects          prometheus.Counter

	SubscribeTotal       prometheus.Counter
	UnsubscribeTotal     prometheus.Counter
	SubscribeErrors      prometheus.Counter
	UnsubscribeErrors    prometheus.Counter

	PublishesReceived  prometheus.Counter
	PublishesDelivered prometheus.Counter
	PublishFanoutSize  prometheus.Histogram

	ProtocolViolations prometheus.Counter

	CPUPercent    prometheus.Gauge
	MemoryRSSByte prometheus.Gauge
}

// New registers and returns the broker's collectors.
func New() *Registry {
	return &Registry{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "broker_connections_active",
			Help: "Number of TCP subscribers currently connected.",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_connections_total",
			Help: "Total TCP handshakes accepted.",
		}),
		ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_connections_rejected_total",
			Help: "TCP handshakes rejected by admission control or duplicate id.",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Clients that reclaimed an inactive session by id.",
		}),
		SubscribeTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_subscribe_total",
			Help: "SUBSCRIBE frames processed successfully.",
		}),
		UnsubscribeTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_unsubscribe_total",
			Help: "UNSUBSCRIBE frames processed successfully.",
		}),
		SubscribeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_subscribe_errors_total",
			Help: "SUBSCRIBE frames rejected by the trie.",
		}),
		UnsubscribeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_unsubscribe_errors_total",
			Help: "UNSUBSCRIBE frames rejected by the trie.",
		}),
		PublishesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_publishes_received_total",
			Help: "UDP publication datagrams received.",
		}),
		PublishesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_publishes_delivered_total",
			Help: "PUBLISH frames delivered to subscribers.",
		}),
		PublishFanoutSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_publish_fanout_size",
			Help:    "Active subscribers a publication was delivered to.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ProtocolViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_protocol_violations_total",
			Help: "Sessions torn down for oversized frames.",
		}),
		CPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "broker_process_cpu_percent",
			Help: "Process CPU utilization sampled by gopsutil.",
		}),
		MemoryRSSByte: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "broker_process_memory_rss_bytes",
			Help: "Process resident set size sampled by gopsutil.",
		}),
	}
}

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
