// Package metrics provides Prometheus instrumentation for the Parley chat
// engine. It exposes gauges for connection, presence, and room counts,
// counters for message throughput, and histograms for delivery latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of identified online users.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_online_users",
		Help: "Current number of identified online users",
	})

	// ActiveRooms tracks the current number of rooms with at least one member.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_active_rooms",
		Help: "Current number of rooms with at least one subscribed connection",
	})

	// MessagesTotal counts the total number of messages processed, labeled by
	// type: "direct", "room", or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"}) // type = "direct", "room", "blocked"

	// DeliveryLatency records end-to-end send latency, from receipt of a
	// send-message event to completion of delivery fan-out, in seconds.
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_delivery_latency_seconds",
		Help:    "Message delivery latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TypingEventsTotal counts typing indicator events relayed.
	TypingEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_typing_events_total",
		Help: "Total number of typing indicator events relayed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		ActiveRooms,
		MessagesTotal,
		DeliveryLatency,
		TypingEventsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
