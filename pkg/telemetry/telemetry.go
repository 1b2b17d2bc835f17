package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the messaging core. Registered on the default
// registry; the router exposes them on /metrics.
var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrixx_messages_sent_total",
		Help: "Messages accepted by the dispatch engine, by kind.",
	}, []string{"kind"})

	MessagesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrixx_messages_swept_total",
		Help: "Expired messages removed by the sweeper.",
	})

	BroadcastsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrixx_broadcasts_delivered_total",
		Help: "Events delivered to live connections.",
	})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrixx_broadcasts_dropped_total",
		Help: "Events dropped because a client send buffer was full.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrixx_connected_clients",
		Help: "Live websocket connections.",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrixx_cache_hits_total",
		Help: "Cache lookups served from redis.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrixx_cache_misses_total",
		Help: "Cache lookups that fell through to the store.",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrixx_notifications_sent_total",
		Help: "Offline notification fan-outs handed to the sender.",
	})
)
