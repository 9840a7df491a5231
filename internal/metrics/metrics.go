package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "connections_active",
		Help:      "Users with a routed websocket connection.",
	})

	SlowClientsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "slow_clients_dropped_total",
		Help:      "Connections closed because their outbound buffer stayed full.",
	})

	EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_emitted_total",
		Help:      "Outbound events enqueued to connections.",
	}, []string{"event"})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "inbound_events_total",
		Help:      "Inbound websocket events by type and result code.",
	}, []string{"event", "result"})

	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "status_transitions_total",
		Help:      "Applied message status transitions.",
	}, []string{"scope", "status"})

	PresenceSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "presence_snapshots_total",
		Help:      "Presence snapshots broadcast to all connections.",
	})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "rate_limited_total",
		Help:      "Actions rejected by a rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		SlowClientsDropped,
		EventsEmitted,
		InboundEvents,
		StatusTransitions,
		PresenceSnapshots,
		RateLimited,
	)
}

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
