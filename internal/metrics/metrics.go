package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus instruments for the live session engine.
type Metrics struct {
	registry             *prometheus.Registry
	liveSessions         prometheus.Gauge
	connectedViewers     prometheus.Gauge
	viewersJoinedTotal   prometheus.Counter
	messagesBroadcast    prometheus.Counter
	messagesRejected     *prometheus.CounterVec
	messagesHeld         prometheus.Counter
	reactionsTotal       prometheus.Counter
	eventsDroppedTotal   prometheus.Counter
	reaperEvictionsTotal prometheus.Counter
}

// New creates and registers Prometheus metrics for the engine.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	liveSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_sessions",
		Help: "Number of sessions currently live on this instance",
	})
	connectedViewers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_connected_viewers",
		Help: "Viewers currently connected across all live sessions",
	})
	viewersJoinedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_viewers_joined_total",
		Help: "Total viewer join events",
	})
	messagesBroadcast := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_messages_broadcast_total",
		Help: "Total chat messages admitted and broadcast",
	})
	messagesRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "live_messages_rejected_total",
		Help: "Total chat messages rejected, by reason",
	}, []string{"reason"})
	messagesHeld := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_messages_held_total",
		Help: "Total chat messages held for host review",
	})
	reactionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_reactions_total",
		Help: "Total reactions broadcast",
	})
	eventsDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_events_dropped_total",
		Help: "Outbound events dropped for slow consumers",
	})
	reaperEvictionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_reaper_evictions_total",
		Help: "Viewer connections evicted by the liveness reaper",
	})

	registry.MustRegister(
		liveSessions,
		connectedViewers,
		viewersJoinedTotal,
		messagesBroadcast,
		messagesRejected,
		messagesHeld,
		reactionsTotal,
		eventsDroppedTotal,
		reaperEvictionsTotal,
	)

	return &Metrics{
		registry:             registry,
		liveSessions:         liveSessions,
		connectedViewers:     connectedViewers,
		viewersJoinedTotal:   viewersJoinedTotal,
		messagesBroadcast:    messagesBroadcast,
		messagesRejected:     messagesRejected,
		messagesHeld:         messagesHeld,
		reactionsTotal:       reactionsTotal,
		eventsDroppedTotal:   eventsDroppedTotal,
		reaperEvictionsTotal: reaperEvictionsTotal,
	}
}

// SessionStarted increments the live sessions gauge.
func (m *Metrics) SessionStarted() { m.liveSessions.Inc() }

// SessionEnded decrements the live sessions gauge.
func (m *Metrics) SessionEnded() { m.liveSessions.Dec() }

// ViewerJoined records a join.
func (m *Metrics) ViewerJoined() {
	m.viewersJoinedTotal.Inc()
	m.connectedViewers.Inc()
}

// ViewerLeft records a leave or eviction.
func (m *Metrics) ViewerLeft() { m.connectedViewers.Dec() }

// MessageBroadcast records an admitted message.
func (m *Metrics) MessageBroadcast() { m.messagesBroadcast.Inc() }

// MessageRejected records a rejected message by reason.
func (m *Metrics) MessageRejected(reason string) {
	m.messagesRejected.WithLabelValues(reason).Inc()
}

// MessageHeld records a message held for review.
func (m *Metrics) MessageHeld() { m.messagesHeld.Inc() }

// Reaction records one broadcast reaction.
func (m *Metrics) Reaction() { m.reactionsTotal.Inc() }

// EventsDropped records outbound events dropped for slow consumers.
func (m *Metrics) EventsDropped(n int) {
	if n > 0 {
		m.eventsDroppedTotal.Add(float64(n))
	}
}

// ReaperEvictions records viewers evicted by the liveness reaper.
func (m *Metrics) ReaperEvictions(n int) {
	if n > 0 {
		m.reaperEvictionsTotal.Add(float64(n))
	}
}

// Handler returns an http.Handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
