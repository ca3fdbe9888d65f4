// Package metrics exposes Prometheus collectors for the gateway.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections    prometheus.Gauge
	OnlineUsers    prometheus.Gauge
	AuthFailures   prometheus.Counter
	EventsReceived *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	SlowKicks      prometheus.Counter
	ActiveCalls    prometheus.Gauge
	CallsStarted   prometheus.Counter
	CallsEnded     *prometheus.CounterVec
	SignalsRelayed prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Current number of authenticated websocket connections",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Current number of users with at least one live connection",
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_auth_failures_total",
			Help: "Connections closed because the credential was rejected",
		}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_events_received_total",
			Help: "Inbound client events by type",
		}, []string{"type"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_events_dropped_total",
			Help: "Outbound events dropped on a full or closed send queue",
		}),
		SlowKicks: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_slow_consumer_kicks_total",
			Help: "Connections closed by the backpressure policy",
		}),
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_calls_active",
			Help: "Calls currently ringing or active",
		}),
		CallsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_calls_started_total",
			Help: "Calls that reached the active state",
		}),
		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_calls_ended_total",
			Help: "Ended calls by reason",
		}, []string{"reason"}),
		SignalsRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_calls_signals_relayed_total",
			Help: "WebRTC signaling messages delivered to a peer",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) SlowConsumerKicked() {
	if m == nil {
		return
	}
	m.SlowKicks.Inc()
}

func (m *Metrics) CallCreated() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.CallsStarted.Inc()
}

func (m *Metrics) CallEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) SignalRelayed() {
	if m == nil {
		return
	}
	m.SignalsRelayed.Inc()
}
