// Package metrics exposes relay counters and gauges to Prometheus.
// All methods are safe on a nil *Metrics so tests can leave it out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "signalrelay"

type Metrics struct {
	authFailures    *prometheus.CounterVec
	relayed         *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	closed          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected authentication attempts.",
		}, []string{"reason"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Signaling messages forwarded to a session peer.",
		}, []string{"type"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Non-fatal error replies sent to clients.",
		}, []string{"kind"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions paired by the matchmaker.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions torn down, by reason.",
		}, []string{"reason"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Connections closed, by close reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.authFailures, m.relayed, m.protocolErrors, m.sessionsCreated, m.sessionsEnded, m.closed)
	return m
}

func (m *Metrics) AuthFailed(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Relayed(msgType string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(reason).Inc()
}

// Stats is the aggregate view served by the health endpoint.
type Stats struct {
	Connections      int `json:"connections"`
	Sessions         int `json:"sessions"`
	Devices          int `json:"devices"`
	ReachableDevices int `json:"reachableDevices"`
}

// RegisterGauges exposes src as gauges pulled on every scrape.
func RegisterGauges(reg prometheus.Registerer, src func() Stats) {
	gauge := func(name, help string, pick func(Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(src())) })
	}
	reg.MustRegister(
		gauge("live_connections", "Open signaling connections.", func(s Stats) int { return s.Connections }),
		gauge("active_sessions", "Sessions currently bound.", func(s Stats) int { return s.Sessions }),
		gauge("registered_devices", "Device records in the registry.", func(s Stats) int { return s.Devices }),
		gauge("reachable_devices", "Devices with a live claiming connection.", func(s Stats) int { return s.ReachableDevices }),
	)
}
