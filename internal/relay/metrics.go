package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/voice-relay/internal/framelog"
)

// Session outcomes recorded in relay_sessions_total.
const (
	OutcomeCompleted         = "completed"
	OutcomePersistenceFailed = "persistence_failed"
	OutcomeClientClosed      = "client_closed"
	OutcomeUpstreamClosed    = "upstream_closed"
	OutcomeFailed            = "failed"
	OutcomeShutdown          = "shutdown"
)

// Frame directions used as metric labels.
const (
	DirClientToUpstream = framelog.ClientToUpstream
	DirUpstreamToClient = framelog.UpstreamToClient
	DirRelayToUpstream  = framelog.RelayToUpstream
	DirRelayToClient    = framelog.RelayToClient
	DirClientToRelay    = framelog.ClientToRelay
	DirUpstreamToRelay  = framelog.UpstreamToRelay
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	upstreamConnect prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Relay sessions currently open.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Relay sessions ended, by outcome.",
		}, []string{"outcome"}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Frames relayed, by direction and message kind.",
		}, []string{"direction", "kind"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Frames not relayed, by direction and reason.",
		}, []string{"direction", "reason"}),
		upstreamConnect: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_upstream_connect_seconds",
			Help:    "Time to open the upstream connection.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessionsActive, m.sessionsTotal, m.framesTotal, m.framesDropped, m.upstreamConnect)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionClosed(outcome string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) frame(direction, kind string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) dropped(direction, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) upstreamConnected(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamConnect.Observe(elapsed.Seconds())
}
