package p2ptransport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the transport-level Prometheus collectors, on an isolated
// registry so they never collide with pkg/overlay's own registry or the
// global default one (same isolation rationale as pkg/p2pnet/metrics.go).
type Metrics struct {
	Registry *prometheus.Registry

	StreamsOpened   *prometheus.CounterVec
	DialTotal       *prometheus.CounterVec
	HandshakeErrors *prometheus.CounterVec
}

// NewMetrics builds a Metrics instance registered on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		StreamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skytree_p2p_streams_opened_total",
			Help: "Overlay protocol streams opened, by direction.",
		}, []string{"direction"}),
		DialTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skytree_p2p_dial_total",
			Help: "Dial attempts to peers, by result.",
		}, []string{"result"}),
		HandshakeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skytree_p2p_handshake_errors_total",
			Help: "Metadata handshake failures on incoming or outgoing streams.",
		}, []string{"side"}),
	}
	reg.MustRegister(m.StreamsOpened, m.DialTotal, m.HandshakeErrors)
	return m
}
