package overlay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the overlay engine's Prometheus collectors. Like the
// teacher's pkg/p2pnet.Metrics, it uses an isolated prometheus.Registry so
// that every Host/Node instance — and every test — gets its own counters
// rather than colliding on the global default registry.
type Metrics struct {
	Registry *prometheus.Registry

	StateTransitions  *prometheus.CounterVec // labels: from, to
	RainEmitted       prometheus.Counter
	RainDropped       *prometheus.CounterVec // labels: reason
	GameEventsEmitted prometheus.Counter
	GameEventsApplied *prometheus.CounterVec // labels: origin (parent, cousin-repair)
	DedupDrops        prometheus.Counter
	RateLimitDrops    prometheus.Counter
	RebindsTriggered  prometheus.Counter
	AttachAttempts    *prometheus.CounterVec // labels: outcome (accept, reject, timeout)
	ReqStateSent      prometheus.Counter
	TopologySize      prometheus.Gauge
	ChildrenCount     prometheus.Gauge
	CousinsCount      prometheus.Gauge
}

// NewMetrics builds a fresh, isolated Metrics instance.
func NewMetrics(role string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"role": role}

	m := &Metrics{
		Registry: reg,
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "skytree_state_transitions_total",
			Help:        "Node state machine transitions.",
			ConstLabels: labels,
		}, []string{"from", "to"}),
		RainEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "skytree_rain_emitted_total",
			Help:        "RAIN heartbeats emitted to children.",
			ConstLabels: labels,
		}),
		RainDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "skytree_rain_dropped_total",
			Help:        "RAIN heartbeats dropped (stale or duplicate).",
			ConstLabels: labels,
		}, []string{"reason"}),
		GameEventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "skytree_game_events_emitted_total",
			Help:        "GAME_EVENT messages emitted (broadcast or unicast).",
			ConstLabels: labels,
		}),
		GameEventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "skytree_game_events_applied_total",
			Help:        "GAME_EVENT entries applied to the local cache and callback.",
			ConstLabels: labels,
		}, []string{"origin"}),
		DedupDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "skytree_dedup_drops_total",
			Help:        "Messages dropped as duplicate msgIds.",
			ConstLabels: labels,
		}),
		RateLimitDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "skytree_rate_limit_drops_total",
			Help:        "Inbound connections or attach attempts rejected by the rate limiter.",
			ConstLabels: labels,
		}),
		RebindsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "skytree_rebinds_triggered_total",
			Help:        "REBIND_REQUEST messages sent after prolonged PATCHING.",
			ConstLabels: labels,
		}),
		AttachAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "skytree_attach_attempts_total",
			Help:        "Attach attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		ReqStateSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "skytree_req_state_sent_total",
			Help:        "REQ_STATE attempts during PATCHING, including throttled host fallbacks.",
			ConstLabels: labels,
		}),
		TopologySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "skytree_topology_size",
			Help:        "Number of descendants tracked (Host topology or Node subtree).",
			ConstLabels: labels,
		}),
		ChildrenCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "skytree_children_count",
			Help:        "Number of direct children currently attached.",
			ConstLabels: labels,
		}),
		CousinsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "skytree_cousins_count",
			Help:        "Number of cousin links currently established.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		m.StateTransitions, m.RainEmitted, m.RainDropped, m.GameEventsEmitted,
		m.GameEventsApplied, m.DedupDrops, m.RateLimitDrops, m.RebindsTriggered,
		m.AttachAttempts, m.ReqStateSent, m.TopologySize, m.ChildrenCount, m.CousinsCount,
	)
	return m
}

// Handler exposes the metrics registry over HTTP, for the Host's optional
// diagnostics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
