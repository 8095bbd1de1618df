// Package metrics turns an ice.Agent's event stream into Prometheus
// series, grounded on the teacher's server_metrics.go noop/prom split.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gortc/iceagentd/ice"
)

// Metrics is the narrow interface the rest of the daemon depends on,
// so wiring a real registry or a noop is a one-line swap.
type Metrics interface {
	Observe(ice.Event)
}

type noopMetrics struct{}

// NewNoop returns a Metrics that discards every event.
func NewNoop() Metrics { return noopMetrics{} }

func (noopMetrics) Observe(ice.Event) {}

// promMetrics is a prometheus.Collector that counts ICE lifecycle
// events: local and remote candidates, finished gatherings, selected
// pairs, component state transitions by resulting state, and first
// inbound Binding requests.
type promMetrics struct {
	candidates        *prometheus.CounterVec
	gatheringDone     prometheus.Counter
	selectedPairs     prometheus.Counter
	componentStates   *prometheus.CounterVec
	initialBindingReq prometheus.Counter
}

// NewProm builds a Metrics backed by Prometheus counters, labelled with
// labels (e.g. an instance or listener name), per SPEC_FULL.md §10.1's
// domain-stack wiring for prometheus/client_golang.
func NewProm(labels prometheus.Labels) Metrics {
	return &promMetrics{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iceagentd_candidates_total",
			Help:        "Candidates learned, labelled local or remote",
			ConstLabels: labels,
		}, []string{"type"}),
		gatheringDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagentd_gathering_complete_total",
			Help:        "Times candidate gathering finished for a component",
			ConstLabels: labels,
		}),
		selectedPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagentd_selected_pairs_total",
			Help:        "Candidate pairs nominated and selected",
			ConstLabels: labels,
		}),
		componentStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iceagentd_component_state_transitions_total",
			Help:        "Component state transitions, labelled by resulting state",
			ConstLabels: labels,
		}, []string{"state"}),
		initialBindingReq: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "iceagentd_initial_binding_requests_total",
			Help:        "Streams that received their first inbound Binding request",
			ConstLabels: labels,
		}),
	}
}

func (m *promMetrics) Describe(d chan<- *prometheus.Desc) {
	m.candidates.Describe(d)
	d <- m.gatheringDone.Desc()
	d <- m.selectedPairs.Desc()
	m.componentStates.Describe(d)
	d <- m.initialBindingReq.Desc()
}

func (m *promMetrics) Collect(c chan<- prometheus.Metric) {
	m.candidates.Collect(c)
	m.gatheringDone.Collect(c)
	m.selectedPairs.Collect(c)
	m.componentStates.Collect(c)
	m.initialBindingReq.Collect(c)
}

func (m *promMetrics) Observe(e ice.Event) {
	switch e.Kind {
	case ice.EventNewCandidate:
		m.candidates.WithLabelValues("local").Inc()
	case ice.EventNewRemoteCandidate:
		m.candidates.WithLabelValues("remote").Inc()
	case ice.EventCandidateGatheringDone:
		m.gatheringDone.Inc()
	case ice.EventNewSelectedPair:
		m.selectedPairs.Inc()
	case ice.EventComponentStateChanged:
		m.componentStates.WithLabelValues(e.State.String()).Inc()
	case ice.EventInitialBindingRequestReceived:
		m.initialBindingReq.Inc()
	}
}
