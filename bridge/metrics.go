package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts sends and inbound activations. A nil *Metrics records
// nothing.
type Metrics struct {
	sends   *prometheus.CounterVec
	inbound *prometheus.CounterVec
	pending prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wxbridge",
			Name:      "sends_total",
			Help:      "Outbound sends by message kind and switch outcome.",
		}, []string{"kind", "outcome"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wxbridge",
			Name:      "inbound_total",
			Help:      "Inbound activations by routing result.",
		}, []string{"result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wxbridge",
			Name:      "pending_switches",
			Help:      "Sends whose switch to the peer has not settled.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.inbound, m.pending)
	}
	return m
}

// Send outcomes.
const (
	OutcomeSwitched = "switched"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Inbound results.
const (
	InboundRequest      = "request"
	InboundResponse     = "response"
	InboundBound        = "bound_response"
	InboundUnsupported  = "unsupported"
	InboundMalformed    = "malformed"
	InboundForeign      = "foreign"
	InboundUnregistered = "unregistered"
)

func (m *Metrics) send(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind.String(), outcome).Inc()
}

func (m *Metrics) received(result string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(result).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
