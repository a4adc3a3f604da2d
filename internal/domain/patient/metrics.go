package patient

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts workflow transitions and row-policy disagreements.
type Metrics struct {
	transitions *prometheus.CounterVec
	mismatches  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediclear",
				Name:      "patient_status_transitions_total",
				Help:      "Patient workflow status changes",
			},
			[]string{"from", "to"},
		),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediclear",
			Name:      "row_policy_mismatches_total",
			Help:      "Rows returned by the database that the in-process policy check rejected",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.mismatches)
	}
	return m
}

func (m *Metrics) transition(from, to Status) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) mismatch(n int) {
	if m == nil || n == 0 {
		return
	}
	m.mismatches.Add(float64(n))
}
