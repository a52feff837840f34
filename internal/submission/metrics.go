package submission

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	outcomes *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "submission_outcomes_total",
		Help: "Finished submission flows by terminal state.",
	}, []string{"state"})}
	if reg != nil {
		reg.MustRegister(m.outcomes)
	}
	return m
}

func (m *Metrics) observe(s State) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(s.String()).Inc()
}
