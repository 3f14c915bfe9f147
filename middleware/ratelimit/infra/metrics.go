package infra

import (
	"context"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa as métricas Prometheus do controle de admissão. Também
// implementa domain.StatsStore, então pode ser usado direto no middleware.
//
// Todos os métodos aceitam receptor nil.
type Metrics struct {
	Decisions    *prometheus.CounterVec
	Degradations *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by endpoint, outcome and backend.",
		}, []string{"endpoint", "outcome", "authenticated", "backend"}),
		Degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "store_degradations_total",
			Help:      "Times the distributed counter store fell back to a lower rung.",
		}, []string{"rung"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "admission",
			Name:      "store_latency_seconds",
			Help:      "Latency of successful counter store operations.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"backend"}),
	}
}

// Record implementa domain.StatsStore.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	if m == nil {
		return nil
	}
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(ev.Endpoint, outcome, strconv.FormatBool(ev.Authenticated), string(ev.Backend)).Inc()
	return nil
}

func (m *Metrics) degraded(to domain.Backend) {
	if m == nil {
		return
	}
	m.Degradations.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) observeStore(b domain.Backend, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(string(b)).Observe(d.Seconds())
}
