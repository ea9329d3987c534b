package infra

import (
	"context"
	"fmt"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe os eventos de uso como métricas Prometheus.
//
// Labels só usam o desfecho (cardinalidade fixa); identidades não viram label.
type PrometheusStatsStore struct {
	outcomes *prometheus.CounterVec
	requests prometheus.Counter
	errors   prometheus.Counter
	hits     prometheus.Counter
}

// NewPrometheusStatsStore registra as métricas em reg. Se active != nil, também
// publica um gauge com as identidades vivas no ledger.
func NewPrometheusStatsStore(reg prometheus.Registerer, active domain.ActiveCounter) (*PrometheusStatsStore, error) {
	s := &PrometheusStatsStore{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_outcomes_total",
			Help: "Terminal request outcomes by kind.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aigateway_requests_total",
			Help: "Requests served (denied requests excluded).",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aigateway_errors_total",
			Help: "Served requests that did not succeed.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aigateway_rate_limit_hits_total",
			Help: "Requests denied by the rate limiter.",
		}),
	}

	collectors := []prometheus.Collector{s.outcomes, s.requests, s.errors, s.hits}
	if active != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aigateway_active_identities",
			Help: "Identities currently tracked by the rate limit ledger.",
		}, func() float64 { return float64(active.Active()) }))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return s, nil
}

// Record implementa domain.StatsStore.
func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.outcomes.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.Outcome == domain.OutcomeDenied {
		s.hits.Inc()
		return nil
	}
	s.requests.Inc()
	if !ev.Outcome.Success() {
		s.errors.Inc()
	}
	return nil
}
