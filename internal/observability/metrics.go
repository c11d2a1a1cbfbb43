package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	QuestionsTotal    *prometheus.CounterVec
	DecisionsTotal    *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	TokensIssued      prometheus.Counter
	StoreErrors       prometheus.Counter
	GenerationSeconds prometheus.Histogram
	ExecutionSeconds  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QuestionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Submitted questions by outcome kind.",
		}, []string{"outcome"}),
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decision actions by action and result.",
		}, []string{"action", "result"}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_commands_total",
			Help:      "Memory commands by name.",
		}, []string{"command"}),
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_tokens_issued_total",
			Help:      "Decision tokens handed to callers.",
		}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_store_errors_total",
			Help:      "Memory store failures, including degraded reads.",
		}),
		GenerationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_seconds",
			Help:      "Query generation latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		ExecutionSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Approved query execution latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.GenerationSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObserveExecution(d time.Duration) {
	m.ExecutionSeconds.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
