package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "copilot"

// Completion outcomes used as the "outcome" label.
const (
	OutcomeSuccess            = "success"
	OutcomeRateLimitExhausted = "rate_limit_exhausted"
	OutcomeServiceError       = "service_error"
	OutcomeOverflow           = "overflow"
	OutcomeCanceled           = "canceled"
)

// Metrics holds the prometheus collectors for conversation sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sends          *prometheus.CounterVec
	retries        prometheus.Counter
	truncations    prometheus.Counter
	budgetWarnings prometheus.Counter
	tokensUsed     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sends_total",
			Help:      "Conversation sends by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_retries_total",
			Help:      "Completion calls retried after the service rate limited them.",
		}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_truncations_total",
			Help:      "Messages dropped from conversation history to fit the context window.",
		}),
		budgetWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_budget_warnings_total",
			Help:      "Replies returned with a context window budget warning.",
		}),
		tokensUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_used",
			Help:      "Token usage reported by the most recent successful completion.",
		}),
	}

	for _, c := range []prometheus.Collector{m.sends, m.retries, m.truncations, m.budgetWarnings, m.tokensUsed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveSend counts a finished send with the given outcome.
func (m *Metrics) ObserveSend(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveTruncation() {
	if m == nil {
		return
	}
	m.truncations.Inc()
}

func (m *Metrics) ObserveBudgetWarning() {
	if m == nil {
		return
	}
	m.budgetWarnings.Inc()
}

// SetTokensUsed records the latest service reported usage.
func (m *Metrics) SetTokensUsed(tokens int) {
	if m == nil {
		return
	}
	m.tokensUsed.Set(float64(tokens))
}
