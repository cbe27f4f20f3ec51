package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	LLMCallsTotal   *prometheus.CounterVec
	LLMDuration     prometheus.Histogram
	ParseTotal      *prometheus.CounterVec
	GuardrailsTotal *prometheus.CounterVec
	RetrievalTotal  *prometheus.CounterVec
	RetrievalHits   prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teletriagem_runs_total",
			Help: "Total orchestration runs by terminal state.",
		}, []string{"state"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teletriagem_run_duration_seconds",
			Help:    "Duration of orchestration runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"state"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teletriagem_llm_calls_total",
			Help: "Total model completion calls by result.",
		}, []string{"result"}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teletriagem_llm_call_duration_seconds",
			Help:    "Duration of individual model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		ParseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teletriagem_parse_total",
			Help: "Model output parse outcomes.",
		}, []string{"result"}),
		GuardrailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teletriagem_guardrails_fired_total",
			Help: "Guardrail rule activations by rule id.",
		}, []string{"rule"}),
		RetrievalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teletriagem_retrieval_total",
			Help: "Knowledge base lookups by result.",
		}, []string{"result"}),
		RetrievalHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teletriagem_retrieval_snippets",
			Help:    "Snippets returned per knowledge base lookup.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.LLMCallsTotal,
		m.LLMDuration,
		m.ParseTotal,
		m.GuardrailsTotal,
		m.RetrievalTotal,
		m.RetrievalHits,
	)

	return m
}

// Hooks returns orchestrator hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnRetrieval: func(count int, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.RetrievalTotal.WithLabelValues(result).Inc()
			m.RetrievalHits.Observe(float64(count))
		},
		OnLLMCall: func(duration float64, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.LLMCallsTotal.WithLabelValues(result).Inc()
			m.LLMDuration.Observe(duration)
		},
		OnParse: func(ok bool) {
			result := "ok"
			if !ok {
				result = "fallback"
			}
			m.ParseTotal.WithLabelValues(result).Inc()
		},
		OnRuleFired: func(rule string) {
			m.GuardrailsTotal.WithLabelValues(rule).Inc()
		},
		OnComplete: func(state State, duration float64) {
			m.RunsTotal.WithLabelValues(string(state)).Inc()
			m.RunDuration.WithLabelValues(string(state)).Observe(duration)
		},
	}
}
