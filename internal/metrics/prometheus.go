package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opus_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opus_provider_calls_total",
			Help: "Total LLM provider calls by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opus_jobs_total",
			Help: "Total pipeline jobs by type and terminal status",
		},
		[]string{"job_type", "status"},
	)

	CircuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "opus_circuit_breaker_open",
			Help: "Whether the provider circuit breaker is open (1) or closed (0)",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opus_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opus_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opus_dead_letters_total",
			Help: "Total tasks written to the dead letter table",
		},
	)

	SentencesVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opus_sentences_verified_total",
			Help: "Total sentence verdicts by result",
		},
		[]string{"verdict"},
	)

	DocumentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opus_documents_processed_total",
			Help: "Total documents ingested",
		},
	)

	AlertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opus_alerts_fired_total",
			Help: "Total alert threshold breaches",
		},
		[]string{"alert"},
	)
)

func Init() {
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(ProviderCalls)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(CircuitOpen)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(SentencesVerified)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(AlertsFired)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
