package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the battle gateway.
type Metrics struct {
	BattleTotal       *prometheus.CounterVec
	BattleDurationMs  prometheus.Histogram
	ModelResultTotal  *prometheus.CounterVec
	ModelLatencyMs    *prometheus.HistogramVec
	FallbackTotal     *prometheus.CounterVec
	StreamTotal       *prometheus.CounterVec
	RateLimitHitTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		BattleTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbattles_battle_total",
			Help: "Total number of battle requests processed.",
		}, []string{"status"}),

		BattleDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatbattles_battle_duration_ms",
			Help:    "End-to-end battle duration in milliseconds (slowest model wins).",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 90000},
		}),

		ModelResultTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbattles_model_result_total",
			Help: "Per-model terminal results by outcome.",
		}, []string{"model", "provider", "outcome"}),

		ModelLatencyMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbattles_model_latency_ms",
			Help:    "Per-model response time in milliseconds, including fallback attempts.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model", "provider"}),

		FallbackTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbattles_fallback_total",
			Help: "Responses served by a fallback provider.",
		}, []string{"model"}),

		StreamTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbattles_stream_total",
			Help: "Streaming chat sessions by model and terminal status.",
		}, []string{"model", "status"}),

		RateLimitHitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbattles_rate_limit_hit_total",
			Help: "Requests rejected by rate limiting.",
		}, []string{"dimension"}),
	}
}

// RecordBattle records one completed fan-out request.
func (m *Metrics) RecordBattle(status string, durationMs float64) {
	m.BattleTotal.WithLabelValues(status).Inc()
	m.BattleDurationMs.Observe(durationMs)
}

// RecordModelResult records one model's terminal result within a battle.
func (m *Metrics) RecordModelResult(model, provider, outcome string, durationMs float64) {
	m.ModelResultTotal.WithLabelValues(model, provider, outcome).Inc()
	m.ModelLatencyMs.WithLabelValues(model, provider).Observe(durationMs)
}

// RecordFallback counts a response served by the fallback provider.
func (m *Metrics) RecordFallback(model string) {
	m.FallbackTotal.WithLabelValues(model).Inc()
}

// RecordStream records a streaming session's terminal status.
func (m *Metrics) RecordStream(model, status string) {
	m.StreamTotal.WithLabelValues(model, status).Inc()
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit(dimension string) {
	m.RateLimitHitTotal.WithLabelValues(dimension).Inc()
}
