package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics содержит все метрики Prometheus приложения.
// Методы безопасны для nil-получателя, чтобы компоненты работали без метрик.
type Metrics struct {
	registry *prometheus.Registry

	UpstreamCalls   *prometheus.CounterVec   // labels: kind, outcome
	UpstreamLatency *prometheus.HistogramVec // labels: kind
	RateLimited     prometheus.Counter

	CacheRequests  *prometheus.CounterVec // labels: result=hit|miss|stale|coalesced
	CacheEntries   prometheus.Gauge
	AnalysisTotal  *prometheus.CounterVec // labels: action
	AnalysisErrors *prometheus.CounterVec // labels: stage
	AnalysisDur    prometheus.Histogram
	HistoryAppends *prometheus.CounterVec // labels: outcome
}

// New создает метрики и регистрирует их в отдельном реестре
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandarscope_upstream_calls_total",
			Help: "Запросы к бирже по типу данных и результату",
		}, []string{"kind", "outcome"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bandarscope_upstream_latency_seconds",
			Help:    "Задержка запросов к бирже",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandarscope_rate_limited_total",
			Help: "Запросы, отклоненные лимитером",
		}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandarscope_cache_requests_total",
			Help: "Обращения к кэшу по результату",
		}, []string{"result"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bandarscope_cache_entries",
			Help: "Количество записей в кэше",
		}),
		AnalysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandarscope_recommendations_total",
			Help: "Сформированные рекомендации по действию",
		}, []string{"action"}),
		AnalysisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandarscope_analysis_errors_total",
			Help: "Ошибки анализа по этапу",
		}, []string{"stage"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bandarscope_analysis_duration_seconds",
			Help:    "Полное время анализа пары",
			Buckets: prometheus.DefBuckets,
		}),
		HistoryAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandarscope_history_appends_total",
			Help: "Запись рекомендаций в историю по результату",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpstreamCalls,
		m.UpstreamLatency,
		m.RateLimited,
		m.CacheRequests,
		m.CacheEntries,
		m.AnalysisTotal,
		m.AnalysisErrors,
		m.AnalysisDur,
		m.HistoryAppends,
	)

	return m
}

// Handler возвращает обработчик /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveUpstream(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(kind, outcome).Inc()
	m.UpstreamLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) ObserveAnalysis(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(action).Inc()
	m.AnalysisDur.Observe(d.Seconds())
}

func (m *Metrics) IncAnalysisError(stage string) {
	if m == nil {
		return
	}
	m.AnalysisErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncHistoryAppend(outcome string) {
	if m == nil {
		return
	}
	m.HistoryAppends.WithLabelValues(outcome).Inc()
}
