// Package metrics exports Prometheus collectors for LUMEN.BUILD generation
// pipeline monitoring.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all collectors for the generation pipeline.
type Metrics struct {
	// Provider call counters, labeled by provider, outcome and whether the
	// fallback path answered.
	ProviderCallsTotal *prometheus.CounterVec
	ProviderCallSecs   *prometheus.HistogramVec
	ProviderTokens     *prometheus.CounterVec
	ProviderCostUSD    *prometheus.CounterVec

	// Pipeline counters.
	BuildsTotal       *prometheus.CounterVec // outcome: success, failed, aborted, action_required, chat
	RepairCyclesTotal prometheus.Counter
	StepRetriesTotal  prometheus.Counter
	StepAttempts      *prometheus.HistogramVec

	// Event stream.
	WSConnections prometheus.Gauge
}

// Get returns the process-wide metrics instance, registering collectors on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ProviderCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "lumen_provider_calls_total",
				Help: "Provider completions attempted, by provider, outcome and fallback.",
			}, []string{"provider", "outcome", "fallback"}),
			ProviderCallSecs: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lumen_provider_call_duration_seconds",
				Help:    "Provider completion latency.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"provider"}),
			ProviderTokens: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "lumen_provider_tokens_total",
				Help: "Tokens consumed, by provider and direction.",
			}, []string{"provider", "direction"}),
			ProviderCostUSD: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "lumen_provider_cost_usd_total",
				Help: "Estimated provider spend in USD.",
			}, []string{"provider"}),
			BuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "lumen_builds_total",
				Help: "Terminal build outcomes.",
			}, []string{"outcome"}),
			RepairCyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lumen_repair_cycles_total",
				Help: "Repair sub-flow invocations.",
			}),
			StepRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lumen_step_retries_total",
				Help: "Step executor attempts beyond the first.",
			}),
			StepAttempts: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lumen_step_attempts",
				Help:    "Attempts needed per successful pipeline stage.",
				Buckets: []float64{1, 2, 3},
			}, []string{"stage"}),
			WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lumen_ws_connections",
				Help: "Open build event stream connections.",
			}),
		}
	})
	return instance
}
