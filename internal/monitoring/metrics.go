package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Planning metrics
	plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_plans_total",
			Help: "Total number of position plans created",
		},
		[]string{"symbol", "stop_source"},
	)

	planRiskAmount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_engine_plan_risk_amount",
			Help:    "Distribution of planned dollar risk per position",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"symbol"},
	)

	// Placement metrics
	placementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_placements_total",
			Help: "Total number of protected-order placement attempts by outcome",
		},
		[]string{"symbol", "outcome"},
	)

	stopAdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_stop_adjustments_total",
			Help: "Total number of stop adjustments applied",
		},
		[]string{"symbol", "reason"},
	)

	// Lifecycle metrics
	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_open_positions",
			Help: "Number of risk-managed positions currently open",
		},
	)

	positionClosures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_position_closures_total",
			Help: "Total number of position closures by exit leg",
		},
		[]string{"symbol", "exit"},
	)

	// Safety metrics
	breakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_breaker_tripped",
			Help: "Whether the placement circuit breaker is tripped (1) or armed (0)",
		},
	)

	breakerFailureRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_breaker_failure_rate",
			Help: "Placement failure rate over the breaker's attempt window",
		},
	)
)

func init() {
	prometheus.MustRegister(plansTotal)
	prometheus.MustRegister(planRiskAmount)
	prometheus.MustRegister(placementsTotal)
	prometheus.MustRegister(stopAdjustmentsTotal)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(positionClosures)
	prometheus.MustRegister(breakerTripped)
	prometheus.MustRegister(breakerFailureRate)
}

// Handler returns the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPlan records a created position plan.
func RecordPlan(symbol, stopSource string, riskAmount float64) {
	plansTotal.WithLabelValues(symbol, stopSource).Inc()
	planRiskAmount.WithLabelValues(symbol).Observe(riskAmount)
}

// RecordPlacement records a protected-order placement outcome.
func RecordPlacement(symbol, outcome string) {
	placementsTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordStopAdjustment records an applied stop adjustment.
func RecordStopAdjustment(symbol, reason string) {
	stopAdjustmentsTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordPositionOpened increments the open-position gauge.
func RecordPositionOpened() {
	openPositions.Inc()
}

// RecordPositionClosed records a closure and decrements the gauge.
func RecordPositionClosed(symbol, exit string) {
	openPositions.Dec()
	positionClosures.WithLabelValues(symbol, exit).Inc()
}

// SetBreakerTripped mirrors the circuit breaker state into a gauge.
func SetBreakerTripped(tripped bool) {
	if tripped {
		breakerTripped.Set(1)
	} else {
		breakerTripped.Set(0)
	}
}

// SetBreakerFailureRate mirrors the breaker's windowed failure rate.
func SetBreakerFailureRate(rate float64) {
	breakerFailureRate.Set(rate)
}
