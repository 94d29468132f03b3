// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Allocation metrics
	AllocationCyclesTotal *prometheus.CounterVec
	AllocationDuration    prometheus.Histogram
	ArmsAllocated         prometheus.Counter
	AllocationShortfall   prometheus.Gauge

	// Pacing metrics
	PacingDecisionsTotal *prometheus.CounterVec
	EmergencyStopsTotal  prometheus.Counter
	SignalFailuresTotal  prometheus.Counter
	CurrentPace          *prometheus.GaugeVec
	BidMultiplier        *prometheus.GaugeVec

	// Ingestion metrics
	SpendUpdatesApplied prometheus.Counter
	SpendUpdateErrors   prometheus.Counter
	WSReconnectsTotal   prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulAllocation prometheus.Gauge
	LastSuccessfulPacing     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ad_budget_lab"
	}

	return &Metrics{
		// Allocation metrics
		AllocationCyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "cycles_total",
			Help:      "Total number of allocation cycles by status",
		}, []string{"status"}),
		AllocationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "duration_seconds",
			Help:      "Allocation cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ArmsAllocated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "arms_allocated_total",
			Help:      "Total number of arms given a budget allocation",
		}),
		AllocationShortfall: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "shortfall_dollars",
			Help:      "Budget left unallocated by the last cycle due to constraint ceilings",
		}),

		// Pacing metrics
		PacingDecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pacing",
			Name:      "decisions_total",
			Help:      "Total number of pacing decisions by action",
		}, []string{"action"}),
		EmergencyStopsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pacing",
			Name:      "emergency_stops_total",
			Help:      "Total number of emergency stop pauses",
		}),
		SignalFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pacing",
			Name:      "signal_failures_total",
			Help:      "Total number of performance signal fetch failures",
		}),
		CurrentPace: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pacing",
			Name:      "current_pace",
			Help:      "Last computed spend pace per campaign (1.0 = on track)",
		}, []string{"campaign_id"}),
		BidMultiplier: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pacing",
			Name:      "bid_multiplier",
			Help:      "Current bid multiplier per campaign",
		}, []string{"campaign_id"}),

		// Ingestion metrics
		SpendUpdatesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "spend_updates_applied_total",
			Help:      "Total number of spend updates folded into pacing state",
		}),
		SpendUpdateErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "spend_update_errors_total",
			Help:      "Total number of spend updates that failed to apply",
		}),
		WSReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ws_reconnects_total",
			Help:      "Total number of websocket reconnections",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulAllocation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_allocation_timestamp",
			Help:      "Unix timestamp of last successful allocation cycle",
		}),
		LastSuccessfulPacing: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pacing_timestamp",
			Help:      "Unix timestamp of last successful pacing cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordAllocationCycle records an allocation cycle run.
func RecordAllocationCycle(status string, durationSeconds float64, arms int) {
	DefaultMetrics.AllocationCyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.AllocationDuration.Observe(durationSeconds)
	DefaultMetrics.ArmsAllocated.Add(float64(arms))
}

// RecordPacingDecision increments the pacing decision counter for an action.
func RecordPacingDecision(action string) {
	DefaultMetrics.PacingDecisionsTotal.WithLabelValues(action).Inc()
}

// RecordEmergencyStop increments the emergency stop counter.
func RecordEmergencyStop() {
	DefaultMetrics.EmergencyStopsTotal.Inc()
	DefaultMetrics.PacingDecisionsTotal.WithLabelValues("pause").Inc()
}

// RecordSignalFailure increments the signal failure counter.
func RecordSignalFailure() {
	DefaultMetrics.SignalFailuresTotal.Inc()
}

// UpdateCampaignPacing updates the per-campaign pace and multiplier gauges.
func UpdateCampaignPacing(campaignID string, pace, multiplier float64) {
	DefaultMetrics.CurrentPace.WithLabelValues(campaignID).Set(pace)
	DefaultMetrics.BidMultiplier.WithLabelValues(campaignID).Set(multiplier)
}

// RecordSpendUpdate records a spend update application attempt.
func RecordSpendUpdate(err error) {
	if err != nil {
		DefaultMetrics.SpendUpdateErrors.Inc()
		return
	}
	DefaultMetrics.SpendUpdatesApplied.Inc()
}

// RecordWSReconnect increments the websocket reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnectsTotal.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
