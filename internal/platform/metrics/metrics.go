// Package metrics exposes the engine's operational counters and gauges in
// Prometheus format.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageTransitions counts accepted flow stage transitions.
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chairflow_stage_transitions_total",
		Help: "Accepted patient flow stage transitions.",
	}, []string{"from", "to"})

	// SeatConflicts counts Seat attempts that lost the race for a chair.
	SeatConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chairflow_seat_conflicts_total",
		Help: "Seat attempts rejected because the resource was not available.",
	})

	// StaleVersionRejections counts optimistic-concurrency losers.
	StaleVersionRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chairflow_stale_version_rejections_total",
		Help: "Mutations rejected by the version check.",
	})

	// LayoutConflicts counts floor plan edits rejected for a stale version.
	LayoutConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chairflow_layout_conflicts_total",
		Help: "Floor plan edits rejected because another editor saved first.",
	})

	// WaitingDepth tracks the current waiting queue depth per clinic.
	WaitingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chairflow_waiting_queue_depth",
		Help: "Patients currently checked in or called.",
	}, []string{"clinic_id"})

	// OccupiedResources tracks chairs currently occupied per clinic.
	OccupiedResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chairflow_occupied_resources",
		Help: "Resources currently occupied or ready for doctor.",
	}, []string{"clinic_id"})

	// AlertsFired counts threshold alerts emitted per kind.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chairflow_alerts_fired_total",
		Help: "Queue threshold alerts emitted.",
	}, []string{"kind"})
)

// Handler returns the /metrics endpoint handler.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
