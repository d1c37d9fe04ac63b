package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sqlGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpilot_sql_generated_total",
			Help: "Total number of validated SQL statements by source (rule or model).",
		},
		[]string{"source"},
	)
	sqlRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpilot_sql_rejected_total",
			Help: "Total number of SQL statements rejected by the validator, by reason.",
		},
		[]string{"reason"},
	)
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpilot_model_calls_total",
			Help: "Total number of language model calls by outcome.",
		},
		[]string{"outcome"},
	)
	modelCallLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockpilot_model_call_latency_ms",
			Help:    "Language model call latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	assistantRoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpilot_assistant_routes_total",
			Help: "Total number of assistant requests by routing target.",
		},
		[]string{"target"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockpilot_query_rows_returned",
			Help:    "Rows returned per executed inventory query.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500, 1000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		sqlGeneratedTotal,
		sqlRejectedTotal,
		modelCallsTotal,
		modelCallLatencyMs,
		assistantRoutesTotal,
		queryRowsReturned,
	)
}

func ObserveSQLGenerated(source string) {
	sqlGeneratedTotal.WithLabelValues(source).Inc()
}

func ObserveSQLRejected(reason string) {
	sqlRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveModelCall records one completion attempt. outcome is one of
// "ok", "declined" or "error".
func ObserveModelCall(outcome string, elapsed time.Duration) {
	modelCallsTotal.WithLabelValues(outcome).Inc()
	modelCallLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveRoute(target string) {
	assistantRoutesTotal.WithLabelValues(target).Inc()
}

func ObserveQueryRows(rows int) {
	if rows < 0 {
		rows = 0
	}
	queryRowsReturned.Observe(float64(rows))
}
