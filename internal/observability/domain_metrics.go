package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_schema_cache_lookups_total",
			Help: "Schema snapshot cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)
	introspectionDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_introspection_duration_ms",
			Help:    "Catalog introspection latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"outcome"},
	)
	classifierDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_classifier_decisions_total",
			Help: "Ambiguity classifier decisions by deciding rule.",
		},
		[]string{"rule", "needs_clarification"},
	)
	generationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_generation_calls_total",
			Help: "Generation service calls by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_generation_latency_ms",
			Help:    "Generation service latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000},
		},
		[]string{"kind"},
	)
	executionDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_execution_duration_ms",
			Help:    "Generated SQL execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
		[]string{"outcome"},
	)
	duplicateRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_duplicate_rows_total",
			Help: "Total number of duplicate rows detected in execution results.",
		},
	)
	clarificationRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_clarification_rounds_total",
			Help: "Clarification rounds by origin (classifier, duplicates) and phase (raised, resolved).",
		},
		[]string{"origin", "phase"},
	)
)

func init() {
	prometheus.MustRegister(
		schemaCacheLookupsTotal,
		introspectionDurationMs,
		classifierDecisionsTotal,
		generationCallsTotal,
		generationLatencyMs,
		executionDurationMs,
		duplicateRowsTotal,
		clarificationRoundsTotal,
	)
}

func ObserveSchemaCacheLookup(hit bool) {
	if hit {
		schemaCacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	schemaCacheLookupsTotal.WithLabelValues("miss").Inc()
}

func ObserveIntrospection(elapsed time.Duration, err error) {
	introspectionDurationMs.WithLabelValues(outcome(err)).Observe(float64(elapsed.Milliseconds()))
}

func ObserveClassifierDecision(rule string, needsClarification bool) {
	needs := "false"
	if needsClarification {
		needs = "true"
	}
	classifierDecisionsTotal.WithLabelValues(rule, needs).Inc()
}

func ObserveGeneration(kind string, elapsed time.Duration, err error) {
	generationCallsTotal.WithLabelValues(kind, outcome(err)).Inc()
	generationLatencyMs.WithLabelValues(kind).Observe(float64(elapsed.Milliseconds()))
}

func ObserveExecution(elapsed time.Duration, duplicates int, err error) {
	executionDurationMs.WithLabelValues(outcome(err)).Observe(float64(elapsed.Milliseconds()))
	if duplicates > 0 {
		duplicateRowsTotal.Add(float64(duplicates))
	}
}

func ObserveClarificationRaised(origin string) {
	clarificationRoundsTotal.WithLabelValues(origin, "raised").Inc()
}

func ObserveClarificationResolved(origin string) {
	clarificationRoundsTotal.WithLabelValues(origin, "resolved").Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
