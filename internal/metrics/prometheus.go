package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the bracket ingestion worker

var (
	// Feed metrics
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_api_calls_total",
			Help: "Total number of scoreboard feed calls",
		},
		[]string{"endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bracket_api_call_duration_seconds",
			Help:    "Duration of scoreboard feed calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Database metrics
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "table", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bracket_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracket_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracket_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bracket_cache_operation_duration_seconds",
			Help:    "Duration of cache operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Poll cycle metrics
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_poll_cycles_total",
			Help: "Total number of poll cycles by job and outcome",
		},
		[]string{"job", "status"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bracket_poll_duration_seconds",
			Help:    "Duration of poll cycles in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"job"},
	)

	GamesReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_games_reconciled_total",
			Help: "Games handled by the reconciler, by action taken",
		},
		[]string{"action"},
	)

	TeamsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_teams_tracked",
			Help: "Number of teams in the current season",
		},
	)

	TeamsRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_teams_remaining",
			Help: "Number of teams still in the tournament",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
	)

	LastSuccessfulPoll = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_last_successful_poll_timestamp",
			Help: "Timestamp of last successful poll cycle",
		},
	)
)

// RecordAPICall records a feed call metric
func RecordAPICall(endpoint, status string, duration float64) {
	APICallsTotal.WithLabelValues(endpoint, status).Inc()
	APICallDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table, status string, duration float64) {
	DBQueriesTotal.WithLabelValues(operation, table, status).Inc()
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordCacheOperation records a cache operation duration
func RecordCacheOperation(operation string, duration float64) {
	CacheOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordPoll records a poll cycle
func RecordPoll(job, status string, duration float64) {
	PollCyclesTotal.WithLabelValues(job, status).Inc()
	PollDuration.WithLabelValues(job).Observe(duration)

	if status == "success" {
		LastSuccessfulPoll.SetToCurrentTime()
	}
}

// RecordGames adds reconciled game counts by action
func RecordGames(action string, count int) {
	if count > 0 {
		GamesReconciled.WithLabelValues(action).Add(float64(count))
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(active, idle int32) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}

// UpdateTeamStats updates the tracked/remaining team gauges
func UpdateTeamStats(tracked, remaining int) {
	TeamsTracked.Set(float64(tracked))
	TeamsRemaining.Set(float64(remaining))
}
