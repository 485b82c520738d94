package constant

// TelemetrySDKName identifies this library in tracer and meter names.
const TelemetrySDKName = "lib-searchkit"

// MaxMetricLabelLength is the maximum length for metric labels to prevent cardinality explosion.
const MaxMetricLabelLength = 64

// Telemetry attribute keys.
const (
	AttrBackend      = "searchkit.backend"
	AttrStrategy     = "searchkit.strategy"
	AttrCacheHit     = "searchkit.cache_hit"
	AttrResultCount  = "searchkit.result_count"
	AttrQueryID      = "searchkit.query_id"
	AttrLimitClamped = "searchkit.limit_clamped"
	AttrDBSystem     = "db.system"
)

// Database system identifiers used as values for AttrDBSystem.
const (
	DBSystemPostgreSQL = "postgresql"
	DBSystemMongoDB    = "mongodb"
	DBSystemRedis      = "redis"
	DBSystemSQLite     = "sqlite"
	DBSystemBadger     = "badger"
)

// Telemetry metric names.
const (
	MetricPanicRecoveredTotal         = "panic_recovered_total"
	MetricSearchDurationMs            = "search_duration_ms"
	MetricSearchRequestsTotal         = "search_requests_total"
	MetricSearchCacheHitsTotal        = "search_cache_hits_total"
	MetricSearchSlowQueriesTotal      = "search_slow_queries_total"
	MetricBreakerStateTransitionTotal = "circuit_breaker_state_transitions_total"
	MetricBreakerExecutionsTotal      = "circuit_breaker_executions_total"
	MetricHealthProbesTotal           = "health_probes_total"
)

// EventPanicRecovered is the span event name for recovered panics.
const EventPanicRecovered = "panic.recovered"

// SanitizeMetricLabel truncates a label value to MaxMetricLabelLength.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
