package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the Prometheus surface as OpenTelemetry
// instruments for deployments that ship metrics over OTLP instead of
// scraping /metrics.
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	httpRequestSize     metric.Int64Histogram
	httpResponseSize    metric.Int64Histogram

	// Decision metrics
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram
	legacyFallbacks  metric.Int64Counter
	evaluationErrors metric.Int64Counter

	// Cache metrics
	cacheHitsTotal          metric.Int64Counter
	cacheMissesTotal        metric.Int64Counter
	cacheInvalidationsTotal metric.Int64Counter

	// Store metrics
	storeQueriesTotal  metric.Int64Counter
	storeQueryDuration metric.Float64Histogram

	// Database metrics
	dbConnectionsActive metric.Int64Gauge
	dbConnectionsIdle   metric.Int64Gauge
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/stayops/porter")

	m := &OTelMetrics{}
	var err error

	// HTTP metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.httpRequestSize, err = meter.Int64Histogram(
		"http.server.request.size",
		metric.WithDescription("HTTP request size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request size histogram: %w", err)
	}

	m.httpResponseSize, err = meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("HTTP response size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http response size histogram: %w", err)
	}

	// Decision metrics
	m.decisionsTotal, err = meter.Int64Counter(
		"porter.decisions",
		metric.WithDescription("Total number of permission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"porter.decision.duration",
		metric.WithDescription("Permission decision latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.legacyFallbacks, err = meter.Int64Counter(
		"porter.legacy.fallbacks",
		metric.WithDescription("Total number of evaluations resolved from the legacy role policy"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create legacy fallbacks counter: %w", err)
	}

	m.evaluationErrors, err = meter.Int64Counter(
		"porter.evaluation.errors",
		metric.WithDescription("Total number of evaluations that failed closed on internal errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation errors counter: %w", err)
	}

	// Cache metrics
	m.cacheHitsTotal, err = meter.Int64Counter(
		"porter.cache.hits",
		metric.WithDescription("Total number of decision cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"porter.cache.misses",
		metric.WithDescription("Total number of decision cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.cacheInvalidationsTotal, err = meter.Int64Counter(
		"porter.cache.invalidations",
		metric.WithDescription("Total number of decision cache invalidations"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache invalidations counter: %w", err)
	}

	// Store metrics
	m.storeQueriesTotal, err = meter.Int64Counter(
		"porter.store.queries",
		metric.WithDescription("Total number of role store queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store queries counter: %w", err)
	}

	m.storeQueryDuration, err = meter.Float64Histogram(
		"porter.store.query.duration",
		metric.WithDescription("Role store query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store query duration histogram: %w", err)
	}

	// Database metrics
	m.dbConnectionsActive, err = meter.Int64Gauge(
		"db.connections.active",
		metric.WithDescription("Number of active database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db connections active gauge: %w", err)
	}

	m.dbConnectionsIdle, err = meter.Int64Gauge(
		"db.connections.idle",
		metric.WithDescription("Number of idle database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db connections idle gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, requestSize, responseSize int64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if requestSize > 0 {
		m.httpRequestSize.Record(ctx, requestSize, metric.WithAttributes(attrs...))
	}
	if responseSize > 0 {
		m.httpResponseSize.Record(ctx, responseSize, metric.WithAttributes(attrs...))
	}
}

// RecordDecision records a permission decision with its outcome, the
// grant source that produced it, and evaluation latency.
func (m *OTelMetrics) RecordDecision(ctx context.Context, outcome, source string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	}

	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.decisionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLegacyFallback records an evaluation answered by the legacy role policy
func (m *OTelMetrics) RecordLegacyFallback(ctx context.Context) {
	m.legacyFallbacks.Add(ctx, 1)
}

// RecordEvaluationError records an evaluation that failed closed
func (m *OTelMetrics) RecordEvaluationError(ctx context.Context, stage string) {
	m.evaluationErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// RecordCacheHit records a decision cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, backend string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
	))
}

// RecordCacheMiss records a decision cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, backend string) {
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
	))
}

// RecordCacheInvalidation records a decision cache invalidation. Scope
// is "user" for single-user invalidations and "all" for full purges.
func (m *OTelMetrics) RecordCacheInvalidation(ctx context.Context, backend, scope string) {
	m.cacheInvalidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("scope", scope),
	))
}

// RecordStoreQuery records a role store query metric
func (m *OTelMetrics) RecordStoreQuery(ctx context.Context, query string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("query", query),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("status", "error"))
	} else {
		attrs = append(attrs, attribute.String("status", "ok"))
	}

	m.storeQueriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// UpdateDBConnectionStats records database connection pool statistics
func (m *OTelMetrics) UpdateDBConnectionStats(ctx context.Context, active, idle int) {
	m.dbConnectionsActive.Record(ctx, int64(active))
	m.dbConnectionsIdle.Record(ctx, int64(idle))
}
