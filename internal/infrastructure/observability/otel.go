package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/discoveryrank/backend"

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RecommendCount      metric.Int64Counter
	RecommendDuration   metric.Float64Histogram
	DBQueryDuration     metric.Float64Histogram
	CacheHitCount       metric.Int64Counter
	CacheMissCount      metric.Int64Counter
	CacheCorruptedCount metric.Int64Counter
	SingleflightShared  metric.Int64Counter
	InvalidationCount   metric.Int64Counter
	InvalidationFailed  metric.Int64Counter
	StrategyFallbacks   metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing, metrics and runtime instrumentation
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Set up metric exporter
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		GetLogger().Warn().Err(err).Msg("Failed to start runtime metrics")
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.RecommendCount, err = meter.Int64Counter(
		"recommend.request.count",
		metric.WithDescription("Number of recommendation requests"),
	); err != nil {
		return nil, err
	}
	if m.RecommendDuration, err = meter.Float64Histogram(
		"recommend.request.duration",
		metric.WithDescription("Recommendation request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.DBQueryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.CacheHitCount, err = meter.Int64Counter(
		"cache.hit.count",
		metric.WithDescription("Number of cache hits"),
	); err != nil {
		return nil, err
	}
	if m.CacheMissCount, err = meter.Int64Counter(
		"cache.miss.count",
		metric.WithDescription("Number of cache misses"),
	); err != nil {
		return nil, err
	}
	if m.CacheCorruptedCount, err = meter.Int64Counter(
		"cache.corrupted.count",
		metric.WithDescription("Number of cache entries dropped for holding the wrong type"),
	); err != nil {
		return nil, err
	}
	if m.SingleflightShared, err = meter.Int64Counter(
		"cache.singleflight.shared",
		metric.WithDescription("Number of callers that shared an in-flight computation"),
	); err != nil {
		return nil, err
	}
	if m.InvalidationCount, err = meter.Int64Counter(
		"cache.invalidation.count",
		metric.WithDescription("Number of prefix invalidations issued"),
	); err != nil {
		return nil, err
	}
	if m.InvalidationFailed, err = meter.Int64Counter(
		"cache.invalidation.failed",
		metric.WithDescription("Number of prefix invalidations that failed"),
	); err != nil {
		return nil, err
	}
	if m.StrategyFallbacks, err = meter.Int64Counter(
		"recommend.strategy.fallback",
		metric.WithDescription("Number of strategy substitutions"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRecommendMetric records a recommendation request
func RecordRecommendMetric(ctx context.Context, metrics *Metrics, strategy, outcome string, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	)
	metrics.RecommendCount.Add(ctx, 1, attrs)
	metrics.RecommendDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordDBMetric records a database operation metric
func RecordDBMetric(ctx context.Context, metrics *Metrics, operation string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.DBQueryDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("db.operation", operation)))
}

// RecordCacheHit records a cache hit
func RecordCacheHit(ctx context.Context, metrics *Metrics, strategy string) {
	if metrics == nil {
		return
	}
	metrics.CacheHitCount.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(ctx context.Context, metrics *Metrics, strategy string) {
	if metrics == nil {
		return
	}
	metrics.CacheMissCount.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordCacheCorrupted records a wrong-typed cache entry
func RecordCacheCorrupted(ctx context.Context, metrics *Metrics) {
	if metrics == nil {
		return
	}
	metrics.CacheCorruptedCount.Add(ctx, 1)
}

// RecordSingleflightShared records a caller served by another caller's computation
func RecordSingleflightShared(ctx context.Context, metrics *Metrics) {
	if metrics == nil {
		return
	}
	metrics.SingleflightShared.Add(ctx, 1)
}

// RecordInvalidation records one prefix invalidation
func RecordInvalidation(ctx context.Context, metrics *Metrics, kind string, failed bool) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event.kind", kind))
	metrics.InvalidationCount.Add(ctx, 1, attrs)
	if failed {
		metrics.InvalidationFailed.Add(ctx, 1, attrs)
	}
}

// RecordStrategyFallback records a strategy substitution
func RecordStrategyFallback(ctx context.Context, metrics *Metrics, from, to string) {
	if metrics == nil {
		return
	}
	metrics.StrategyFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
