// Package telemetry provides OpenTelemetry metrics for the image vault.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	meterName = "github.com/wolfeidau/image-vault"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	searchesTotal        metric.Int64Counter
	searchDuration       metric.Float64Histogram
	searchCoalescedTotal metric.Int64Counter

	providerRequestsTotal     metric.Int64Counter
	providerRequestDuration   metric.Float64Histogram
	providerRequestBytesTotal metric.Int64Counter
	rateLimitedTotal          metric.Int64Counter

	cacheWritesTotal  metric.Int64Counter
	cacheWriteSize    metric.Float64Histogram
	cacheReadsTotal   metric.Int64Counter
	imageTouchesTotal metric.Int64Counter

	dedupeRunsTotal    metric.Int64Counter
	dedupeRemovedTotal metric.Int64Counter
	dedupeRunDuration  metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "image-vault"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Build resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	// Setup OTLP exporter if endpoint configured
	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	// Setup Prometheus exporter if enabled
	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	searchesTotal, err := meter.Int64Counter(
		"image_vault_searches_total",
		metric.WithDescription("Total number of search requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	searchDuration, err := meter.Float64Histogram(
		"image_vault_search_duration_seconds",
		metric.WithDescription("Search request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	searchCoalescedTotal, err := meter.Int64Counter(
		"image_vault_search_coalesced_total",
		metric.WithDescription("Total search requests served by an in-flight duplicate"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	providerRequestsTotal, err := meter.Int64Counter(
		"image_vault_provider_requests_total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	providerRequestDuration, err := meter.Float64Histogram(
		"image_vault_provider_request_duration_seconds",
		metric.WithDescription("Duration of provider requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	providerRequestBytesTotal, err := meter.Int64Counter(
		"image_vault_provider_request_bytes_total",
		metric.WithDescription("Total bytes fetched from providers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	rateLimitedTotal, err := meter.Int64Counter(
		"image_vault_rate_limited_total",
		metric.WithDescription("Total provider calls rejected by the local rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	cacheWritesTotal, err := meter.Int64Counter(
		"image_vault_cache_writes_total",
		metric.WithDescription("Total cache writes by outcome (new content vs deduplicated)"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return err
	}

	cacheWriteSize, err := meter.Float64Histogram(
		"image_vault_cache_write_size_bytes",
		metric.WithDescription("Size of images written to the cache"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864),
	)
	if err != nil {
		return err
	}

	cacheReadsTotal, err := meter.Int64Counter(
		"image_vault_cache_reads_total",
		metric.WithDescription("Total cache reads by outcome"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return err
	}

	imageTouchesTotal, err := meter.Int64Counter(
		"image_vault_image_touches_total",
		metric.WithDescription("Total image access count increments"),
		metric.WithUnit("{touch}"),
	)
	if err != nil {
		return err
	}

	dedupeRunsTotal, err := meter.Int64Counter(
		"image_vault_dedupe_runs_total",
		metric.WithDescription("Total deduplication maintenance runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	dedupeRemovedTotal, err := meter.Int64Counter(
		"image_vault_dedupe_removed_total",
		metric.WithDescription("Total duplicate files removed by deduplication"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return err
	}

	dedupeRunDuration, err := meter.Float64Histogram(
		"image_vault_dedupe_run_duration_seconds",
		metric.WithDescription("Duration of deduplication maintenance runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		searchesTotal:             searchesTotal,
		searchDuration:            searchDuration,
		searchCoalescedTotal:      searchCoalescedTotal,
		providerRequestsTotal:     providerRequestsTotal,
		providerRequestDuration:   providerRequestDuration,
		providerRequestBytesTotal: providerRequestBytesTotal,
		rateLimitedTotal:          rateLimitedTotal,
		cacheWritesTotal:          cacheWritesTotal,
		cacheWriteSize:            cacheWriteSize,
		cacheReadsTotal:           cacheReadsTotal,
		imageTouchesTotal:         imageTouchesTotal,
		dedupeRunsTotal:           dedupeRunsTotal,
		dedupeRemovedTotal:        dedupeRemovedTotal,
		dedupeRunDuration:         dedupeRunDuration,
		meterProvider:             mp,
		promHandler:               promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordSearch records a completed search request.
// coalesced is true when the result was shared from an in-flight duplicate
// rather than produced by a fresh provider fan-out.
func RecordSearch(ctx context.Context, outcome string, coalesced bool, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	globalMetrics.searchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if coalesced {
		globalMetrics.searchCoalescedTotal.Add(ctx, 1)
	}
}

// RecordProviderRequest records a provider request.
func RecordProviderRequest(ctx context.Context, providerName string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", providerName),
		attribute.String("outcome", outcome),
	}
	globalMetrics.providerRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.providerRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.providerRequestBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordRateLimited records a provider call rejected by the local limiter.
func RecordRateLimited(ctx context.Context, providerName string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("provider", providerName)}
	globalMetrics.rateLimitedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheWrite records a cache write with its size.
func RecordCacheWrite(ctx context.Context, source string, size int64, isNew bool) {
	if globalMetrics == nil {
		return
	}

	result := "dedup"
	if isNew {
		result = "new"
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("result", result),
	}
	globalMetrics.cacheWritesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.cacheWriteSize.Record(ctx, float64(size), metric.WithAttributes(attrs...))
}

// RecordCacheRead records a cache read outcome ("hit" or "miss").
func RecordCacheRead(ctx context.Context, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	globalMetrics.cacheReadsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordImageTouch records an image access count increment.
func RecordImageTouch(ctx context.Context) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.imageTouchesTotal.Add(ctx, 1)
}

// RecordDedupeRun records a deduplication maintenance run.
func RecordDedupeRun(ctx context.Context, removed int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.dedupeRunsTotal.Add(ctx, 1)
	globalMetrics.dedupeRemovedTotal.Add(ctx, int64(removed))
	globalMetrics.dedupeRunDuration.Record(ctx, duration.Seconds())
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
