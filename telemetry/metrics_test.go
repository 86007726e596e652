package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics creates a Metrics instance backed by a ManualReader for testing.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	searchesTotal, err := meter.Int64Counter("image_vault_searches_total")
	require.NoError(t, err)

	searchDuration, err := meter.Float64Histogram("image_vault_search_duration_seconds")
	require.NoError(t, err)

	searchCoalescedTotal, err := meter.Int64Counter("image_vault_search_coalesced_total")
	require.NoError(t, err)

	cacheWritesTotal, err := meter.Int64Counter("image_vault_cache_writes_total")
	require.NoError(t, err)

	cacheWriteSize, err := meter.Float64Histogram("image_vault_cache_write_size_bytes")
	require.NoError(t, err)

	cacheReadsTotal, err := meter.Int64Counter("image_vault_cache_reads_total")
	require.NoError(t, err)

	rateLimitedTotal, err := meter.Int64Counter("image_vault_rate_limited_total")
	require.NoError(t, err)

	globalMetrics = &Metrics{
		searchesTotal:        searchesTotal,
		searchDuration:       searchDuration,
		searchCoalescedTotal: searchCoalescedTotal,
		cacheWritesTotal:     cacheWritesTotal,
		cacheWriteSize:       cacheWriteSize,
		cacheReadsTotal:      cacheReadsTotal,
		rateLimitedTotal:     rateLimitedTotal,
		meterProvider:        mp,
	}

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordSearch(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordSearch(context.Background(), "success", false, 50*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_searches_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "success"))

	histDps := findHistogram(rm, "image_vault_search_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)

	// Not coalesced, so no coalesced data points
	coalescedDps := findCounter(rm, "image_vault_search_coalesced_total")
	require.Empty(t, coalescedDps)
}

func TestRecordSearch_Coalesced(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordSearch(context.Background(), "success", true, 5*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_search_coalesced_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
}

func TestRecordCacheWrite(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordCacheWrite(context.Background(), "web-search", 2048, true)
	RecordCacheWrite(context.Background(), "web-search", 2048, false)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_cache_writes_total")
	require.Len(t, dps, 2)
	for _, dp := range dps {
		require.True(t, hasAttr(dp.Attributes, "source", "web-search"))
	}

	histDps := findHistogram(rm, "image_vault_cache_write_size_bytes")
	require.Len(t, histDps, 2)
}

func TestRecordCacheRead(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordCacheRead(context.Background(), "hit")
	RecordCacheRead(context.Background(), "hit")
	RecordCacheRead(context.Background(), "miss")

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_cache_reads_total")
	require.Len(t, dps, 2)

	for _, dp := range dps {
		if hasAttr(dp.Attributes, "outcome", "hit") {
			require.EqualValues(t, 2, dp.Value)
		} else {
			require.True(t, hasAttr(dp.Attributes, "outcome", "miss"))
			require.EqualValues(t, 1, dp.Value)
		}
	}
}

func TestRecordRateLimited(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordRateLimited(context.Background(), "unsplash")

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_rate_limited_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "provider", "unsplash"))
}

func TestRecord_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil

	// Should not panic
	RecordSearch(context.Background(), "success", false, time.Millisecond)
	RecordCacheWrite(context.Background(), "generated", 10, true)
	RecordCacheRead(context.Background(), "hit")
	RecordRateLimited(context.Background(), "pexels")
	RecordImageTouch(context.Background())
	RecordDedupeRun(context.Background(), 0, time.Millisecond)
	RecordProviderRequest(context.Background(), "unsplash", time.Millisecond, 0, "success")
}
