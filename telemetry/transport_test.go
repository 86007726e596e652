package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// setupTransportMetrics registers only the provider request instruments.
func setupTransportMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	providerRequestsTotal, err := meter.Int64Counter("image_vault_provider_requests_total")
	require.NoError(t, err)
	providerRequestDuration, err := meter.Float64Histogram("image_vault_provider_request_duration_seconds")
	require.NoError(t, err)
	providerRequestBytesTotal, err := meter.Int64Counter("image_vault_provider_request_bytes_total")
	require.NoError(t, err)

	globalMetrics = &Metrics{
		providerRequestsTotal:     providerRequestsTotal,
		providerRequestDuration:   providerRequestDuration,
		providerRequestBytesTotal: providerRequestBytesTotal,
		meterProvider:             mp,
	}

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

func TestInstrumentedTransport_Success(t *testing.T) {
	reader := setupTransportMetrics(t)

	body := "response body content"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "unsplash")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, body, string(data))

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_provider_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "provider", "unsplash"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "success"))

	bytesDps := findCounter(rm, "image_vault_provider_request_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, len(body), bytesDps[0].Value)
}

func TestInstrumentedTransport_ServerError(t *testing.T) {
	reader := setupTransportMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "pexels")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_provider_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "5xx"))
}

func TestInstrumentedTransport_CloseRecordsOnce(t *testing.T) {
	reader := setupTransportMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "openai")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "image_vault_provider_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
}
