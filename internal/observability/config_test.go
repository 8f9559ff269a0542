package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: " ", Environment: "development"})

	assert.Equal(t, "storefront-ledger", cfg.ServiceName)
	assert.False(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := LoadConfig(config.Config{AppName: "ledger", Environment: "production"})
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigStorefrontResource(t *testing.T) {
	t.Setenv("LOYALTY_COMPONENT", "intake")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "team=loyalty, loyalty.component=bulk,broken,=x")

	cfg := LoadConfig(config.Config{Environment: "development"})

	assert.Equal(t, "storefront", cfg.Namespace)
	assert.Equal(t, "intake", cfg.Component)
	assert.Equal(t, map[string]string{
		"service.namespace": "storefront",
		"loyalty.component": "bulk",
		"team":              "loyalty",
	}, cfg.ResourceAttributes)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.TraceSkipRoutes)
	assert.Equal(t, 10*time.Second, cfg.MetricsExportInterval)
}

func TestLoadConfigExportIntervalAndSkipRoutes(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "30000", want: 30 * time.Second},
		{raw: "15s", want: 15 * time.Second},
		{raw: "-5", want: 10 * time.Second},
		{raw: "soon", want: 10 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", tc.raw)
			t.Setenv("OTEL_TRACE_SKIP_ROUTES", " /health ,, /ready ")

			cfg := LoadConfig(config.Config{Environment: "test"})
			assert.Equal(t, tc.want, cfg.MetricsExportInterval)
			assert.Equal(t, []string{"/health", "/ready"}, cfg.TraceSkipRoutes)
		})
	}
}
