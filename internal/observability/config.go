package observability

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/storefront-ledger/internal/config"
)

const (
	defaultServiceName     = "storefront-ledger"
	defaultNamespace       = "storefront"
	defaultSamplingRatio   = 0.1
	defaultMetricsInterval = 10 * time.Second
)

// defaultTraceSkipRoutes are probed by load balancers and scrapers often
// enough that tracing them only adds noise.
var defaultTraceSkipRoutes = []string{"/health", "/metrics"}

// Config holds observability settings for the storefront ledger process.
// Component distinguishes the HTTP server from the intake consumer and the
// bulk tooling when they share a collector.
type Config struct {
	ServiceName string
	Namespace   string
	Component   string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled           bool
	OtelExporterEndpoint  string
	OtelExporterProtocol  string
	OtelSamplingRatio     float64
	ResourceAttributes    map[string]string
	TraceSkipRoutes       []string
	MetricsExportInterval time.Duration
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	component := getenv("LOYALTY_COMPONENT", filepath.Base(os.Args[0]))

	protocol := strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if tracesProtocol := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); tracesProtocol != "" {
		protocol = strings.ToLower(tracesProtocol)
	}

	ratio := getenvFloat("OTEL_SAMPLING_RATIO", defaultSamplingRatio)
	if ratio < 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}

	interval := getenvDuration("OTEL_METRIC_EXPORT_INTERVAL", defaultMetricsInterval)
	if interval <= 0 {
		interval = defaultMetricsInterval
	}

	out := Config{
		ServiceName:           serviceName,
		Namespace:             getenv("SERVICE_NAMESPACE", defaultNamespace),
		Component:             component,
		Environment:           getenv("DEPLOYMENT_ENV", strings.TrimSpace(cfg.Environment)),
		Version:               getenv("SERVICE_VERSION", strings.TrimSpace(cfg.AppVersion)),
		LogLevel:              strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getenv("LOG_FORMAT", "json")),
		OtelEnabled:           getenvBool("OTEL_ENABLED", cfg.IsProduction()),
		OtelExporterEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", strings.TrimSpace(cfg.OTLPEndpoint)),
		OtelExporterProtocol:  protocol,
		OtelSamplingRatio:     ratio,
		TraceSkipRoutes:       getenvList("OTEL_TRACE_SKIP_ROUTES", defaultTraceSkipRoutes),
		MetricsExportInterval: interval,
	}
	out.ResourceAttributes = resourceAttributes(out, os.Getenv("OTEL_RESOURCE_ATTRIBUTES"))
	return out
}

// resourceAttributes seeds the storefront attributes and lets
// OTEL_RESOURCE_ATTRIBUTES ("k=v,k2=v2") override or extend them.
func resourceAttributes(cfg Config, raw string) map[string]string {
	attrs := map[string]string{
		"service.namespace": cfg.Namespace,
		"loyalty.component": cfg.Component,
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		attrs[key] = strings.TrimSpace(value)
	}
	for key, value := range attrs {
		if value == "" {
			delete(attrs, key)
		}
	}
	return attrs
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvList(key string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("15s") or bare milliseconds, the
// unit OTEL_METRIC_EXPORT_INTERVAL uses.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
