package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	Attributes       map[string]string
	// ExportInterval defaults to 10s when unset.
	ExportInterval time.Duration
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerEntries        metric.Int64Counter
	ledgerPoints         metric.Int64Counter
	redemptions          metric.Int64Counter
	paymentConfirmations metric.Int64Counter
	consistencyErrors    metric.Int64Counter
	bulkOutcomes         metric.Int64Counter
	intakeMessages       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
			zap.Duration("interval", interval),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storefront-ledger"
	}
	meter := provider.Meter(name)

	counters := map[string]*metric.Int64Counter{}
	m := &Metrics{}
	counters["loyalty_ledger_entries_total"] = &m.ledgerEntries
	counters["loyalty_ledger_points_total"] = &m.ledgerPoints
	counters["loyalty_redemptions_total"] = &m.redemptions
	counters["loyalty_payment_confirmations_total"] = &m.paymentConfirmations
	counters["loyalty_consistency_errors_total"] = &m.consistencyErrors
	counters["loyalty_bulk_outcomes_total"] = &m.bulkOutcomes
	counters["loyalty_intake_messages_total"] = &m.intakeMessages

	for counterName, target := range counters {
		counter, err := meter.Int64Counter(counterName)
		if err != nil {
			return nil, err
		}
		*target = counter
	}

	return m, nil
}

// RecordLedgerEntry counts one posted entry and the absolute points it moved.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, operation string, delta int64) {
	if m == nil {
		return
	}
	direction := "credit"
	if delta < 0 {
		direction = "debit"
		delta = -delta
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("direction", direction),
	)
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ledgerPoints.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// RecordRedemption counts redemption attempts by result.
func (m *Metrics) RecordRedemption(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.redemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentConfirmation counts confirmations by result (applied, noop, rejected).
func (m *Metrics) RecordPaymentConfirmation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.paymentConfirmations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsistencyError counts invariant violations detected at runtime.
func (m *Metrics) RecordConsistencyError(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.consistencyErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBulkOutcome counts per-order outcomes of bulk administrative actions.
func (m *Metrics) RecordBulkOutcome(ctx context.Context, action, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.bulkOutcomes.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// RecordIntakeMessage counts messages consumed from brokers.
func (m *Metrics) RecordIntakeMessage(ctx context.Context, source, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.intakeMessages.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation":   {},
	"direction":   {},
	"result":      {},
	"source":      {},
	"action":      {},
	"endpoint":    {},
	"status_code": {},
	"tier":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for key := range cfg.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, attribute.String(key, cfg.Attributes[key]))
	}
	return attrs
}
