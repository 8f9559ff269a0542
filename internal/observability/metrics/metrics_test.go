package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "accrual"),
		attribute.String("customer_id", "456"),
		attribute.String("result", "applied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_id" {
			t.Fatalf("customer_id must not be used as a metric label")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLedgerEntry(ctx, "accrual", 10)
	m.RecordRedemption(ctx, "issued")
	m.RecordPaymentConfirmation(ctx, "noop")
	m.RecordConsistencyError(ctx, "reconcile")
	m.RecordBulkOutcome(ctx, "confirm_payment", "skipped", 2)
	m.RecordIntakeMessage(ctx, "kafka", "acked")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordLedgerEntry(context.Background(), "redemption", -300)
}
