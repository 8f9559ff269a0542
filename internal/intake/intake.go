// Package intake turns broker messages from the payment gateway and the
// logistics provider into order state changes.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcome tells the broker adapter what to do with a message.
type Outcome string

const (
	// OutcomeAck removes the message: it was applied, duplicated, or can never apply.
	OutcomeAck Outcome = "ack"
	// OutcomeRetry keeps the message for redelivery.
	OutcomeRetry Outcome = "retry"
)

// PaymentConfirmed is published by the payment gateway.
type PaymentConfirmed struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
}

// DeliveryUpdate is published by the logistics provider.
type DeliveryUpdate struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

var ErrMalformed = fault.New(fault.KindValidation, "malformed_message")

// Classify acks errors that redelivery cannot fix. Of the consistency
// errors only a lost balance race is transient; a coupon conflict fails the
// same way on every delivery.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeAck
	}
	switch fault.KindOf(err) {
	case fault.KindNotFound, fault.KindInvalidTransition, fault.KindValidation:
		return OutcomeAck
	case fault.KindConsistency:
		if errors.Is(err, ledgerdomain.ErrBalanceRace) {
			return OutcomeRetry
		}
		return OutcomeAck
	}
	return OutcomeRetry
}

type Params struct {
	fx.In

	Log      *zap.Logger
	OrderSvc orderdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Handler struct {
	log     *zap.Logger
	orders  orderdomain.Service
	metrics *metrics.Metrics
}

func NewHandler(p Params) *Handler {
	return &Handler{
		log:     p.Log.Named("intake"),
		orders:  p.OrderSvc,
		metrics: p.Metrics,
	}
}

var Module = fx.Module("intake",
	fx.Provide(NewHandler),
)

// HandlePayment confirms the referenced order. A status other than a
// successful one is acknowledged and ignored.
func (h *Handler) HandlePayment(ctx context.Context, body []byte) Outcome {
	var msg PaymentConfirmed
	if err := json.Unmarshal(body, &msg); err != nil || strings.TrimSpace(msg.OrderID) == "" {
		return h.finish(ctx, "payments", "", ErrMalformed)
	}
	switch strings.ToLower(strings.TrimSpace(msg.Status)) {
	case "", "paid", "pago", "confirmed", "approved":
	default:
		h.log.Info("ignoring payment status",
			zap.String("order_id", msg.OrderID),
			zap.String("status", msg.Status),
		)
		h.metrics.RecordIntakeMessage(ctx, "payments", "ignored")
		return OutcomeAck
	}

	_, err := h.orders.ConfirmPayment(ctx, msg.OrderID)
	return h.finish(ctx, "payments", msg.OrderID, err)
}

func (h *Handler) HandleDelivery(ctx context.Context, body []byte) Outcome {
	var msg DeliveryUpdate
	if err := json.Unmarshal(body, &msg); err != nil || strings.TrimSpace(msg.OrderID) == "" {
		return h.finish(ctx, "delivery", "", ErrMalformed)
	}
	_, err := h.orders.AdvanceDelivery(ctx, msg.OrderID, orderdomain.DeliveryStatus(strings.TrimSpace(msg.Status)))
	return h.finish(ctx, "delivery", msg.OrderID, err)
}

func (h *Handler) finish(ctx context.Context, source, orderID string, err error) Outcome {
	outcome := Classify(err)
	switch {
	case err == nil:
		h.metrics.RecordIntakeMessage(ctx, source, "applied")
	case outcome == OutcomeAck && fault.KindOf(err) == fault.KindConsistency:
		h.metrics.RecordIntakeMessage(ctx, source, "conflict")
		h.log.Error("dropping message on consistency conflict",
			zap.String("source", source),
			zap.String("order_id", orderID),
			zap.String("code", fault.CodeOf(err)),
			zap.Error(err),
		)
	case outcome == OutcomeAck:
		h.metrics.RecordIntakeMessage(ctx, source, "rejected")
		h.log.Warn("dropping message",
			zap.String("source", source),
			zap.String("order_id", orderID),
			zap.String("code", fault.CodeOf(err)),
			zap.Error(err),
		)
	default:
		h.metrics.RecordIntakeMessage(ctx, source, "retry")
		h.log.Error("message failed, will retry",
			zap.String("source", source),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return outcome
}
