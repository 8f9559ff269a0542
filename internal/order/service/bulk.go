package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxBulkSize = 500

const codeAlreadyPaid = "already_paid"

func (s *Service) BulkConfirmPayment(ctx context.Context, ids []string) (domain.BulkResult, error) {
	return s.runBulk(ctx, "confirm_payment", ids, nil, func(ctx context.Context, id string) error {
		resp, err := s.ConfirmPayment(ctx, id)
		if err != nil {
			return err
		}
		if resp.AlreadyPaid {
			return errAlreadyPaid
		}
		return nil
	})
}

func (s *Service) BulkAdvanceDelivery(ctx context.Context, ids []string, next domain.DeliveryStatus) (domain.BulkResult, error) {
	if !next.Valid() {
		return domain.BulkResult{}, domain.ErrInvalidDeliveryStatus.WithMessage("%q", next)
	}
	return s.runBulk(ctx, "advance_delivery", ids, map[string]any{"status": string(next)}, func(ctx context.Context, id string) error {
		_, err := s.AdvanceDelivery(ctx, id, next)
		return err
	})
}

func (s *Service) BulkCancel(ctx context.Context, ids []string, reason string) (domain.BulkResult, error) {
	return s.runBulk(ctx, "cancel", ids, map[string]any{"reason": strings.TrimSpace(reason)}, func(ctx context.Context, id string) error {
		_, err := s.Cancel(ctx, id, reason)
		return err
	})
}

// errAlreadyPaid reports a bulk confirmation that changed nothing.
var errAlreadyPaid = fault.New(fault.KindInvalidTransition, codeAlreadyPaid)

// runBulk applies fn to each order in its own transaction. One order failing
// never stops the others; outcomes keep the input order.
func (s *Service) runBulk(ctx context.Context, action string, ids []string, metadata map[string]any, fn func(context.Context, string) error) (domain.BulkResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return domain.BulkResult{}, domain.ErrEmptyBatch
	}
	if len(ids) > maxBulkSize {
		return domain.BulkResult{}, domain.ErrBatchTooLarge.WithMessage("batch exceeds %d orders", maxBulkSize)
	}

	outcomes := make([]domain.BulkOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.loyalty.Get().BulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = skipped(id, err)
				return nil
			}
			if err := fn(ctx, id); err != nil {
				outcomes[i] = skipped(id, err)
				return nil
			}
			outcomes[i] = domain.BulkOutcome{OrderID: id, Result: domain.OutcomeSucceeded}
			return nil
		})
	}
	_ = g.Wait()

	result := domain.BulkResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Result == domain.OutcomeSucceeded {
			result.Succeeded++
		} else {
			result.Skipped++
		}
	}

	s.metrics.RecordBulkOutcome(ctx, action, domain.OutcomeSucceeded, result.Succeeded)
	s.metrics.RecordBulkOutcome(ctx, action, domain.OutcomeSkipped, result.Skipped)

	payload := map[string]any{
		"orders":    len(ids),
		"succeeded": result.Succeeded,
		"skipped":   result.Skipped,
	}
	for k, v := range metadata {
		payload[k] = v
	}
	if err := s.audit(ctx, nil, "order.bulk_"+action, "", payload); err != nil {
		s.log.Warn("bulk audit failed", zap.String("action", action), zap.Error(err))
	}

	s.log.Info("bulk order action",
		zap.String("action", action),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func skipped(id string, err error) domain.BulkOutcome {
	code := fault.CodeOf(err)
	switch {
	case code != "":
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = "canceled"
	default:
		code = "internal_error"
	}
	outcome := domain.BulkOutcome{OrderID: id, Result: domain.OutcomeSkipped, Code: code}
	var fe *fault.Error
	if errors.As(err, &fe) {
		outcome.Message = fe.Message
	}
	return outcome
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
