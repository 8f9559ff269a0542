package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/observability/logger"
	"github.com/smallbiznis/storefront-ledger/internal/observability/metrics"
	"github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db"
	"github.com/smallbiznis/storefront-ledger/pkg/db/option"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"github.com/smallbiznis/storefront-ledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Loyalty   *config.LoyaltyConfigHolder
	LedgerSvc ledgerdomain.Service
	CouponSvc coupondomain.Service

	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	loyalty   *config.LoyaltyConfigHolder
	rules     repository.Repository[domain.Rule]
	ledgerSvc ledgerdomain.Service
	couponSvc coupondomain.Service
	metrics   *metrics.Metrics
	auditSvc  auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("redemption.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		loyalty:   p.Loyalty,
		rules:     repository.ProvideStore[domain.Rule](p.DB),
		ledgerSvc: p.LedgerSvc,
		couponSvc: p.CouponSvc,
		metrics:   p.Metrics,
		auditSvc:  p.AuditSvc,
	}
}

// Redeem debits the ledger and issues the coupon in one transaction. The
// balance check happens under the customer row lock taken by the ledger.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (domain.RedeemResponse, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.RedeemResponse{}, domain.ErrInvalidCustomer
	}
	ruleID, err := parseID(req.RuleID)
	if err != nil {
		return domain.RedeemResponse{}, domain.ErrInvalidRuleID
	}

	var resp domain.RedeemResponse
	attempts := s.loyalty.Get().MaxTxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err = s.redeemOnce(ctx, customerID, ruleID)
		if err == nil || !db.IsRetryableTxErr(err) {
			break
		}
		s.log.Warn("redemption transaction retry",
			zap.Int("attempt", attempt),
			zap.String("customer_id", customerID.String()),
			zap.Error(err),
		)
	}
	if err != nil {
		s.metrics.RecordRedemption(ctx, redemptionResult(err))
		return domain.RedeemResponse{}, err
	}

	s.ledgerSvc.Invalidate(ctx, customerID)
	s.metrics.RecordRedemption(ctx, "succeeded")
	logger.WithCustomer(s.log, customerID.String()).Info("points redeemed",
		zap.String("rule_id", ruleID.String()),
		zap.Int64("points", resp.PointsSpent),
		zap.String("coupon_id", resp.Coupon.ID.String()),
	)
	return resp, nil
}

func (s *Service) redeemOnce(ctx context.Context, customerID, ruleID snowflake.ID) (domain.RedeemResponse, error) {
	var resp domain.RedeemResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rule, err := s.rules.WithTrx(tx).FindOne(ctx, &domain.Rule{ID: ruleID})
		if err != nil {
			return err
		}
		if rule == nil {
			return domain.ErrRuleNotFound
		}
		if !rule.IsActive {
			return domain.ErrRuleInactive
		}

		posted, err := s.ledgerSvc.Post(ctx, tx, ledgerdomain.PostRequest{
			CustomerID: customerID,
			Postings: []ledgerdomain.Posting{{
				Delta:     -rule.PointsCost,
				Operation: ledgerdomain.OperationRedemption,
				Reason:    "redeemed " + rule.Name,
				Metadata:  map[string]any{"rule_id": rule.ID.String()},
			}},
		})
		if err != nil {
			return err
		}

		def, err := s.couponSvc.EnsureDefinition(ctx, tx, coupondomain.DefinitionSpec{
			RedemptionRuleID: rule.ID,
			Name:             rule.Name,
			DiscountValue:    rule.DiscountValue,
			MinOrderValue:    rule.MinOrderValue,
			PointsCost:       rule.PointsCost,
		})
		if err != nil {
			return err
		}
		coupon, err := s.couponSvc.Issue(ctx, tx, def, customerID)
		if err != nil {
			return err
		}

		resp = domain.RedeemResponse{
			Coupon:      coupon,
			PointsSpent: rule.PointsCost,
			Balance:     posted.Balance,
		}
		return nil
	})
	return resp, err
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (domain.Rule, error) {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return domain.Rule{}, domain.ErrInvalidRule.WithMessage("name is required")
	case req.PointsCost <= 0:
		return domain.Rule{}, domain.ErrInvalidRule.WithMessage("points_cost must be positive")
	case req.DiscountValue <= 0:
		return domain.Rule{}, domain.ErrInvalidRule.WithMessage("discount_value must be positive")
	case req.MinOrderValue < 0:
		return domain.Rule{}, domain.ErrInvalidRule.WithMessage("min_order_value must not be negative")
	}

	now := s.clock.Now().UTC()
	rule := domain.Rule{
		ID:            s.genID.Generate(),
		Name:          name,
		PointsCost:    req.PointsCost,
		DiscountValue: req.DiscountValue,
		MinOrderValue: req.MinOrderValue,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.rules.WithTrx(tx).Create(ctx, &rule); err != nil {
			return err
		}
		return s.audit(ctx, tx, "redemption_rule.create", rule.ID, map[string]any{
			"name":           rule.Name,
			"points_cost":    rule.PointsCost,
			"discount_value": rule.DiscountValue,
		})
	})
	if err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

func (s *Service) SetRuleActive(ctx context.Context, id string, active bool) (domain.Rule, error) {
	ruleID, err := parseID(id)
	if err != nil {
		return domain.Rule{}, domain.ErrInvalidRuleID
	}

	var rule *domain.Rule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.rules.WithTrx(tx)
		affected, err := store.Update(ctx, ruleID, map[string]any{
			"is_active":  active,
			"updated_at": s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrRuleNotFound
		}
		if rule, err = store.FindOne(ctx, &domain.Rule{ID: ruleID}); err != nil {
			return err
		}
		return s.audit(ctx, tx, "redemption_rule.set_active", ruleID, map[string]any{"is_active": active})
	})
	if err != nil {
		return domain.Rule{}, err
	}
	if rule == nil {
		return domain.Rule{}, domain.ErrRuleNotFound
	}
	return *rule, nil
}

func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]domain.Rule, error) {
	opts := []option.QueryOption{option.WithOrder("points_cost ASC, id ASC")}
	if activeOnly {
		opts = append(opts, option.WithWhere("is_active = ?", true))
	}
	rows, err := s.rules.Find(ctx, &domain.Rule{}, opts...)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, *row)
	}
	return rules, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, ruleID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Event{
		Action:     action,
		TargetType: "redemption_rule",
		TargetID:   ruleID.String(),
		Metadata:   metadata,
	})
}

func redemptionResult(err error) string {
	switch {
	case errors.Is(err, fault.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, fault.ErrValidation), errors.Is(err, fault.ErrNotFound):
		return "rejected"
	default:
		return "failed"
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, domain.ErrInvalidRuleID
	}
	return id, nil
}
