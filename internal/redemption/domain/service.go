package domain

import (
	"context"

	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
)

type RedeemRequest struct {
	CustomerID string `json:"customer_id"`
	RuleID     string `json:"rule_id"`
}

type RedeemResponse struct {
	Coupon      coupondomain.Instance `json:"coupon"`
	PointsSpent int64                 `json:"points_spent"`
	Balance     int64                 `json:"balance"`
}

type CreateRuleRequest struct {
	Name          string `json:"name"`
	PointsCost    int64  `json:"points_cost"`
	DiscountValue int64  `json:"discount_value"`
	MinOrderValue int64  `json:"min_order_value"`
}

type Service interface {
	Redeem(ctx context.Context, req RedeemRequest) (RedeemResponse, error)
	CreateRule(ctx context.Context, req CreateRuleRequest) (Rule, error)
	SetRuleActive(ctx context.Context, id string, active bool) (Rule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]Rule, error)
}

var (
	ErrInvalidCustomer = fault.New(fault.KindValidation, "invalid_customer_id")
	ErrInvalidRuleID   = fault.New(fault.KindValidation, "invalid_rule_id")
	ErrInvalidRule     = fault.New(fault.KindValidation, "invalid_redemption_rule")
	ErrRuleInactive    = fault.New(fault.KindValidation, "redemption_rule_inactive")
	ErrRuleNotFound    = fault.New(fault.KindNotFound, "redemption_rule_not_found")
)
