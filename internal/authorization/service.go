package authorization

import (
	"context"
	"errors"
)

type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorAdmin    ActorType = "admin"
	ActorSystem   ActorType = "system"
)

func (t ActorType) Valid() bool {
	switch t {
	case ActorCustomer, ActorAdmin, ActorSystem:
		return true
	}
	return false
}

// Actor is the caller identity asserted by the upstream gateway.
type Actor struct {
	Type ActorType
	ID   string
}

const (
	ObjectOrder          = "order"
	ObjectCustomer       = "customer"
	ObjectLedger         = "ledger"
	ObjectCoupon         = "coupon"
	ObjectRedemptionRule = "redemption_rule"
	ObjectBonusSettings  = "bonus_settings"
	ObjectTier           = "tier"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionOrderCreate   = "order.create"
	ActionOrderView     = "order.view"
	ActionOrderConfirm  = "order.confirm"
	ActionOrderFinalize = "order.finalize"
	ActionOrderCancel   = "order.cancel"
	ActionOrderReverse  = "order.reverse"
	ActionOrderDelivery = "order.delivery"
	ActionOrderBulk     = "order.bulk"

	ActionCustomerCreate   = "customer.create"
	ActionCustomerView     = "customer.view"
	ActionCustomerBirthday = "customer.birthday"

	ActionLedgerView      = "ledger.view"
	ActionLedgerAdjust    = "ledger.adjust"
	ActionLedgerReconcile = "ledger.reconcile"

	ActionCouponView   = "coupon.view"
	ActionCouponRedeem = "coupon.redeem"
	ActionCouponDelete = "coupon.delete"

	ActionRuleView   = "redemption_rule.view"
	ActionRuleManage = "redemption_rule.manage"

	ActionBonusView   = "bonus_settings.view"
	ActionBonusManage = "bonus_settings.manage"

	ActionTierView   = "tier.view"
	ActionTierManage = "tier.manage"

	ActionAuditLogView = "audit_log.view"
)

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
