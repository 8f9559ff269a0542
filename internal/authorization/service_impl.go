package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer stores policies in casbin_rule through the gorm adapter and
// seeds the built-in roles.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	subject, err := s.ensureSubject(actor)
	if err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureSubject links the actor to its role the first time it is seen.
func (s *ServiceImpl) ensureSubject(actor Actor) (string, error) {
	if !actor.Type.Valid() {
		return "", ErrInvalidActor
	}
	id := strings.TrimSpace(actor.ID)
	if id == "" {
		if actor.Type != ActorSystem {
			return "", ErrInvalidActor
		}
		id = "system"
	}
	subject := string(actor.Type) + ":" + id
	role := roleFor(actor.Type)

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return "", err
	}
	if !has {
		if _, err := s.enforcer.AddGroupingPolicy(subject, role); err != nil {
			return "", err
		}
	}
	return subject, nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object string, action string) {
	s.log.Warn("authorization denied",
		zap.String("actor_type", string(actor.Type)),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, nil, auditdomain.Event{
		ActorType:  string(actor.Type),
		ActorID:    actor.ID,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	}); err != nil {
		s.log.Warn("audit authorization denial failed", zap.Error(err))
	}
}

func roleFor(t ActorType) string {
	return "role:" + string(t)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Customers act on their own profile; ownership is checked by the caller.
		{roleFor(ActorCustomer), ObjectOrder, ActionOrderCreate},
		{roleFor(ActorCustomer), ObjectOrder, ActionOrderView},
		{roleFor(ActorCustomer), ObjectOrder, ActionOrderCancel},
		{roleFor(ActorCustomer), ObjectCustomer, ActionCustomerView},
		{roleFor(ActorCustomer), ObjectCustomer, ActionCustomerBirthday},
		{roleFor(ActorCustomer), ObjectLedger, ActionLedgerView},
		{roleFor(ActorCustomer), ObjectCoupon, ActionCouponView},
		{roleFor(ActorCustomer), ObjectCoupon, ActionCouponRedeem},
		{roleFor(ActorCustomer), ObjectRedemptionRule, ActionRuleView},
		{roleFor(ActorCustomer), ObjectTier, ActionTierView},

		// Storefront backend, payment gateway and logistics integrations.
		{roleFor(ActorSystem), ObjectOrder, ActionOrderCreate},
		{roleFor(ActorSystem), ObjectOrder, ActionOrderView},
		{roleFor(ActorSystem), ObjectOrder, ActionOrderConfirm},
		{roleFor(ActorSystem), ObjectOrder, ActionOrderFinalize},
		{roleFor(ActorSystem), ObjectOrder, ActionOrderCancel},
		{roleFor(ActorSystem), ObjectOrder, ActionOrderDelivery},
		{roleFor(ActorSystem), ObjectCustomer, ActionCustomerCreate},
		{roleFor(ActorSystem), ObjectCustomer, ActionCustomerView},
		{roleFor(ActorSystem), ObjectRedemptionRule, ActionRuleView},
		{roleFor(ActorSystem), ObjectTier, ActionTierView},

		{roleFor(ActorAdmin), ObjectOrder, "*"},
		{roleFor(ActorAdmin), ObjectCustomer, "*"},
		{roleFor(ActorAdmin), ObjectLedger, "*"},
		{roleFor(ActorAdmin), ObjectCoupon, "*"},
		{roleFor(ActorAdmin), ObjectRedemptionRule, "*"},
		{roleFor(ActorAdmin), ObjectBonusSettings, "*"},
		{roleFor(ActorAdmin), ObjectTier, "*"},
		{roleFor(ActorAdmin), ObjectAuditLog, "*"},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
