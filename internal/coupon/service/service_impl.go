package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCodePrefix = 48

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Loyalty *config.LoyaltyConfigHolder
	Repo    domain.Repository

	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	loyalty  *config.LoyaltyConfigHolder
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("coupon.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		loyalty:  p.Loyalty,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

// EnsureDefinition returns the rule's definition, creating it on first use.
// An existing definition follows the rule's current discount terms.
func (s *Service) EnsureDefinition(ctx context.Context, tx *gorm.DB, spec domain.DefinitionSpec) (domain.Definition, error) {
	if spec.RedemptionRuleID == 0 || spec.DiscountValue <= 0 || spec.MinOrderValue < 0 || spec.PointsCost < 0 {
		return domain.Definition{}, domain.ErrInvalidDefinition
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return domain.Definition{}, domain.ErrInvalidDefinition.WithMessage("name is required")
	}

	now := s.clock.Now().UTC()
	existing, err := s.repo.FindDefinitionByRule(ctx, tx, spec.RedemptionRuleID)
	if err != nil {
		return domain.Definition{}, err
	}
	if existing != nil {
		if existing.DiscountValue != spec.DiscountValue || existing.MinOrderValue != spec.MinOrderValue ||
			existing.PointsCost != spec.PointsCost || existing.Name != name {
			existing.Name = name
			existing.DiscountValue = spec.DiscountValue
			existing.MinOrderValue = spec.MinOrderValue
			existing.PointsCost = spec.PointsCost
			existing.UpdatedAt = now
			if err := s.repo.UpdateDefinition(ctx, tx, existing); err != nil {
				return domain.Definition{}, err
			}
		}
		return *existing, nil
	}

	ruleID := spec.RedemptionRuleID
	def := domain.Definition{
		ID:               s.genID.Generate(),
		RedemptionRuleID: &ruleID,
		Code:             DefinitionCode(name, ruleID),
		Name:             name,
		DiscountValue:    spec.DiscountValue,
		MinOrderValue:    spec.MinOrderValue,
		PointsCost:       spec.PointsCost,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.InsertDefinition(ctx, tx, &def); err != nil {
		return domain.Definition{}, err
	}
	return def, nil
}

func (s *Service) Issue(ctx context.Context, tx *gorm.DB, def domain.Definition, customerID snowflake.ID) (domain.Instance, error) {
	if customerID == 0 {
		return domain.Instance{}, domain.ErrInvalidCustomer
	}
	locked, err := s.repo.FindDefinitionForUpdate(ctx, tx, def.ID)
	if err != nil {
		return domain.Instance{}, err
	}
	if locked == nil {
		return domain.Instance{}, domain.ErrDefinitionNotFound
	}
	if !locked.Active {
		return domain.Instance{}, domain.ErrDefinitionInactive
	}

	now := s.clock.Now().UTC()
	if locked.Stock != nil {
		ok, err := s.repo.DecrementStock(ctx, tx, locked.ID, now)
		if err != nil {
			return domain.Instance{}, err
		}
		if !ok {
			return domain.Instance{}, domain.ErrOutOfStock
		}
	}

	id := s.genID.Generate()
	inst := domain.Instance{
		ID:            id,
		DefinitionID:  locked.ID,
		CustomerID:    customerID,
		Code:          InstanceCode(locked.Code, id),
		DiscountValue: locked.DiscountValue,
		MinOrderValue: locked.MinOrderValue,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.loyalty.Get().CouponTTL()),
	}
	if err := s.repo.InsertInstance(ctx, tx, &inst); err != nil {
		return domain.Instance{}, err
	}
	return inst, nil
}

// ValidateForCheckout checks an attachment without consuming it; the
// instance is only marked used when payment is confirmed. The row lock
// serializes concurrent checkouts racing for the same instance.
func (s *Service) ValidateForCheckout(ctx context.Context, tx *gorm.DB, req domain.CheckoutCoupon) (domain.Instance, error) {
	inst, err := s.repo.FindInstanceForUpdate(ctx, tx, req.InstanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if inst == nil {
		return domain.Instance{}, domain.ErrInstanceNotFound
	}
	if inst.CustomerID != req.CustomerID {
		return domain.Instance{}, domain.ErrNotOwned
	}
	if inst.ArchivedAt != nil {
		return domain.Instance{}, domain.ErrArchived
	}
	if inst.IsUsed {
		return domain.Instance{}, domain.ErrAlreadyUsed
	}
	if inst.Expired(s.clock.Now().UTC()) {
		return domain.Instance{}, domain.ErrExpired
	}
	pending, err := s.repo.PendingOrderFor(ctx, tx, inst.ID, 0)
	if err != nil {
		return domain.Instance{}, err
	}
	if pending != 0 {
		return domain.Instance{}, domain.ErrReserved.WithMessage("order %s", pending)
	}
	if req.Subtotal < inst.MinOrderValue {
		return *inst, domain.ErrBelowMinimum.WithMessage(
			"subtotal %d is below minimum %d", req.Subtotal, inst.MinOrderValue)
	}
	return *inst, nil
}

func (s *Service) MarkUsed(ctx context.Context, tx *gorm.DB, instanceID, orderID snowflake.ID) (domain.Instance, error) {
	inst, err := s.repo.FindInstanceForUpdate(ctx, tx, instanceID)
	if err != nil {
		return domain.Instance{}, err
	}
	if inst == nil {
		return domain.Instance{}, domain.ErrInstanceNotFound
	}
	if inst.IsUsed {
		if inst.OrderID == nil {
			return domain.Instance{}, domain.ErrUsedWithoutOrderRef.WithMessage("coupon %s", inst.ID)
		}
		if *inst.OrderID == orderID {
			return *inst, nil
		}
		return domain.Instance{}, domain.ErrOwnedByOtherOrder.WithMessage(
			"coupon %s used by order %s", inst.ID, *inst.OrderID)
	}

	now := s.clock.Now().UTC()
	ok, err := s.repo.MarkUsed(ctx, tx, instanceID, orderID, now)
	if err != nil {
		return domain.Instance{}, err
	}
	if !ok {
		return domain.Instance{}, domain.ErrOwnedByOtherOrder.WithMessage("coupon %s changed concurrently", inst.ID)
	}
	inst.IsUsed = true
	inst.OrderID = &orderID
	inst.UsedAt = &now
	return *inst, nil
}

func (s *Service) ListForCustomer(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || id <= 0 {
		return domain.ListResponse{}, domain.ErrInvalidCustomer
	}
	return s.list(ctx, id, req)
}

func (s *Service) ListAll(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	var customerID snowflake.ID
	if trimmed := strings.TrimSpace(req.CustomerID); trimmed != "" {
		id, err := snowflake.ParseString(trimmed)
		if err != nil || id <= 0 {
			return domain.ListResponse{}, domain.ErrInvalidCustomer
		}
		customerID = id
	}
	return s.list(ctx, customerID, req)
}

func (s *Service) list(ctx context.Context, customerID snowflake.ID, req domain.ListRequest) (domain.ListResponse, error) {
	var after snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id <= 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		after = id
	}

	pageSize := pagination.ClampPageSize(req.PageSize)
	items, err := s.repo.ListInventory(ctx, s.db, domain.InventoryFilter{
		CustomerID:      customerID,
		Used:            req.Used,
		IncludeArchived: req.IncludeArchived,
		AfterID:         after,
		Limit:           int(pageSize) + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.InventoryItem) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	resp := domain.ListResponse{Coupons: make([]domain.InventoryItem, 0, len(items))}
	for _, item := range items {
		resp.Coupons = append(resp.Coupons, *item)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Delete hard-deletes unused instances. Used instances are archived instead
// so the order keeps its coupon reference.
func (s *Service) Delete(ctx context.Context, instanceID string) (domain.DeleteResult, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(instanceID))
	if err != nil || id <= 0 {
		return domain.DeleteResult{}, domain.ErrInvalidID
	}

	result := domain.DeleteResult{InstanceID: id.String()}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inst, err := s.repo.FindInstanceForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if inst == nil {
			return domain.ErrInstanceNotFound
		}
		pending, err := s.repo.PendingOrderFor(ctx, tx, id, 0)
		if err != nil {
			return err
		}
		if pending != 0 {
			return domain.ErrAttachedToPending.WithMessage("order %s", pending)
		}

		action := "coupon.delete"
		if inst.IsUsed {
			result.Archived = true
			action = "coupon.archive"
			if err := s.repo.Archive(ctx, tx, id, s.clock.Now().UTC()); err != nil {
				return err
			}
		} else if err := s.repo.DeleteInstance(ctx, tx, id); err != nil {
			return err
		}

		if s.auditSvc == nil {
			return nil
		}
		metadata := map[string]any{
			"code":        inst.Code,
			"customer_id": inst.CustomerID.String(),
			"is_used":     inst.IsUsed,
		}
		if inst.OrderID != nil {
			metadata["order_id"] = inst.OrderID.String()
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Event{
			Action:     action,
			TargetType: "coupon_instance",
			TargetID:   id.String(),
			Metadata:   metadata,
		})
	})
	if err != nil {
		return domain.DeleteResult{}, err
	}

	s.log.Info("coupon removed", zap.String("instance_id", id.String()), zap.Bool("archived", result.Archived))
	return result, nil
}

func (s *Service) ListDefinitions(ctx context.Context) ([]domain.Definition, error) {
	return s.repo.ListDefinitions(ctx, s.db)
}

func (s *Service) UpdateDefinition(ctx context.Context, id string, req domain.UpdateDefinitionRequest) (domain.Definition, error) {
	defID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || defID <= 0 {
		return domain.Definition{}, domain.ErrInvalidID
	}
	if req.Active == nil && req.Stock == nil {
		return domain.Definition{}, domain.ErrInvalidDefinition.WithMessage("nothing to update")
	}

	var def domain.Definition
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindDefinitionForUpdate(ctx, tx, defID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrDefinitionNotFound
		}
		metadata := map[string]any{}
		if req.Active != nil {
			locked.Active = *req.Active
			metadata["active"] = *req.Active
		}
		if req.Stock != nil {
			if *req.Stock < 0 {
				locked.Stock = nil
				metadata["stock"] = "unlimited"
			} else {
				stock := *req.Stock
				locked.Stock = &stock
				metadata["stock"] = strconv.Itoa(stock)
			}
		}
		locked.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.UpdateDefinition(ctx, tx, locked); err != nil {
			return err
		}
		def = *locked
		if s.auditSvc == nil {
			return nil
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Event{
			Action:     "coupon_definition.update",
			TargetType: "coupon_definition",
			TargetID:   defID.String(),
			Metadata:   metadata,
		})
	})
	if err != nil {
		return domain.Definition{}, err
	}
	return def, nil
}

func DefinitionCode(name string, ruleID snowflake.ID) string {
	prefix := strings.ToUpper(slug.Make(name))
	if len(prefix) > maxCodePrefix {
		prefix = strings.Trim(prefix[:maxCodePrefix], "-")
	}
	suffix := strings.ToUpper(ruleID.Base36())
	if prefix == "" {
		return "CUPOM-" + suffix
	}
	return prefix + "-" + suffix
}

func InstanceCode(definitionCode string, id snowflake.ID) string {
	return definitionCode + "-" + strings.ToUpper(id.Base36())
}

var _ domain.Service = (*Service)(nil)
