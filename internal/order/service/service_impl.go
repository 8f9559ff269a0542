package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accrualdomain "github.com/smallbiznis/storefront-ledger/internal/accrual/domain"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/observability/metrics"
	"github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReversalKey is the ledger bonus key of the entry undoing accrual entry id.
func ReversalKey(entryID snowflake.ID) string {
	return "reversal:" + entryID.String()
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Loyalty    *config.LoyaltyConfigHolder
	Repo       domain.Repository
	Customers  customerdomain.Repository
	CouponSvc  coupondomain.Service
	AccrualSvc accrualdomain.Service
	LedgerSvc  ledgerdomain.Service

	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	loyalty    *config.LoyaltyConfigHolder
	repo       domain.Repository
	customers  customerdomain.Repository
	couponSvc  coupondomain.Service
	accrualSvc accrualdomain.Service
	ledgerSvc  ledgerdomain.Service
	metrics    *metrics.Metrics
	auditSvc   auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		loyalty:    p.Loyalty,
		repo:       p.Repo,
		customers:  p.Customers,
		couponSvc:  p.CouponSvc,
		accrualSvc: p.AccrualSvc,
		ledgerSvc:  p.LedgerSvc,
		metrics:    p.Metrics,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResponse, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.CreateOrderResponse{}, domain.ErrInvalidCustomer
	}
	if len(req.Items) == 0 {
		return domain.CreateOrderResponse{}, domain.ErrEmptyItems
	}
	if req.ShippingCost < 0 || req.Donation < 0 {
		return domain.CreateOrderResponse{}, domain.ErrInvalidAmount
	}

	id := s.genID.Generate()
	items := make([]domain.Item, 0, len(req.Items))
	for i, in := range req.Items {
		name := strings.TrimSpace(in.Name)
		if name == "" || in.UnitPrice < 0 || in.Quantity <= 0 {
			return domain.CreateOrderResponse{}, domain.ErrInvalidItem.WithMessage("item %d", i)
		}
		items = append(items, domain.Item{
			ID:        s.genID.Generate(),
			OrderID:   id,
			Name:      name,
			UnitPrice: in.UnitPrice,
			Quantity:  in.Quantity,
		})
	}

	var couponID snowflake.ID
	if trimmed := strings.TrimSpace(req.CouponInstanceID); trimmed != "" {
		if couponID, err = parseID(trimmed); err != nil {
			return domain.CreateOrderResponse{}, coupondomain.ErrInvalidID
		}
	}

	policy := s.loyalty.Get()
	now := s.clock.Now().UTC()
	resp := domain.CreateOrderResponse{}
	order := domain.Order{
		ID:             id,
		CustomerID:     customerID,
		Status:         domain.PaymentPending,
		DeliveryStatus: domain.DeliveryPending,
		PaymentMethod:  strings.TrimSpace(req.PaymentMethod),
		ShippingCost:   req.ShippingCost,
		Donation:       req.Donation,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          items,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customers.FindByID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return customerdomain.ErrNotFound
		}

		subtotal, _, _, err := domain.Totals(items, 0, order.ShippingCost, order.Donation)
		if err != nil {
			return err
		}
		if couponID != 0 {
			inst, err := s.couponSvc.ValidateForCheckout(ctx, tx, coupondomain.CheckoutCoupon{
				InstanceID: couponID,
				CustomerID: customerID,
				Subtotal:   subtotal,
			})
			switch {
			case err == nil:
				order.CouponInstanceID = &inst.ID
				order.CouponDiscount = inst.DiscountValue
			case errors.Is(err, coupondomain.ErrBelowMinimum) && policy.CouponBelowMinimum == config.CouponBelowMinimumDrop:
				resp.CouponDropped = true
			default:
				return err
			}
		}

		order.Subtotal, order.NetValue, order.Total, err = domain.Totals(items, order.CouponDiscount, order.ShippingCost, order.Donation)
		if err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, &order)
	})
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", id.String()),
		zap.String("customer_id", customerID.String()),
		zap.Int64("total", order.Total),
		zap.Bool("coupon_dropped", resp.CouponDropped),
	)
	resp.Order = order
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	orderID, err := parseID(id)
	if err != nil {
		return domain.Order{}, domain.ErrInvalidID
	}
	return s.load(ctx, s.db, orderID)
}

func (s *Service) ListForCustomer(ctx context.Context, req domain.ListOrdersRequest) (domain.ListOrdersResponse, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.ListOrdersResponse{}, domain.ErrInvalidCustomer
	}
	status := domain.PaymentStatus(strings.TrimSpace(req.Status))
	if status != "" && !status.Valid() {
		return domain.ListOrdersResponse{}, domain.ErrInvalidStatus.WithMessage("%q", status)
	}

	var cursor *domain.OrderCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListOrdersResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListOrdersResponse{}, domain.ErrInvalidPageToken
		}
		id, err := parseID(decoded.ID)
		if err != nil {
			return domain.ListOrdersResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.OrderCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.ClampPageSize(req.PageSize)
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		CustomerID: customerID,
		Status:     status,
		Cursor:     cursor,
		Limit:      int(pageSize) + 1,
	})
	if err != nil {
		return domain.ListOrdersResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.Order) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	resp := domain.ListOrdersResponse{Orders: make([]domain.Order, 0, len(items))}
	for _, item := range items {
		lines, err := s.repo.Items(ctx, s.db, item.ID)
		if err != nil {
			return domain.ListOrdersResponse{}, err
		}
		item.Items = lines
		resp.Orders = append(resp.Orders, *item)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// ConfirmPayment marks the order paid, consumes its coupon and accrues points
// in one transaction. A second confirmation is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, id string) (domain.ConfirmPaymentResponse, error) {
	orderID, err := parseID(id)
	if err != nil {
		return domain.ConfirmPaymentResponse{}, domain.ErrInvalidID
	}

	policy := s.loyalty.Get()
	var (
		resp    domain.ConfirmPaymentResponse
		touched []snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		run, err := domain.CanConfirm(order.Status)
		if err != nil {
			return err
		}
		if !run {
			resp.AlreadyPaid = true
			return nil
		}

		now := s.clock.Now().UTC()
		status := domain.PaymentStatus(policy.ConfirmedStatus)
		if err := s.repo.MarkPaid(ctx, tx, orderID, status, now); err != nil {
			return err
		}
		if order.CouponInstanceID != nil {
			if _, err := s.couponSvc.MarkUsed(ctx, tx, *order.CouponInstanceID, orderID); err != nil {
				return err
			}
		}

		result, err := s.accrualSvc.Accrue(ctx, tx, accrualdomain.Order{
			ID:         order.ID,
			CustomerID: order.CustomerID,
			NetValue:   order.NetValue,
			CreatedAt:  order.CreatedAt,
		})
		if err != nil {
			return err
		}
		resp.Points = accrualdomain.Total(result.Components)
		touched = result.Touched(order.CustomerID)
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "order_confirm", orderID, err)
		s.metrics.RecordPaymentConfirmation(ctx, "failed")
		return domain.ConfirmPaymentResponse{}, err
	}

	s.ledgerSvc.Invalidate(ctx, touched...)
	if resp.AlreadyPaid {
		s.metrics.RecordPaymentConfirmation(ctx, "duplicate")
	} else {
		s.metrics.RecordPaymentConfirmation(ctx, "confirmed")
		s.log.Info("payment confirmed",
			zap.String("order_id", orderID.String()),
			zap.Int64("points", resp.Points),
		)
	}

	resp.Order, err = s.load(ctx, s.db, orderID)
	return resp, err
}

func (s *Service) Finalize(ctx context.Context, id string) (domain.Order, error) {
	return s.transition(ctx, id, func(tx *gorm.DB, order *domain.Order, now time.Time) error {
		if err := domain.CanFinalize(order.Status); err != nil {
			return err
		}
		return s.repo.SetStatus(ctx, tx, order.ID, domain.PaymentFinalized, now)
	})
}

// Cancel only applies to unpaid orders; the attached coupon stays unused.
func (s *Service) Cancel(ctx context.Context, id string, reason string) (domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	return s.transition(ctx, id, func(tx *gorm.DB, order *domain.Order, now time.Time) error {
		if err := domain.CanCancel(order.Status); err != nil {
			return err
		}
		return s.repo.MarkCancelled(ctx, tx, order.ID, reason, now)
	})
}

// Reverse cancels a paid order and posts one reversal per accrual entry of
// that order. Reversals may take the balance negative; the consumed coupon
// stays used.
func (s *Service) Reverse(ctx context.Context, id string, reason string) (domain.ReverseResponse, error) {
	orderID, err := parseID(id)
	if err != nil {
		return domain.ReverseResponse{}, domain.ErrInvalidID
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "order reversed"
	}

	var (
		resp       domain.ReverseResponse
		customerID snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		if err := domain.CanReverse(order.Status); err != nil {
			return err
		}
		customerID = order.CustomerID

		accruals, err := s.ledgerSvc.EntriesForOrder(ctx, tx, orderID, ledgerdomain.OperationAccrual)
		if err != nil {
			return err
		}
		if len(accruals) > 0 {
			postings := make([]ledgerdomain.Posting, 0, len(accruals))
			for _, entry := range accruals {
				postings = append(postings, ledgerdomain.Posting{
					Delta:     -entry.Delta,
					Operation: ledgerdomain.OperationReversal,
					Reason:    "reversal: " + entry.Reason,
					BonusKey:  ReversalKey(entry.ID),
					OrderID:   &orderID,
					Metadata:  map[string]any{"reverses": entry.ID.String(), "reason": reason},
				})
			}
			posted, err := s.ledgerSvc.Post(ctx, tx, ledgerdomain.PostRequest{
				CustomerID:    order.CustomerID,
				Postings:      postings,
				AllowNegative: true,
			})
			if err != nil {
				return err
			}
			for _, entry := range posted.Entries {
				resp.Reversed -= entry.Delta
			}
			resp.Balance = posted.Balance
		} else {
			customer, err := s.customers.FindByID(ctx, tx, order.CustomerID)
			if err != nil {
				return err
			}
			if customer != nil {
				resp.Balance = customer.Points
			}
		}

		if err := s.repo.MarkCancelled(ctx, tx, orderID, reason, s.clock.Now().UTC()); err != nil {
			return err
		}
		if err := s.accrualSvc.RefreshStanding(ctx, tx, order.CustomerID); err != nil {
			return err
		}
		return s.audit(ctx, tx, "order.reverse", orderID.String(), map[string]any{
			"reason":   reason,
			"reversed": resp.Reversed,
		})
	})
	if err != nil {
		s.recordFailure(ctx, "order_reverse", orderID, err)
		return domain.ReverseResponse{}, err
	}

	s.ledgerSvc.Invalidate(ctx, customerID)
	s.log.Info("order reversed",
		zap.String("order_id", orderID.String()),
		zap.Int64("points", resp.Reversed),
	)
	resp.Order, err = s.load(ctx, s.db, orderID)
	return resp, err
}

func (s *Service) AdvanceDelivery(ctx context.Context, id string, next domain.DeliveryStatus) (domain.Order, error) {
	return s.transition(ctx, id, func(tx *gorm.DB, order *domain.Order, now time.Time) error {
		if err := domain.CanAdvanceDelivery(order.Status, order.DeliveryStatus, next); err != nil {
			return err
		}
		return s.repo.SetDeliveryStatus(ctx, tx, order.ID, next, now)
	})
}

// transition locks the order and applies fn inside its own transaction.
func (s *Service) transition(ctx context.Context, id string, fn func(tx *gorm.DB, order *domain.Order, now time.Time) error) (domain.Order, error) {
	orderID, err := parseID(id)
	if err != nil {
		return domain.Order{}, domain.ErrInvalidID
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		return fn(tx, order, s.clock.Now().UTC())
	})
	if err != nil {
		return domain.Order{}, err
	}
	return s.load(ctx, s.db, orderID)
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	items, err := s.repo.Items(ctx, db, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return *order, nil
}

// recordFailure logs consistency errors distinctly; they point at a bug or a
// lost race and are never corrected automatically.
func (s *Service) recordFailure(ctx context.Context, source string, orderID snowflake.ID, err error) {
	if !errors.Is(err, fault.ErrConsistency) {
		return
	}
	s.metrics.RecordConsistencyError(ctx, source)
	s.log.Error("consistency error",
		zap.String("source", source),
		zap.String("order_id", orderID.String()),
		zap.String("code", fault.CodeOf(err)),
		zap.Error(err),
	)
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action, targetID string, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Event{
		Action:     action,
		TargetType: "order",
		TargetID:   targetID,
		Metadata:   metadata,
	})
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
