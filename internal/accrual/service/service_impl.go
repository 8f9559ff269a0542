package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/accrual/domain"
	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fallbackMultiplier applies when no tier ladder is configured.
const fallbackMultiplier = 1.0

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Loyalty   *config.LoyaltyConfigHolder
	Repo      domain.Repository
	Customers customerdomain.Repository
	LedgerSvc ledgerdomain.Service
	TierSvc   tierdomain.Service
	BonusSvc  bonusdomain.Service
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	loyalty   *config.LoyaltyConfigHolder
	repo      domain.Repository
	customers customerdomain.Repository
	ledgerSvc ledgerdomain.Service
	tierSvc   tierdomain.Service
	bonusSvc  bonusdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("accrual.service"),
		clock:     p.Clock,
		loyalty:   p.Loyalty,
		repo:      p.Repo,
		customers: p.Customers,
		ledgerSvc: p.LedgerSvc,
		tierSvc:   p.TierSvc,
		bonusSvc:  p.BonusSvc,
	}
}

func (s *Service) Accrue(ctx context.Context, tx *gorm.DB, order domain.Order) (domain.Result, error) {
	policy := s.loyalty.Get()
	now := s.clock.Now().UTC()

	customer, err := s.customers.FindByIDForUpdate(ctx, tx, order.CustomerID)
	if err != nil {
		return domain.Result{}, err
	}
	if customer == nil {
		return domain.Result{}, ledgerdomain.ErrCustomerNotFound
	}

	prior, err := s.repo.TrailingSpend(ctx, tx, domain.SpendWindow{
		CustomerID: order.CustomerID,
		From:       now.AddDate(0, -policy.TrailingWindowMonths, 0),
		ExcludeID:  order.ID,
	})
	if err != nil {
		return domain.Result{}, err
	}

	tiers, err := s.tierSvc.Snapshot(ctx, tx)
	if err != nil && !errors.Is(err, tierdomain.ErrNoTiers) {
		return domain.Result{}, err
	}
	multiplier := fallbackMultiplier
	if len(tiers) > 0 {
		tier, err := tierdomain.Resolve(tiers, prior)
		if err != nil {
			return domain.Result{}, err
		}
		multiplier = tier.PointsMultiplier
	} else {
		s.log.Warn("no tiers configured, accruing at fallback multiplier",
			zap.String("order_id", order.ID.String()))
	}

	monthStart, monthEnd := monthBounds(order.CreatedAt, policy.Location())
	ordinal, err := s.repo.PaidInRange(ctx, tx, order.CustomerID, monthStart, monthEnd)
	if err != nil {
		return domain.Result{}, err
	}
	if ordinal < 1 {
		ordinal = 1
	}

	bonus, err := s.bonusSvc.Snapshot(ctx, tx)
	if err != nil {
		return domain.Result{}, err
	}

	result := domain.Result{
		Components: domain.Compute(domain.Input{
			NetValue:   order.NetValue,
			Multiplier: multiplier,
			Ordinal:    ordinal,
			Bonus:      bonus,
		}),
		Balance: customer.Points,
		Ordinal: ordinal,
	}

	if len(result.Components) > 0 {
		orderID := order.ID
		postings := make([]ledgerdomain.Posting, 0, len(result.Components))
		for _, c := range result.Components {
			postings = append(postings, ledgerdomain.Posting{
				Delta:     c.Points,
				Operation: ledgerdomain.OperationAccrual,
				Reason:    c.Reason,
				BonusKey:  domain.AccrualKey(order.ID, c.Kind),
				OrderID:   &orderID,
				Metadata: map[string]any{
					"component":  string(c.Kind),
					"multiplier": multiplier,
					"ordinal":    ordinal,
				},
			})
		}
		posted, err := s.ledgerSvc.Post(ctx, tx, ledgerdomain.PostRequest{
			CustomerID: order.CustomerID,
			Postings:   postings,
		})
		if err != nil {
			return domain.Result{}, err
		}
		result.Entries = posted.Entries
		result.Balance = posted.Balance
	}

	if err := s.grantReferral(ctx, tx, customer, order, bonus, &result); err != nil {
		return domain.Result{}, err
	}

	result.TrailingSpend = prior + order.NetValue
	if len(tiers) > 0 {
		current, err := tierdomain.Resolve(tiers, result.TrailingSpend)
		if err != nil {
			return domain.Result{}, err
		}
		result.TierID = &current.ID
	}
	if err := s.customers.UpdateStanding(ctx, tx, order.CustomerID, result.TrailingSpend, result.TierID, now); err != nil {
		return domain.Result{}, err
	}

	s.log.Info("order accrued",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID.String()),
		zap.Int64("points", domain.Total(result.Components)),
		zap.Int("ordinal", ordinal),
	)
	return result, nil
}

// grantReferral credits the referrer on the referred customer's first paid
// order. The bonus key keeps it once per referral relationship.
func (s *Service) grantReferral(ctx context.Context, tx *gorm.DB, customer *customerdomain.Customer, order domain.Order, bonus bonusdomain.Config, result *domain.Result) error {
	if customer.ReferredBy == nil || bonus.ReferralBonus <= 0 {
		return nil
	}
	paid, err := s.repo.PaidCount(ctx, tx, customer.ID)
	if err != nil {
		return err
	}
	if paid != 1 {
		return nil
	}

	posted, err := s.ledgerSvc.Post(ctx, tx, ledgerdomain.PostRequest{
		CustomerID: *customer.ReferredBy,
		Postings: []ledgerdomain.Posting{{
			Delta:     bonus.ReferralBonus,
			Operation: ledgerdomain.OperationAccrual,
			Reason:    "referral bonus",
			BonusKey:  domain.ReferralKey(customer.ID),
			Metadata: map[string]any{
				"referred_customer_id": customer.ID.String(),
				"order_id":             order.ID.String(),
			},
		}},
	})
	if err != nil {
		return err
	}
	if len(posted.Entries) > 0 {
		referrer := *customer.ReferredBy
		result.ReferrerID = &referrer
	}
	return nil
}

func (s *Service) TrailingSpend(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error) {
	policy := s.loyalty.Get()
	return s.repo.TrailingSpend(ctx, db, domain.SpendWindow{
		CustomerID: customerID,
		From:       s.clock.Now().UTC().AddDate(0, -policy.TrailingWindowMonths, 0),
	})
}

func (s *Service) RefreshStanding(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) error {
	now := s.clock.Now().UTC()

	spend, err := s.TrailingSpend(ctx, tx, customerID)
	if err != nil {
		return err
	}

	var tierID *snowflake.ID
	tiers, err := s.tierSvc.Snapshot(ctx, tx)
	switch {
	case err == nil:
		tier, err := tierdomain.Resolve(tiers, spend)
		if err != nil {
			return err
		}
		tierID = &tier.ID
	case !errors.Is(err, tierdomain.ErrNoTiers):
		return err
	}
	return s.customers.UpdateStanding(ctx, tx, customerID, spend, tierID, now)
}

// monthBounds returns the UTC instants bounding the calendar month of t in loc.
func monthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}
