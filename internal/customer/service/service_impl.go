package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	accrualdomain "github.com/smallbiznis/storefront-ledger/internal/accrual/domain"
	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/observability/logger"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BirthdayBonusKey is the ledger bonus key that makes the birthday grant
// one-time per customer.
const BirthdayBonusKey = "birthday"

const maxReferralPrefix = 12

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo       domain.Repository
	LedgerSvc  ledgerdomain.Service
	BonusSvc   bonusdomain.Service
	TierSvc    tierdomain.Service
	AccrualSvc accrualdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo       domain.Repository
	ledgerSvc  ledgerdomain.Service
	bonusSvc   bonusdomain.Service
	tierSvc    tierdomain.Service
	accrualSvc accrualdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("customer.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		ledgerSvc: p.LedgerSvc,
		bonusSvc:  p.BonusSvc,
		tierSvc:    p.TierSvc,
		accrualSvc: p.AccrualSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.Customer{}, domain.ErrInvalidEmail
	}

	id := s.genID.Generate()
	now := s.clock.Now().UTC()
	customer := domain.Customer{
		ID:           id,
		Name:         name,
		Email:        email,
		ReferralCode: ReferralCode(name, id),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if code := strings.TrimSpace(req.ReferralCode); code != "" {
			referrer, err := s.repo.FindByReferralCode(ctx, tx, strings.ToUpper(code))
			if err != nil {
				return err
			}
			if referrer == nil {
				return domain.ErrInvalidReferralCode
			}
			customer.ReferredBy = &referrer.ID
		}

		tiers, err := s.tierSvc.Snapshot(ctx, tx)
		switch {
		case err == nil:
			if tier, err := tierdomain.Resolve(tiers, 0); err == nil {
				customer.TierID = &tier.ID
			}
		case errors.Is(err, tierdomain.ErrNoTiers):
		default:
			return err
		}

		return s.repo.Insert(ctx, tx, &customer)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Customer{}, domain.ErrEmailTaken
		}
		return domain.Customer{}, err
	}

	logger.WithCustomer(s.log, id.String()).Info("customer created",
		zap.Bool("referred", customer.ReferredBy != nil),
	)
	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Customer, error) {
	customerID, err := parseID(id)
	if err != nil {
		return domain.Customer{}, domain.ErrInvalidID
	}
	customer, err := s.repo.FindByID(ctx, s.db, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if customer == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *customer, nil
}

func (s *Service) RegisterBirthday(ctx context.Context, req domain.RegisterBirthdayRequest) (domain.RegisterBirthdayResponse, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.RegisterBirthdayResponse{}, domain.ErrInvalidID
	}
	if req.Birthday.IsZero() {
		return domain.RegisterBirthdayResponse{}, domain.ErrInvalidBirthday
	}
	now := s.clock.Now().UTC()
	birthday := time.Date(req.Birthday.Year(), req.Birthday.Month(), req.Birthday.Day(), 0, 0, 0, 0, time.UTC)
	if birthday.After(now) {
		return domain.RegisterBirthdayResponse{}, domain.ErrInvalidBirthday.WithMessage("birthday is in the future")
	}

	var resp domain.RegisterBirthdayResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.repo.FindByIDForUpdate(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrNotFound
		}
		if customer.Birthday != nil {
			return domain.ErrBirthdayRegistered
		}
		if err := s.repo.SetBirthday(ctx, tx, customerID, birthday, now); err != nil {
			return err
		}

		bonus, err := s.bonusSvc.Snapshot(ctx, tx)
		if err != nil {
			return err
		}
		resp.Balance = customer.Points
		if bonus.BirthdayBonus > 0 {
			result, err := s.ledgerSvc.Post(ctx, tx, ledgerdomain.PostRequest{
				CustomerID: customerID,
				Postings: []ledgerdomain.Posting{{
					Delta:     bonus.BirthdayBonus,
					Operation: ledgerdomain.OperationAccrual,
					Reason:    "birthday bonus",
					BonusKey:  BirthdayBonusKey,
				}},
			})
			if err != nil {
				return err
			}
			if len(result.Entries) > 0 {
				resp.BonusGranted = bonus.BirthdayBonus
			}
			resp.Balance = result.Balance
		}

		customer.Birthday = &birthday
		customer.Points = resp.Balance
		customer.UpdatedAt = now
		resp.Customer = *customer
		return nil
	})
	if err != nil {
		return domain.RegisterBirthdayResponse{}, err
	}

	s.ledgerSvc.Invalidate(ctx, customerID)
	logger.WithCustomer(s.log, customerID.String()).Info("birthday registered",
		zap.Int64("bonus", resp.BonusGranted),
	)
	return resp, nil
}

// Standing recomputes trailing spend for the window ending now so the shown
// tier matches the multiplier the next accrual would use. Without a tier
// ladder Tier is omitted.
func (s *Service) Standing(ctx context.Context, id string) (domain.Standing, error) {
	customer, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Standing{}, err
	}
	balance, err := s.ledgerSvc.Balance(ctx, customer.ID)
	if err != nil {
		return domain.Standing{}, err
	}
	spend, err := s.accrualSvc.TrailingSpend(ctx, s.db, customer.ID)
	if err != nil {
		return domain.Standing{}, err
	}

	standing := domain.Standing{
		CustomerID:    customer.ID.String(),
		Balance:       balance,
		TrailingSpend: spend,
	}
	tiers, err := s.tierSvc.Snapshot(ctx, s.db)
	switch {
	case errors.Is(err, tierdomain.ErrNoTiers):
		return standing, nil
	case err != nil:
		return domain.Standing{}, err
	}
	progress, err := tierdomain.ProgressFor(tiers, spend)
	if err != nil {
		return domain.Standing{}, err
	}
	standing.Tier = &progress
	return standing, nil
}

// ReferralCode derives a shareable code from the first name; the id suffix
// keeps it unique.
func ReferralCode(name string, id snowflake.ID) string {
	first := name
	if fields := strings.Fields(name); len(fields) > 0 {
		first = fields[0]
	}
	prefix := strings.ToUpper(strings.ReplaceAll(slug.Make(first), "-", ""))
	if len(prefix) > maxReferralPrefix {
		prefix = prefix[:maxReferralPrefix]
	}
	suffix := strings.ToUpper(id.Base36())
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
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
