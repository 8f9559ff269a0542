package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository

	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("tier.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) List(ctx context.Context) ([]domain.Tier, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Snapshot(ctx context.Context, db *gorm.DB) ([]domain.Tier, error) {
	tiers, err := s.repo.List(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, domain.ErrNoTiers
	}
	return tiers, nil
}

// Replace swaps the whole ladder atomically. Tiers keep their id when the
// name is unchanged so cached customer tier references stay meaningful.
func (s *Service) Replace(ctx context.Context, inputs []domain.TierInput) ([]domain.Tier, error) {
	now := time.Now().UTC()
	candidate := make([]domain.Tier, 0, len(inputs))
	for _, in := range inputs {
		candidate = append(candidate, domain.Tier{
			Name:             strings.TrimSpace(in.Name),
			MinSpend:         in.MinSpend,
			MaxSpend:         in.MaxSpend,
			PointsMultiplier: in.PointsMultiplier,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	if err := domain.Validate(candidate); err != nil {
		return nil, err
	}
	candidate = domain.Sorted(candidate)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.List(ctx, tx)
		if err != nil {
			return err
		}
		byName := make(map[string]domain.Tier, len(existing))
		for _, t := range existing {
			byName[strings.ToLower(t.Name)] = t
		}
		for i := range candidate {
			if prev, ok := byName[strings.ToLower(candidate[i].Name)]; ok {
				candidate[i].ID = prev.ID
				candidate[i].CreatedAt = prev.CreatedAt
				continue
			}
			candidate[i].ID = s.genID.Generate()
		}
		if err := s.repo.ReplaceAll(ctx, tx, candidate); err != nil {
			return err
		}
		if s.auditSvc == nil {
			return nil
		}
		names := make([]any, 0, len(candidate))
		for _, t := range candidate {
			names = append(names, t.Name)
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Event{
			Action:     "tier.replace",
			TargetType: "tiers",
			Metadata:   map[string]any{"tiers": names},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tier ladder replaced", zap.Int("tiers", len(candidate)))
	return candidate, nil
}
