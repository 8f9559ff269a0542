package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository

	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("bonus.service"),
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Snapshot(ctx context.Context, db *gorm.DB) (domain.Config, error) {
	rows, err := s.repo.List(ctx, db)
	if err != nil {
		return domain.Config{}, err
	}
	return domain.ConfigFromSettings(rows), nil
}

func (s *Service) Get(ctx context.Context) (domain.Config, error) {
	return s.Snapshot(ctx, s.db)
}

func (s *Service) Update(ctx context.Context, values map[string]int64) (domain.Config, error) {
	if len(values) == 0 {
		return domain.Config{}, domain.ErrEmptyUpdate
	}
	known := make(map[string]struct{}, len(domain.Keys))
	for _, key := range domain.Keys {
		known[key] = struct{}{}
	}
	normalized := make(map[string]int64, len(values))
	for key, value := range values {
		key = strings.ToLower(strings.TrimSpace(key))
		if _, ok := known[key]; !ok {
			return domain.Config{}, domain.ErrUnknownKey.WithMessage("%s", key)
		}
		if value < 0 {
			return domain.Config{}, domain.ErrInvalidValue.WithMessage("%s must not be negative", key)
		}
		normalized[key] = value
	}

	var cfg domain.Config
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range normalized {
			if err := s.repo.Upsert(ctx, tx, key, value, now); err != nil {
				return err
			}
		}
		var err error
		if cfg, err = s.Snapshot(ctx, tx); err != nil {
			return err
		}
		if s.auditSvc == nil {
			return nil
		}
		metadata := make(map[string]any, len(normalized))
		for key, value := range normalized {
			metadata[key] = value
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Event{
			Action:     "bonus.update",
			TargetType: "bonus_settings",
			Metadata:   metadata,
		})
	})
	if err != nil {
		return domain.Config{}, err
	}

	s.log.Info("bonus settings updated", zap.Int("keys", len(normalized)))
	return cfg, nil
}
