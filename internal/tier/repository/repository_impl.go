package repository

import (
	"context"

	"github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Tier, error) {
	var tiers []domain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, min_spend, max_spend, points_multiplier, created_at, updated_at
		 FROM tiers ORDER BY min_spend ASC`,
	).Scan(&tiers).Error
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repo) ReplaceAll(ctx context.Context, db *gorm.DB, tiers []domain.Tier) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM tiers`).Error; err != nil {
		return err
	}
	for _, t := range tiers {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO tiers (id, name, min_spend, max_spend, points_multiplier, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.MinSpend, t.MaxSpend, t.PointsMultiplier, t.CreatedAt, t.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
