package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Setting, error) {
	var rows []domain.Setting
	if err := db.WithContext(ctx).
		Raw(`SELECT name, value, updated_at FROM bonus_settings`).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, name string, value int64, at time.Time) error {
	row := domain.Setting{Name: name, Value: value, UpdatedAt: at}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}
