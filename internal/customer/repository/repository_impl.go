package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const customerColumns = `id, name, email, referral_code, referred_by, birthday, points, trailing_spend, tier_id, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.Name,
		customer.Email,
		customer.ReferralCode,
		customer.ReferredBy,
		customer.Birthday,
		customer.Points,
		customer.TrailingSpend,
		customer.TierID,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repo) FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE referral_code = ?`,
		code,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) SwapPoints(ctx context.Context, db *gorm.DB, id snowflake.ID, prev, next int64, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers SET points = ?, updated_at = ? WHERE id = ? AND points = ?`,
		next, at, id, prev,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) SetBirthday(ctx context.Context, db *gorm.DB, id snowflake.ID, birthday time.Time, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers SET birthday = ?, updated_at = ? WHERE id = ? AND birthday IS NULL`,
		birthday, at, id,
	).Error
}

func (r *repo) UpdateStanding(ctx context.Context, db *gorm.DB, id snowflake.ID, trailingSpend int64, tierID *snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers SET trailing_spend = ?, tier_id = ?, updated_at = ? WHERE id = ?`,
		trailingSpend, tierID, at, id,
	).Error
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM customers WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
