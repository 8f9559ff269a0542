package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/accrual/domain"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var paidStatuses = []string{string(orderdomain.PaymentPaid), string(orderdomain.PaymentFinalized)}

func (r *repo) TrailingSpend(ctx context.Context, db *gorm.DB, window domain.SpendWindow) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(net_value), 0) FROM orders
		 WHERE customer_id = ? AND status IN ? AND paid_at >= ? AND id <> ?`,
		window.CustomerID, paidStatuses, window.From, window.ExcludeID,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) PaidInRange(ctx context.Context, db *gorm.DB, customerID snowflake.ID, from, to time.Time) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM orders
		 WHERE customer_id = ? AND status IN ? AND created_at >= ? AND created_at < ?`,
		customerID, paidStatuses, from, to,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) PaidCount(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM orders WHERE customer_id = ? AND status IN ?`,
		customerID, paidStatuses,
	).Scan(&count).Error
	return int(count), err
}
