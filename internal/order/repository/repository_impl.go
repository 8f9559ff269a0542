package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, customer_id, status, delivery_status, payment_method, subtotal, shipping_cost,
	coupon_instance_id, coupon_discount, donation, net_value, total, paid_at, cancelled_at,
	cancel_reason, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.CustomerID,
		order.Status,
		order.DeliveryStatus,
		order.PaymentMethod,
		order.Subtotal,
		order.ShippingCost,
		order.CouponInstanceID,
		order.CouponDiscount,
		order.Donation,
		order.NetValue,
		order.Total,
		order.PaidAt,
		order.CancelledAt,
		order.CancelReason,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
	if err != nil {
		return err
	}
	for _, item := range order.Items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (id, order_id, name, unit_price, quantity) VALUES (?, ?, ?, ?, ?)`,
			item.ID, order.ID, item.Name, item.UnitPrice, item.Quantity,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) Items(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, name, unit_price, quantity FROM order_items WHERE order_id = ? ORDER BY id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Order, error) {
	q := sq.Select(orderColumns).
		From("orders").
		Where(sq.Eq{"customer_id": filter.CustomerID}).
		OrderBy("created_at DESC", "id DESC")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Cursor != nil {
		q = q.Where(sq.Or{
			sq.Lt{"created_at": filter.Cursor.CreatedAt},
			sq.And{
				sq.Eq{"created_at": filter.Cursor.CreatedAt},
				sq.Lt{"id": filter.Cursor.ID},
			},
		})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var orders []*domain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		status, at, at, id,
	).Error
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
		domain.PaymentCancelled, reason, at, at, id,
	).Error
}

func (r *repo) SetDeliveryStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.DeliveryStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET delivery_status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}
