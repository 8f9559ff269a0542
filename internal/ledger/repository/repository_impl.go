package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const entryColumns = `id, customer_id, delta, operation, reason, bonus_key, order_id, metadata, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	// Create goes through the datatypes.JSONMap valuer for every dialect.
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ExistingBonusKeys(ctx context.Context, db *gorm.DB, customerID snowflake.ID, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var existing []string
	err := db.WithContext(ctx).Raw(
		`SELECT bonus_key FROM ledger_entries WHERE customer_id = ? AND bonus_key IN ?`,
		customerID, keys,
	).Scan(&existing).Error
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *repo) Sum(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE customer_id = ?`,
		customerID,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	q := sq.Select(entryColumns).
		From("ledger_entries").
		Where(sq.Eq{"customer_id": filter.CustomerID}).
		OrderBy("created_at DESC", "id DESC")
	if filter.Operation != "" {
		q = q.Where(sq.Eq{"operation": filter.Operation})
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

	var entries []*domain.Entry
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, op domain.Operation) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE order_id = ? AND operation = ?
		 ORDER BY id ASC`,
		orderID, op,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Compare(ctx context.Context, db *gorm.DB, customerIDs []snowflake.ID) ([]domain.Reconciliation, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	var rows []domain.Reconciliation
	err := db.WithContext(ctx).Raw(
		`SELECT c.id AS customer_id, c.points AS cached, COALESCE(SUM(l.delta), 0) AS ledger_sum
		 FROM customers c
		 LEFT JOIN ledger_entries l ON l.customer_id = c.id
		 WHERE c.id IN ?
		 GROUP BY c.id, c.points
		 ORDER BY c.id ASC`,
		customerIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
