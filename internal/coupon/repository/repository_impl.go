package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const definitionColumns = `id, redemption_rule_id, code, name, discount_value, min_order_value, points_cost, stock, active, created_at, updated_at`

const instanceColumns = `id, definition_id, customer_id, code, discount_value, min_order_value, issued_at, expires_at, is_used, order_id, used_at, archived_at`

func (r *repo) FindDefinitionByRule(ctx context.Context, db *gorm.DB, ruleID snowflake.ID) (*domain.Definition, error) {
	return r.findDefinition(ctx, db, "redemption_rule_id = ?", ruleID)
}

func (r *repo) FindDefinitionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Definition, error) {
	return r.findDefinition(ctx, db, "id = ?", id)
}

func (r *repo) findDefinition(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Definition, error) {
	var def domain.Definition
	err := db.WithContext(ctx).Raw(
		`SELECT `+definitionColumns+` FROM coupon_definitions WHERE `+where,
		arg,
	).Scan(&def).Error
	if err != nil {
		return nil, err
	}
	if def.ID == 0 {
		return nil, nil
	}
	return &def, nil
}

func (r *repo) FindDefinitionForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Definition, error) {
	var def domain.Definition
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

func (r *repo) InsertDefinition(ctx context.Context, db *gorm.DB, def *domain.Definition) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupon_definitions (`+definitionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		def.RedemptionRuleID,
		def.Code,
		def.Name,
		def.DiscountValue,
		def.MinOrderValue,
		def.PointsCost,
		def.Stock,
		def.Active,
		def.CreatedAt,
		def.UpdatedAt,
	).Error
}

func (r *repo) UpdateDefinition(ctx context.Context, db *gorm.DB, def *domain.Definition) error {
	return db.WithContext(ctx).Exec(
		`UPDATE coupon_definitions
		 SET name = ?, discount_value = ?, min_order_value = ?, points_cost = ?, stock = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		def.Name,
		def.DiscountValue,
		def.MinOrderValue,
		def.PointsCost,
		def.Stock,
		def.Active,
		def.UpdatedAt,
		def.ID,
	).Error
}

func (r *repo) ListDefinitions(ctx context.Context, db *gorm.DB) ([]domain.Definition, error) {
	var defs []domain.Definition
	err := db.WithContext(ctx).Raw(
		`SELECT ` + definitionColumns + ` FROM coupon_definitions ORDER BY created_at ASC, id ASC`,
	).Scan(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repo) DecrementStock(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupon_definitions SET stock = stock - 1, updated_at = ?
		 WHERE id = ? AND stock IS NOT NULL AND stock > 0`,
		at, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertInstance(ctx context.Context, db *gorm.DB, inst *domain.Instance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupon_instances (`+instanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.DefinitionID,
		inst.CustomerID,
		inst.Code,
		inst.DiscountValue,
		inst.MinOrderValue,
		inst.IssuedAt,
		inst.ExpiresAt,
		inst.IsUsed,
		inst.OrderID,
		inst.UsedAt,
		inst.ArchivedAt,
	).Error
}

func (r *repo) FindInstanceForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Instance, error) {
	var inst domain.Instance
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, id, orderID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupon_instances SET is_used = ?, order_id = ?, used_at = ?
		 WHERE id = ? AND is_used = ? AND order_id IS NULL`,
		true, orderID, at, id, false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE coupon_instances SET archived_at = ? WHERE id = ? AND archived_at IS NULL`,
		at, id,
	).Error
}

func (r *repo) DeleteInstance(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM coupon_instances WHERE id = ? AND is_used = ?`,
		id, false,
	).Error
}

func (r *repo) PendingOrderFor(ctx context.Context, db *gorm.DB, instanceID snowflake.ID, exceptOrderID snowflake.ID) (snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM orders WHERE coupon_instance_id = ? AND status = ? AND id <> ? ORDER BY id ASC LIMIT 1`,
		instanceID, orderdomain.PaymentPending, exceptOrderID,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// ListInventory pages by instance id descending; ids are time ordered.
func (r *repo) ListInventory(ctx context.Context, db *gorm.DB, filter domain.InventoryFilter) ([]*domain.InventoryItem, error) {
	q := sq.Select(
		"ci.id", "ci.definition_id", "ci.customer_id", "ci.code", "ci.discount_value",
		"ci.min_order_value", "ci.issued_at", "ci.expires_at", "ci.is_used", "ci.order_id",
		"ci.used_at", "ci.archived_at",
		"cd.name AS definition_name", "cd.code AS definition_code",
		"o.status AS order_status", "o.total AS order_total",
	).
		From("coupon_instances ci").
		Join("coupon_definitions cd ON cd.id = ci.definition_id").
		LeftJoin("orders o ON o.id = ci.order_id").
		OrderBy("ci.id DESC")

	if filter.CustomerID != 0 {
		q = q.Where(sq.Eq{"ci.customer_id": filter.CustomerID})
	}
	if filter.Used != nil {
		q = q.Where(sq.Eq{"ci.is_used": *filter.Used})
	}
	if !filter.IncludeArchived {
		q = q.Where(sq.Eq{"ci.archived_at": nil})
	}
	if filter.AfterID != 0 {
		q = q.Where(sq.Lt{"ci.id": filter.AfterID})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var items []*domain.InventoryItem
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
