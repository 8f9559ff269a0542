package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"gorm.io/gorm"
)

type Repository interface {
	List(ctx context.Context, db *gorm.DB) ([]Setting, error)
	Upsert(ctx context.Context, db *gorm.DB, name string, value int64, at time.Time) error
}

type Service interface {
	// Snapshot reads settings through db, usually the caller's transaction.
	Snapshot(ctx context.Context, db *gorm.DB) (Config, error)
	Get(ctx context.Context) (Config, error)
	Update(ctx context.Context, values map[string]int64) (Config, error)
}

var (
	ErrUnknownKey   = fault.New(fault.KindValidation, "unknown_bonus_key")
	ErrInvalidValue = fault.New(fault.KindValidation, "invalid_bonus_value")
	ErrEmptyUpdate  = fault.New(fault.KindValidation, "empty_bonus_update")
)
