package domain

import (
	"context"

	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"gorm.io/gorm"
)

type TierInput struct {
	Name             string
	MinSpend         int64
	MaxSpend         *int64
	PointsMultiplier float64
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB) ([]Tier, error)
	ReplaceAll(ctx context.Context, db *gorm.DB, tiers []Tier) error
}

type Service interface {
	List(ctx context.Context) ([]Tier, error)
	// Snapshot reads the ladder through db, which may be an open transaction.
	Snapshot(ctx context.Context, db *gorm.DB) ([]Tier, error)
	Replace(ctx context.Context, inputs []TierInput) ([]Tier, error)
}

var (
	ErrNoTiers           = fault.New(fault.KindValidation, "tiers_empty")
	ErrInvalidName       = fault.New(fault.KindValidation, "invalid_tier_name")
	ErrDuplicateName     = fault.New(fault.KindValidation, "duplicate_tier_name")
	ErrInvalidMultiplier = fault.New(fault.KindValidation, "invalid_points_multiplier")
	ErrInvalidRange      = fault.New(fault.KindValidation, "invalid_tier_range")
)
