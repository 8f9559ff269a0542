package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	// FindByIDForUpdate takes a row lock held until db commits.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*Customer, error)
	// SwapPoints writes next only if the stored balance is still prev.
	SwapPoints(ctx context.Context, db *gorm.DB, id snowflake.ID, prev, next int64, at time.Time) (bool, error)
	SetBirthday(ctx context.Context, db *gorm.DB, id snowflake.ID, birthday time.Time, at time.Time) error
	UpdateStanding(ctx context.Context, db *gorm.DB, id snowflake.ID, trailingSpend int64, tierID *snowflake.ID, at time.Time) error
	ListIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}
