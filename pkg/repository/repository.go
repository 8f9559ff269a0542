package repository

import (
	"context"

	"github.com/smallbiznis/storefront-ledger/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin CRUD store for configuration-style tables.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID any, fields map[string]any) (int64, error)
	Delete(ctx context.Context, resourceID any) (int64, error)
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
	BatchCreate(ctx context.Context, resources []*T) error
}
