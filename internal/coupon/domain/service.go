package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"gorm.io/gorm"
)

type DefinitionSpec struct {
	RedemptionRuleID snowflake.ID
	Name             string
	DiscountValue    int64
	MinOrderValue    int64
	PointsCost       int64
}

type UpdateDefinitionRequest struct {
	Active *bool `json:"active,omitempty"`
	// Stock set to a negative value clears tracking.
	Stock *int `json:"stock,omitempty"`
}

type CheckoutCoupon struct {
	InstanceID snowflake.ID
	CustomerID snowflake.ID
	Subtotal   int64
}

type ListRequest struct {
	CustomerID      string
	Used            *bool
	IncludeArchived bool
	PageToken       string
	PageSize        int32
}

type ListResponse struct {
	pagination.PageInfo
	Coupons []InventoryItem `json:"coupons"`
}

type InventoryFilter struct {
	CustomerID      snowflake.ID
	Used            *bool
	IncludeArchived bool
	AfterID         snowflake.ID
	Limit           int
}

type DeleteResult struct {
	InstanceID string `json:"instance_id"`
	Archived   bool   `json:"archived"`
}

type Repository interface {
	FindDefinitionByRule(ctx context.Context, db *gorm.DB, ruleID snowflake.ID) (*Definition, error)
	FindDefinitionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Definition, error)
	FindDefinitionForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Definition, error)
	InsertDefinition(ctx context.Context, db *gorm.DB, def *Definition) error
	UpdateDefinition(ctx context.Context, db *gorm.DB, def *Definition) error
	ListDefinitions(ctx context.Context, db *gorm.DB) ([]Definition, error)
	DecrementStock(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	InsertInstance(ctx context.Context, db *gorm.DB, inst *Instance) error
	FindInstanceForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Instance, error)
	// MarkUsed flips an unused instance; false means it was not unused.
	MarkUsed(ctx context.Context, db *gorm.DB, id, orderID snowflake.ID, at time.Time) (bool, error)
	Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	DeleteInstance(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// PendingOrderFor returns a pending order holding the instance, if any.
	PendingOrderFor(ctx context.Context, db *gorm.DB, instanceID snowflake.ID, exceptOrderID snowflake.ID) (snowflake.ID, error)
	ListInventory(ctx context.Context, db *gorm.DB, filter InventoryFilter) ([]*InventoryItem, error)
}

type Service interface {
	EnsureDefinition(ctx context.Context, tx *gorm.DB, spec DefinitionSpec) (Definition, error)
	Issue(ctx context.Context, tx *gorm.DB, def Definition, customerID snowflake.ID) (Instance, error)
	ValidateForCheckout(ctx context.Context, tx *gorm.DB, req CheckoutCoupon) (Instance, error)
	// MarkUsed binds the instance to orderID inside the confirming transaction.
	MarkUsed(ctx context.Context, tx *gorm.DB, instanceID, orderID snowflake.ID) (Instance, error)

	ListForCustomer(ctx context.Context, req ListRequest) (ListResponse, error)
	ListAll(ctx context.Context, req ListRequest) (ListResponse, error)
	Delete(ctx context.Context, instanceID string) (DeleteResult, error)
	ListDefinitions(ctx context.Context) ([]Definition, error)
	UpdateDefinition(ctx context.Context, id string, req UpdateDefinitionRequest) (Definition, error)
}

var (
	ErrInvalidID           = fault.New(fault.KindValidation, "invalid_coupon_id")
	ErrInvalidCustomer     = fault.New(fault.KindValidation, "invalid_customer_id")
	ErrInvalidPageToken    = fault.New(fault.KindValidation, "invalid_page_token")
	ErrInvalidDefinition   = fault.New(fault.KindValidation, "invalid_coupon_definition")
	ErrNotOwned            = fault.New(fault.KindValidation, "coupon_not_owned")
	ErrAlreadyUsed         = fault.New(fault.KindValidation, "coupon_already_used")
	ErrExpired             = fault.New(fault.KindValidation, "coupon_expired")
	ErrArchived            = fault.New(fault.KindValidation, "coupon_archived")
	ErrBelowMinimum        = fault.New(fault.KindValidation, "coupon_below_minimum")
	ErrReserved            = fault.New(fault.KindValidation, "coupon_reserved_by_pending_order")
	ErrDefinitionInactive  = fault.New(fault.KindValidation, "coupon_definition_inactive")
	ErrOutOfStock          = fault.New(fault.KindValidation, "coupon_out_of_stock")
	ErrInstanceNotFound    = fault.New(fault.KindNotFound, "coupon_not_found")
	ErrDefinitionNotFound  = fault.New(fault.KindNotFound, "coupon_definition_not_found")
	ErrAttachedToPending   = fault.New(fault.KindInvalidTransition, "coupon_attached_to_pending_order")
	ErrOwnedByOtherOrder   = fault.New(fault.KindConsistency, "coupon_owned_by_other_order")
	ErrUsedWithoutOrderRef = fault.New(fault.KindConsistency, "coupon_used_without_order")
)
