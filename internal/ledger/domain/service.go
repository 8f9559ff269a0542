package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"gorm.io/gorm"
)

type AdjustRequest struct {
	CustomerID string
	Delta      int64
	Reason     string
	ActorID    string
}

type ListEntriesRequest struct {
	CustomerID string
	Operation  string
	PageToken  string
	PageSize   int32
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type EntryCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	CustomerID snowflake.ID
	Operation  Operation
	Cursor     *EntryCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	ExistingBonusKeys(ctx context.Context, db *gorm.DB, customerID snowflake.ID, keys []string) ([]string, error)
	Sum(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, op Operation) ([]Entry, error)
	Compare(ctx context.Context, db *gorm.DB, customerIDs []snowflake.ID) ([]Reconciliation, error)
}

type Service interface {
	// Post applies postings atomically inside tx. The caller owns tx and must
	// call Invalidate after it commits.
	Post(ctx context.Context, tx *gorm.DB, req PostRequest) (PostResult, error)
	Adjust(ctx context.Context, req AdjustRequest) (PostResult, error)
	Balance(ctx context.Context, customerID snowflake.ID) (int64, error)
	History(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	EntriesForOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, op Operation) ([]Entry, error)
	Reconcile(ctx context.Context, customerID string) (Reconciliation, error)
	ReconcileAll(ctx context.Context) (ReconcileSummary, error)
	Invalidate(ctx context.Context, customerIDs ...snowflake.ID)
}

var (
	ErrInvalidCustomer    = fault.New(fault.KindValidation, "invalid_customer_id")
	ErrInvalidDelta       = fault.New(fault.KindValidation, "invalid_delta")
	ErrInvalidReason      = fault.New(fault.KindValidation, "invalid_reason")
	ErrInvalidOperation   = fault.New(fault.KindValidation, "invalid_operation")
	ErrEmptyPosting       = fault.New(fault.KindValidation, "empty_posting")
	ErrInvalidPageToken   = fault.New(fault.KindValidation, "invalid_page_token")
	ErrCustomerNotFound   = fault.New(fault.KindNotFound, "customer_not_found")
	ErrInsufficientPoints = fault.New(fault.KindInsufficientPoints, "insufficient_points")
	ErrBalanceMismatch    = fault.New(fault.KindConsistency, "ledger_balance_mismatch")
	ErrBalanceRace        = fault.New(fault.KindConsistency, "ledger_balance_race")
)
