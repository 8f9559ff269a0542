package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"gorm.io/gorm"
)

// Order is the slice of a paid order the engine reads.
type Order struct {
	ID         snowflake.ID
	CustomerID snowflake.ID
	NetValue   int64
	CreatedAt  time.Time
}

type Result struct {
	Components    []Component          `json:"components"`
	Entries       []ledgerdomain.Entry `json:"entries"`
	Balance       int64                `json:"balance"`
	TrailingSpend int64                `json:"trailing_spend"`
	TierID        *snowflake.ID        `json:"tier_id,omitempty"`
	Ordinal       int                  `json:"ordinal"`
	// ReferrerID is set when this order granted the referral bonus.
	ReferrerID *snowflake.ID `json:"referrer_id,omitempty"`
}

// Touched lists the customers whose balance changed.
func (r Result) Touched(customerID snowflake.ID) []snowflake.ID {
	ids := []snowflake.ID{customerID}
	if r.ReferrerID != nil {
		ids = append(ids, *r.ReferrerID)
	}
	return ids
}

type SpendWindow struct {
	CustomerID snowflake.ID
	From       time.Time
	ExcludeID  snowflake.ID
}

type Repository interface {
	// TrailingSpend sums the accrual base of paid orders paid at or after
	// From, leaving out ExcludeID.
	TrailingSpend(ctx context.Context, db *gorm.DB, window SpendWindow) (int64, error)
	// PaidInRange counts paid orders created in [from, to).
	PaidInRange(ctx context.Context, db *gorm.DB, customerID snowflake.ID, from, to time.Time) (int, error)
	PaidCount(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int, error)
}

type Service interface {
	// Accrue runs inside the confirming transaction. The order must already
	// carry its paid status in tx.
	Accrue(ctx context.Context, tx *gorm.DB, order Order) (Result, error)
	// RefreshStanding recomputes cached trailing spend and tier reference.
	RefreshStanding(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) error
	// TrailingSpend sums the customer's paid spend inside the rolling window
	// ending now.
	TrailingSpend(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error)
}

func AccrualKey(orderID snowflake.ID, kind ComponentKind) string {
	return "accrual:" + orderID.String() + ":" + string(kind)
}

func ReferralKey(referredID snowflake.ID) string {
	return "referral:" + referredID.String()
}
