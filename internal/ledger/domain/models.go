package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Operation string

const (
	OperationAccrual          Operation = "accrual"
	OperationRedemption       Operation = "redemption"
	OperationManualAdjustment Operation = "manual_adjustment"
	OperationReversal         Operation = "reversal"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationAccrual, OperationRedemption, OperationManualAdjustment, OperationReversal:
		return true
	default:
		return false
	}
}

// Entry is an immutable ledger row. A non-nil BonusKey is unique per customer
// and makes one-time grants idempotent.
type Entry struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_ledger_entries_bonus_key,priority:1" json:"customer_id"`
	Delta      int64             `gorm:"not null" json:"delta"`
	Operation  Operation         `gorm:"type:varchar(32);not null;index" json:"operation"`
	Reason     string            `gorm:"type:text;not null" json:"reason"`
	BonusKey   *string           `gorm:"type:varchar(128);uniqueIndex:ux_ledger_entries_bonus_key,priority:2" json:"bonus_key,omitempty"`
	OrderID    *snowflake.ID     `gorm:"index" json:"order_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Posting is one requested movement inside a PostRequest.
type Posting struct {
	Delta     int64
	Operation Operation
	Reason    string
	BonusKey  string
	OrderID   *snowflake.ID
	Metadata  map[string]any
}

type PostRequest struct {
	CustomerID snowflake.ID
	Postings   []Posting
	// AllowNegative lets reversals drive the balance below zero.
	AllowNegative bool
}

type PostResult struct {
	Entries         []Entry  `json:"entries"`
	SkippedKeys     []string `json:"skipped_keys,omitempty"`
	PreviousBalance int64    `json:"previous_balance"`
	Balance         int64    `json:"balance"`
}

type Reconciliation struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Cached     int64        `json:"cached"`
	LedgerSum  int64        `json:"ledger_sum"`
}

func (r Reconciliation) Consistent() bool {
	return r.Cached == r.LedgerSum
}

type ReconcileSummary struct {
	Checked    int              `json:"checked"`
	Mismatches []Reconciliation `json:"mismatches"`
}
