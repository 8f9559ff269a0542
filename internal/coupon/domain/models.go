package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Definition is a reusable discount template. Loyalty definitions are keyed
// by their redemption rule.
type Definition struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	RedemptionRuleID *snowflake.ID `gorm:"uniqueIndex" json:"redemption_rule_id,omitempty"`
	Code             string        `gorm:"type:varchar(96);not null;uniqueIndex" json:"code"`
	Name             string        `gorm:"type:text;not null" json:"name"`
	DiscountValue    int64         `gorm:"not null" json:"discount_value"`
	MinOrderValue    int64         `gorm:"not null;default:0" json:"min_order_value"`
	PointsCost       int64         `gorm:"not null;default:0" json:"points_cost"`
	// Stock is nil when issuance is unlimited.
	Stock     *int      `json:"stock,omitempty"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Definition) TableName() string { return "coupon_definitions" }

// Instance is one customer's single-use grant. Discount and minimum are
// copied from the definition at issuance. IsUsed holds exactly when OrderID
// is set.
type Instance struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	DefinitionID  snowflake.ID  `gorm:"not null;index" json:"definition_id"`
	CustomerID    snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	Code          string        `gorm:"type:varchar(128);not null;uniqueIndex" json:"code"`
	DiscountValue int64         `gorm:"not null" json:"discount_value"`
	MinOrderValue int64         `gorm:"not null;default:0" json:"min_order_value"`
	IssuedAt      time.Time     `gorm:"not null" json:"issued_at"`
	ExpiresAt     time.Time     `gorm:"not null" json:"expires_at"`
	IsUsed        bool          `gorm:"not null;default:false;check:ck_coupon_instances_used_order,(is_used AND order_id IS NOT NULL) OR (NOT is_used AND order_id IS NULL)" json:"is_used"`
	OrderID       *snowflake.ID `gorm:"uniqueIndex" json:"order_id,omitempty"`
	UsedAt        *time.Time    `json:"used_at,omitempty"`
	ArchivedAt    *time.Time    `json:"archived_at,omitempty"`
}

func (Instance) TableName() string { return "coupon_instances" }

func (i Instance) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// InventoryItem is the read model for coupon listings.
type InventoryItem struct {
	Instance
	DefinitionName string  `json:"definition_name"`
	DefinitionCode string  `json:"definition_code"`
	OrderStatus    *string `json:"order_status,omitempty"`
	OrderTotal     *int64  `json:"order_total,omitempty"`
}
