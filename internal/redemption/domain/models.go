package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Rule prices a loyalty coupon in points. Rules are independent of each
// other.
type Rule struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Name          string       `gorm:"type:text;not null" json:"name"`
	PointsCost    int64        `gorm:"not null" json:"points_cost"`
	DiscountValue int64        `gorm:"not null" json:"discount_value"`
	MinOrderValue int64        `gorm:"not null;default:0" json:"min_order_value"`
	IsActive      bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (Rule) TableName() string { return "redemption_rules" }
