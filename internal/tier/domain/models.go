package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tier is a loyalty band over trailing spend (minor currency units).
// MaxSpend is presentational; resolution only looks at MinSpend.
type Tier struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"type:text;not null;uniqueIndex" json:"name"`
	MinSpend         int64        `gorm:"not null" json:"min_spend"`
	MaxSpend         *int64       `json:"max_spend,omitempty"`
	PointsMultiplier float64      `gorm:"not null;default:1" json:"points_multiplier"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (Tier) TableName() string { return "tiers" }

// Progress is the customer-facing view of where a spend sits on the ladder.
type Progress struct {
	Spend           int64 `json:"spend"`
	Current         Tier  `json:"current"`
	Next            *Tier `json:"next,omitempty"`
	RemainingToNext int64 `json:"remaining_to_next"`
}
